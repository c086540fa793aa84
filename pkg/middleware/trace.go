package middleware

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

const (
	traceIDHeader   = "X-Trace-ID"
	requestIDHeader = "X-Request-ID"
)

// TraceMiddleware propagates an inbound trace ID (or mints one) and tags
// every request with a fresh request ID. Both are echoed back as response
// headers so call setup problems can be correlated with carrier logs.
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(traceIDHeader)
		if traceID == "" {
			traceID = newID()
		}
		requestID := newID()

		c.Set("trace_id", traceID)
		c.Set("request_id", requestID)

		c.Header(traceIDHeader, traceID)
		c.Header(requestIDHeader, requestID)

		c.Next()
	}
}

func newID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
