package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/errors"
	"github.com/troikatech/voice-bridge/pkg/transcript"
)

// GetTranscript returns the recorded conversation for a finished call.
func (h *Handler) GetTranscript(c *gin.Context) {
	callSid := c.Param("call_sid")
	if callSid == "" {
		errors.BadRequest(c, "call_sid is required")
		return
	}

	if h.transcripts == nil {
		errors.ErrorResponse(c, http.StatusNotImplemented,
			"Not Implemented", "no durable transcript store is configured")
		return
	}

	t, err := h.transcripts.Load(c.Request.Context(), callSid)
	if err != nil {
		if stderrors.Is(err, transcript.ErrNotFound) {
			errors.NotFound(c, "no transcript for this call")
			return
		}
		h.logger.Error("transcript load failed",
			zap.String("call_sid", callSid),
			zap.Error(err),
		)
		errors.InternalError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"call_sid":   t.CallSID,
		"started_at": t.StartedAt,
		"ended_at":   t.EndedAt,
		"turns":      t.Turns(),
		"utterances": t.Utterances,
	})
}
