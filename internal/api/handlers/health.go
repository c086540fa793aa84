package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status         string            `json:"status"`
	Timestamp      string            `json:"timestamp"`
	ActiveSessions int               `json:"active_sessions"`
	Services       map[string]string `json:"services"`
}

func (h *Handler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	services := map[string]string{
		"api": "healthy",
	}

	if h.redisClient != nil {
		if err := h.redisClient.Ping(ctx).Err(); err != nil {
			services["redis"] = "unhealthy"
		} else {
			services["redis"] = "healthy"
		}
	}

	if h.mongoClient != nil {
		if err := h.mongoClient.Ping(ctx); err != nil {
			services["database"] = "unhealthy"
		} else {
			services["database"] = "healthy"
		}
	}

	if h.transcriber != nil && h.transcriber.IsAvailable() {
		services["stt"] = "available"
	} else {
		services["stt"] = "unavailable"
	}
	if h.responder != nil && h.responder.IsAvailable() {
		services["llm"] = "available"
	} else {
		services["llm"] = "unavailable"
	}

	services["tts"] = "unavailable"
	for _, synth := range h.synths {
		if synth.IsAvailable() {
			services["tts"] = "available"
			break
		}
	}

	overallStatus := "healthy"
	for _, status := range services {
		if status == "unhealthy" {
			overallStatus = "degraded"
			break
		}
	}

	c.JSON(http.StatusOK, HealthResponse{
		Status:         overallStatus,
		Timestamp:      time.Now().Format(time.RFC3339),
		ActiveSessions: h.manager.Count(),
		Services:       services,
	})
}
