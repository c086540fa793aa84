// Package handlers exposes the carrier-facing HTTP surface: the connect
// bootstrap endpoint, the media-stream websocket and the health and
// metrics endpoints.
package handlers

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/internal/session"
	"github.com/troikatech/voice-bridge/pkg/ai"
	"github.com/troikatech/voice-bridge/pkg/env"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/mongo"
	"github.com/troikatech/voice-bridge/pkg/transcript"
)

type Handler struct {
	cfg         *env.Config
	redisClient *redis.Client
	mongoClient *mongo.Client
	logger      *zap.Logger
	manager     *session.Manager
	transcripts transcript.Reader // nil when no durable store is configured

	// provider handles for health reporting
	transcriber ai.Transcriber
	responder   ai.Responder
	synths      []ai.Synthesizer
}

func NewHandler(
	cfg *env.Config,
	redisClient *redis.Client,
	mongoClient *mongo.Client,
	manager *session.Manager,
	transcripts transcript.Reader,
	transcriber ai.Transcriber,
	responder ai.Responder,
	synths []ai.Synthesizer,
) *Handler {
	return &Handler{
		cfg:         cfg,
		redisClient: redisClient,
		mongoClient: mongoClient,
		logger:      logger.Log,
		manager:     manager,
		transcripts: transcripts,
		transcriber: transcriber,
		responder:   responder,
		synths:      synths,
	}
}
