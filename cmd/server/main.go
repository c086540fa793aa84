package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/internal/api/handlers"
	"github.com/troikatech/voice-bridge/internal/session"
	"github.com/troikatech/voice-bridge/pkg/ai"
	"github.com/troikatech/voice-bridge/pkg/env"
	"github.com/troikatech/voice-bridge/pkg/logger"
	"github.com/troikatech/voice-bridge/pkg/middleware"
	"github.com/troikatech/voice-bridge/pkg/mongo"
	"github.com/troikatech/voice-bridge/pkg/otel"
	"github.com/troikatech/voice-bridge/pkg/transcript"
)

func main() {
	cfg, err := env.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := logger.Init(cfg.LogLevel, cfg.AppEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize OpenTelemetry if enabled
	if cfg.OTELEnabled {
		shutdown, err := otel.InitTracing("voice-bridge", "1.0.0", cfg.OTELEndpoint)
		if err != nil {
			logger.Log.Warn("Failed to initialize OpenTelemetry", zap.Error(err))
		} else {
			defer shutdown()
			logger.Log.Info("OpenTelemetry tracing enabled", zap.String("endpoint", cfg.OTELEndpoint))
		}
	}

	logger.Log.Info("Starting Voice Bridge",
		zap.String("env", cfg.AppEnv),
		zap.String("port", cfg.AppPort),
	)

	// Redis is optional: transcripts fall back to the local driver and
	// rate limiting is skipped when it is not configured.
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Log.Fatal("Failed to parse Redis URL", zap.Error(err))
		}
		redisClient = redis.NewClient(opt)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Log.Warn("Redis unreachable at startup", zap.Error(err))
		}
		cancel()
		defer redisClient.Close()
	}

	// MongoDB is optional as well; call records and the mongo transcript
	// driver are disabled without it.
	var mongoClient *mongo.Client
	if cfg.MongoURI != "" {
		mongoClient, err = mongo.NewClient(cfg.MongoURI, cfg.DBName)
		if err != nil {
			logger.Log.Fatal("Failed to connect to MongoDB", zap.Error(err))
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := mongoClient.Disconnect(ctx); err != nil {
				logger.Log.Warn("Failed to disconnect MongoDB", zap.Error(err))
			}
		}()
	}

	timeout := time.Duration(cfg.AITimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	transcriber := buildTranscriber(cfg, timeout)
	if transcriber.IsAvailable() {
		logger.Log.Info("STT service initialized", zap.String("provider", transcriber.Name()))
	} else {
		logger.Log.Warn("STT service has no API key configured", zap.String("provider", transcriber.Name()))
	}

	responder := ai.NewChatService(cfg.OpenAIApiKey, cfg.OpenAIModel, cfg.OpenAIMaxTokens, timeout, logger.Log)
	if responder.IsAvailable() {
		logger.Log.Info("Chat service initialized", zap.String("model", cfg.OpenAIModel))
	}

	synths := buildSynthesizers(cfg, timeout)
	if len(synths) == 0 {
		logger.Log.Warn("No TTS provider configured - sessions will run without audio replies")
	}

	chain := ai.NewChain(transcriber, responder, synths, logger.Log)

	store, reader, err := buildTranscriptStore(cfg, redisClient, mongoClient)
	if err != nil {
		logger.Log.Fatal("Failed to create transcript store", zap.Error(err))
	}
	logger.Log.Info("Transcript store initialized", zap.String("driver", cfg.TranscriptDriver))

	manager := session.NewManager(chain, store, logger.Log)

	handler := handlers.NewHandler(cfg, redisClient, mongoClient, manager, reader, transcriber, responder, synths)

	router := setupRouter(cfg, redisClient, handler)

	srv := &http.Server{
		Addr:        ":" + cfg.AppPort,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// Websocket streams are long-lived; write timeouts are managed
		// per connection, not at the server level.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logger.Log.Info("Voice Bridge listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	// Terminate live call sessions after the listener stops accepting new
	// ones, so in-flight turns get a chance to finish their transcripts.
	manager.Shutdown(shutdownCtx)

	logger.Log.Info("Server exited")
}

func buildTranscriber(cfg *env.Config, timeout time.Duration) ai.Transcriber {
	switch strings.ToLower(cfg.STTProvider) {
	case "deepgram":
		return ai.NewDeepgramSTTService(cfg.DeepgramApiKey, cfg.DeepgramModel, cfg.WhisperLanguage, timeout, logger.Log)
	default:
		return ai.NewSTTService(cfg.OpenAIApiKey, cfg.WhisperModel, cfg.WhisperLanguage, timeout, logger.Log)
	}
}

// buildSynthesizers returns the TTS fallback order: ElevenLabs first when
// configured, OpenAI TTS as the backup voice.
func buildSynthesizers(cfg *env.Config, timeout time.Duration) []ai.Synthesizer {
	var synths []ai.Synthesizer
	if cfg.ElevenLabsApiKey != "" {
		synths = append(synths, ai.NewElevenLabsTTSService(cfg.ElevenLabsApiKey, cfg.ElevenLabsVoiceID, cfg.ElevenLabsModel, timeout, logger.Log))
		logger.Log.Info("ElevenLabs TTS initialized", zap.String("voice_id", cfg.ElevenLabsVoiceID))
	}
	if cfg.OpenAIApiKey != "" {
		synths = append(synths, ai.NewOpenAITTSService(cfg.OpenAIApiKey, cfg.OpenAITTSModel, cfg.OpenAITTSVoice, timeout, logger.Log))
		logger.Log.Info("OpenAI TTS initialized", zap.String("voice", cfg.OpenAITTSVoice))
	}
	return synths
}

// buildTranscriptStore returns the write-side store plus a reader for the
// retrieval endpoint when a durable (mongo) backend is in the chain.
func buildTranscriptStore(cfg *env.Config, redisClient *redis.Client, mongoClient *mongo.Client) (transcript.Store, transcript.Reader, error) {
	ttl := time.Duration(cfg.TranscriptTTLHours) * time.Hour

	switch driver := strings.ToLower(cfg.TranscriptDriver); driver {
	case "local":
		store, err := transcript.NewLocalStore(cfg.TranscriptDir)
		return store, nil, err
	case "redis":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("transcript driver redis requires REDIS_URL")
		}
		return transcript.NewRedisStore(redisClient, ttl), nil, nil
	case "mongo":
		if mongoClient == nil {
			return nil, nil, fmt.Errorf("transcript driver mongo requires MONGO_URI")
		}
		store := transcript.NewMongoStore(mongoClient.Database())
		return store, store, nil
	case "nop", "none":
		return transcript.NopStore{}, nil, nil
	case "multi":
		// fan out to every backend that is actually configured
		local, err := transcript.NewLocalStore(cfg.TranscriptDir)
		if err != nil {
			return nil, nil, err
		}
		stores := []transcript.Store{local}
		var reader transcript.Reader
		if redisClient != nil {
			stores = append(stores, transcript.NewRedisStore(redisClient, ttl))
		}
		if mongoClient != nil {
			mongoStore := transcript.NewMongoStore(mongoClient.Database())
			stores = append(stores, mongoStore)
			reader = mongoStore
		}
		return transcript.NewMulti(logger.Log, stores...), reader, nil
	default:
		return nil, nil, fmt.Errorf("unknown transcript driver %q", driver)
	}
}

func setupRouter(cfg *env.Config, redisClient *redis.Client, handler *handlers.Handler) *gin.Engine {
	if cfg.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.TraceMiddleware())

	if cfg.OTELEnabled {
		router.Use(otel.GinMiddleware())
	}

	router.Use(gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		return fmt.Sprintf("[%s] %s %s %d %s\n",
			param.TimeStamp.Format(time.RFC3339),
			param.Method,
			param.Path,
			param.StatusCode,
			param.Latency,
		)
	}))

	// CORS
	corsConfig := cors.DefaultConfig()
	if cfg.CORSAllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = []string{cfg.CORSAllowedOrigins}
	}
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", handler.HealthCheck)
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", handler.GetMetrics)
	router.GET("/metrics/prometheus", handler.GetPrometheusMetrics)

	// Carrier-facing endpoints (public, no auth; the ws URL carries an
	// optional signed stream token instead).
	connect := router.Group("/voicebot")
	if redisClient != nil {
		rateLimiter := middleware.NewRateLimiter(redisClient, cfg.APIRateLimitRPM)
		connect.Use(rateLimiter.Middleware())
	}
	// Carriers may hit the bootstrap endpoint with either verb.
	connect.GET("/connect", handler.ConnectEndpoint)
	connect.POST("/connect", handler.ConnectEndpoint)

	router.GET("/voicebot/ws", handler.MediaStreamWebSocket)

	router.GET("/calls/:call_sid/transcript", handler.GetTranscript)

	return router
}
