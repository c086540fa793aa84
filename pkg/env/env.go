package env

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv  string
	AppPort string
	TZ      string

	// JWT settings for optional websocket stream tokens.
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string

	RedisURL string

	MongoURI string
	DBName   string

	AITimeoutMs int

	// AI Provider API Keys
	OpenAIApiKey    string
	OpenAIModel     string
	OpenAIMaxTokens int

	// TTS
	OpenAITTSModel string
	OpenAITTSVoice string

	ElevenLabsApiKey  string
	ElevenLabsVoiceID string
	ElevenLabsModel   string

	// STT
	STTProvider     string
	WhisperModel    string
	WhisperLanguage string
	DeepgramApiKey  string
	DeepgramModel   string

	// Public HTTPS URL the carrier should connect back to (e.g.
	// https://api.example.com); the ws endpoint is derived from it.
	VoicebotBaseURL string

	// VAD tunables, applied per session.
	VADStrategies   string
	VADThreshold    float64
	VADMinSpeechMs  int
	VADMinSilenceMs int

	MaxUtteranceSec int
	MaxSessions     int
	APIRateLimitRPM int

	Greeting     string
	SystemPrompt string

	TranscriptDriver   string
	TranscriptDir      string
	TranscriptTTLHours int

	LogLevel           string
	CORSAllowedOrigins string

	OTELEndpoint string
	OTELEnabled  bool
}

func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// Try to load .env file, but don't fail if it doesn't exist
		// This allows the app to work with environment variables only (e.g., in production)
		if err := godotenv.Load(envFile); err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
			// File doesn't exist - continue without it, use environment variables
		}
	}

	cfg := &Config{
		AppEnv:  getEnv("APP_ENV", "development"),
		AppPort: getEnv("APP_PORT", "8080"),
		TZ:      getEnv("TZ", "Asia/Kolkata"),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", "troika-voice-bridge"),
		JWTAudience: getEnv("JWT_AUDIENCE", "troika-media-stream"),

		RedisURL: getEnv("REDIS_URL", ""),

		MongoURI: getEnv("MONGO_URI", ""),
		DBName:   getEnv("DB_NAME", "troika"),

		AITimeoutMs: getEnvInt("AI_TIMEOUT_MS", 15000),

		OpenAIApiKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:     getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIMaxTokens: getEnvInt("OPENAI_MAX_TOKENS", 300),

		OpenAITTSModel: getEnv("OPENAI_TTS_MODEL", "tts-1"),
		OpenAITTSVoice: getEnv("OPENAI_TTS_VOICE", "shimmer"),

		ElevenLabsApiKey:  getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsVoiceID: getEnv("ELEVENLABS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsModel:   getEnv("ELEVENLABS_MODEL", "eleven_multilingual_v2"),

		STTProvider:     getEnv("STT_PROVIDER", "whisper"),
		WhisperModel:    getEnv("WHISPER_MODEL", "whisper-1"),
		WhisperLanguage: getEnv("WHISPER_LANGUAGE", ""),
		DeepgramApiKey:  getEnv("DEEPGRAM_API_KEY", ""),
		DeepgramModel:   getEnv("DEEPGRAM_MODEL", "nova-2"),

		VoicebotBaseURL: getEnv("VOICEBOT_BASE_URL", ""),

		VADStrategies:   getEnv("VAD_STRATEGIES", "adaptive,zcr,rms"),
		VADThreshold:    getEnvFloat("VAD_THRESHOLD", 0.5),
		VADMinSpeechMs:  getEnvInt("VAD_MIN_SPEECH_MS", 240),
		VADMinSilenceMs: getEnvInt("VAD_MIN_SILENCE_MS", 500),

		MaxUtteranceSec: getEnvInt("MAX_UTTERANCE_SEC", 30),
		MaxSessions:     getEnvInt("MAX_SESSIONS", 60),
		APIRateLimitRPM: getEnvInt("API_RATE_LIMIT_RPM", 180),

		Greeting:     getEnv("GREETING", ""),
		SystemPrompt: getEnv("SYSTEM_PROMPT", ""),

		TranscriptDriver:   getEnv("TRANSCRIPT_DRIVER", "local"),
		TranscriptDir:      getEnv("TRANSCRIPT_DIR", "/data/transcripts"),
		TranscriptTTLHours: getEnvInt("TRANSCRIPT_TTL_HOURS", 24),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEndpoint: getEnv("OTEL_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

// VADStrategyList splits the comma-separated strategy order.
func (c *Config) VADStrategyList() []string {
	parts := strings.Split(c.VADStrategies, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strValue, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}
