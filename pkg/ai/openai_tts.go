package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/audio"
)

// openAITTSRate is the sample rate of the OpenAI pcm response format.
const openAITTSRate = 24000

// OpenAITTSService handles text-to-speech using the OpenAI speech endpoint.
type OpenAITTSService struct {
	apiKey  string
	model   string
	voice   string
	speed   float64
	timeout time.Duration
	logger  *zap.Logger
	baseURL string
}

// NewOpenAITTSService creates a new OpenAI TTS service.
func NewOpenAITTSService(apiKey, model, voice string, timeout time.Duration, logger *zap.Logger) *OpenAITTSService {
	if apiKey == "" {
		return &OpenAITTSService{logger: logger}
	}

	return &OpenAITTSService{
		apiKey:  apiKey,
		model:   model,
		voice:   voice,
		speed:   1.0,
		timeout: timeout,
		logger:  logger,
		baseURL: "https://api.openai.com/v1",
	}
}

// Name returns the provider name.
func (s *OpenAITTSService) Name() string { return "openai-tts" }

// IsAvailable checks if the service is configured.
func (s *OpenAITTSService) IsAvailable() bool { return s.apiKey != "" }

// Synthesize renders text as 16-bit mono PCM at 16kHz. The endpoint
// produces 24kHz PCM, which is resampled to the pipeline rate.
func (s *OpenAITTSService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.IsAvailable() {
		return nil, fmt.Errorf("OpenAI TTS service not available. Set OPENAI_API_KEY environment variable")
	}
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	model := s.model
	if model == "" {
		model = "tts-1"
	}
	voice := s.voice
	if voice == "" {
		voice = "shimmer"
	}

	requestBody := map[string]interface{}{
		"model":           model,
		"input":           text,
		"voice":           voice,
		"response_format": "pcm",
		"speed":           s.speed,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/audio/speech", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("OpenAI TTS API error: %d - %s", resp.StatusCode, string(body))
	}

	pcm24k, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(pcm24k)%2 != 0 {
		pcm24k = pcm24k[:len(pcm24k)-1]
	}

	return audio.Resample(pcm24k, openAITTSRate, 16000)
}
