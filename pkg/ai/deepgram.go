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
)

// DeepgramSTTService handles speech-to-text using the Deepgram prerecorded
// API. Selected over Whisper with STT_PROVIDER=deepgram; it takes raw PCM
// so no WAV wrapping is needed.
type DeepgramSTTService struct {
	apiKey   string
	model    string
	language string
	timeout  time.Duration
	logger   *zap.Logger
	baseURL  string
}

// NewDeepgramSTTService creates a new Deepgram STT service.
func NewDeepgramSTTService(apiKey, model, language string, timeout time.Duration, logger *zap.Logger) *DeepgramSTTService {
	if apiKey == "" {
		return &DeepgramSTTService{logger: logger}
	}

	return &DeepgramSTTService{
		apiKey:   apiKey,
		model:    model,
		language: language,
		timeout:  timeout,
		logger:   logger,
		baseURL:  "https://api.deepgram.com/v1",
	}
}

// Name returns the provider name.
func (s *DeepgramSTTService) Name() string { return "deepgram" }

// IsAvailable checks if the service is configured.
func (s *DeepgramSTTService) IsAvailable() bool { return s.apiKey != "" }

// Transcribe converts 16-bit mono PCM to text.
func (s *DeepgramSTTService) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if !s.IsAvailable() {
		return "", fmt.Errorf("Deepgram STT service not available. Set DEEPGRAM_API_KEY environment variable")
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("audio data cannot be empty")
	}

	model := s.model
	if model == "" {
		model = "nova-2"
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	url := fmt.Sprintf("%s/listen?model=%s&encoding=linear16&sample_rate=%d&punctuate=true",
		s.baseURL, model, sampleRate)
	if s.language != "" {
		url += "&language=" + s.language
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(pcm))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "audio/pcm")
	httpReq.Header.Set("Authorization", "Token "+s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Deepgram API error: %d - %s", resp.StatusCode, string(body))
	}

	var deepgramResp struct {
		Results struct {
			Channels []struct {
				Alternatives []struct {
					Transcript string  `json:"transcript"`
					Confidence float64 `json:"confidence"`
				} `json:"alternatives"`
			} `json:"channels"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&deepgramResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	if len(deepgramResp.Results.Channels) == 0 ||
		len(deepgramResp.Results.Channels[0].Alternatives) == 0 {
		return "", nil
	}
	return deepgramResp.Results.Channels[0].Alternatives[0].Transcript, nil
}
