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

// ElevenLabsTTSService handles text-to-speech using ElevenLabs.
type ElevenLabsTTSService struct {
	apiKey  string
	voiceID string
	modelID string
	timeout time.Duration
	logger  *zap.Logger
	baseURL string
}

// NewElevenLabsTTSService creates a new ElevenLabs TTS service.
func NewElevenLabsTTSService(apiKey, voiceID, modelID string, timeout time.Duration, logger *zap.Logger) *ElevenLabsTTSService {
	if apiKey == "" {
		return &ElevenLabsTTSService{logger: logger}
	}

	return &ElevenLabsTTSService{
		apiKey:  apiKey,
		voiceID: voiceID,
		modelID: modelID,
		timeout: timeout,
		logger:  logger,
		baseURL: "https://api.elevenlabs.io/v1",
	}
}

// Name returns the provider name.
func (s *ElevenLabsTTSService) Name() string { return "elevenlabs" }

// IsAvailable checks if the service is configured.
func (s *ElevenLabsTTSService) IsAvailable() bool { return s.apiKey != "" }

// Synthesize renders text as 16-bit mono PCM at 16kHz using the pcm_16000
// output format, so no decode step is needed on the response.
func (s *ElevenLabsTTSService) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if !s.IsAvailable() {
		return nil, fmt.Errorf("ElevenLabs TTS service not available. Set ELEVENLABS_API_KEY environment variable")
	}
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	voiceID := s.voiceID
	if voiceID == "" {
		voiceID = "21m00Tcm4TlvDq8ikWAM" // Rachel
	}
	modelID := s.modelID
	if modelID == "" {
		modelID = "eleven_multilingual_v2"
	}

	requestBody := map[string]interface{}{
		"text":     text,
		"model_id": modelID,
		"voice_settings": map[string]interface{}{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/text-to-speech/%s?output_format=pcm_16000", s.baseURL, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("xi-api-key", s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ElevenLabs API error: %d - %s", resp.StatusCode, string(body))
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio response: %w", err)
	}
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}

	return pcm, nil
}
