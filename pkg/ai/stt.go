package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/audio"
)

// STTService handles speech-to-text using OpenAI Whisper.
type STTService struct {
	apiKey          string
	defaultModel    string
	defaultLanguage string
	timeout         time.Duration
	logger          *zap.Logger
	baseURL         string
}

// NewSTTService creates a new STT service.
func NewSTTService(apiKey, model, language string, timeout time.Duration, logger *zap.Logger) *STTService {
	if apiKey == "" {
		return &STTService{logger: logger}
	}

	return &STTService{
		apiKey:          apiKey,
		defaultModel:    model,
		defaultLanguage: language,
		timeout:         timeout,
		logger:          logger,
		baseURL:         "https://api.openai.com/v1",
	}
}

// Name returns the provider name.
func (s *STTService) Name() string { return "whisper" }

// IsAvailable checks if the STT service is configured.
func (s *STTService) IsAvailable() bool { return s.apiKey != "" }

// Transcribe converts one utterance of 16-bit mono PCM to text. The PCM is
// wrapped in a WAV header since the transcription endpoint rejects raw
// sample data.
func (s *STTService) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if !s.IsAvailable() {
		return "", fmt.Errorf("STT service not available. Set OPENAI_API_KEY environment variable")
	}
	if len(pcm) == 0 {
		return "", fmt.Errorf("audio data cannot be empty")
	}

	model := s.defaultModel
	if model == "" {
		model = "whisper-1"
	}

	wavData := audio.EncodeWAV(pcm, sampleRate)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if s.defaultLanguage != "" {
		if err := writer.WriteField("language", s.defaultLanguage); err != nil {
			return "", fmt.Errorf("failed to write language field: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper API error: %d - %s", resp.StatusCode, string(respBody))
	}

	var whisperResp struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&whisperResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	return whisperResp.Text, nil
}
