package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ChatService generates agent replies using OpenAI chat completions.
type ChatService struct {
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *zap.Logger
	baseURL   string
}

// NewChatService creates a new chat completion service.
func NewChatService(apiKey, model string, maxTokens int, timeout time.Duration, logger *zap.Logger) *ChatService {
	if apiKey == "" {
		return &ChatService{logger: logger}
	}

	return &ChatService{
		apiKey:    apiKey,
		model:     model,
		maxTokens: maxTokens,
		timeout:   timeout,
		logger:    logger,
		baseURL:   "https://api.openai.com/v1",
	}
}

// Name returns the provider name.
func (s *ChatService) Name() string { return "openai" }

// IsAvailable checks if the service is configured.
func (s *ChatService) IsAvailable() bool { return s.apiKey != "" }

// Generate produces the next agent reply from the conversation history.
func (s *ChatService) Generate(ctx context.Context, history []Message) (string, error) {
	if !s.IsAvailable() {
		return "", fmt.Errorf("chat service not available. Set OPENAI_API_KEY environment variable")
	}
	if len(history) == 0 {
		return "", fmt.Errorf("conversation history cannot be empty")
	}

	model := s.model
	if model == "" {
		model = "gpt-4o-mini"
	}
	maxTokens := s.maxTokens
	if maxTokens == 0 {
		// keep replies short enough to speak on a phone call
		maxTokens = 300
	}

	requestBody := map[string]interface{}{
		"model":       model,
		"messages":    history,
		"max_tokens":  maxTokens,
		"temperature": 0.7,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	client := &http.Client{Timeout: s.timeout}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("OpenAI API error: %d - %s", resp.StatusCode, string(body))
	}

	var chatResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	return strings.TrimSpace(chatResp.Choices[0].Message.Content), nil
}
