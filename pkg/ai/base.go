// Package ai holds the external speech and language collaborators of the
// audio bridge: transcription, response generation and speech synthesis.
// All providers are opaque request/response clients; the bridge treats
// their failures as recoverable per turn.
package ai

import (
	"context"
	"fmt"
)

// Message is one role-tagged entry of a conversation history.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcriber converts one utterance of 16-bit mono PCM to text. Empty text
// without an error means silence or unintelligible audio; both are
// recoverable.
type Transcriber interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	IsAvailable() bool
	Name() string
}

// Responder generates the next agent reply from the conversation so far.
type Responder interface {
	Generate(ctx context.Context, history []Message) (string, error)
	IsAvailable() bool
	Name() string
}

// Synthesizer renders text as 16-bit mono PCM at 16kHz.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	IsAvailable() bool
	Name() string
}

// Pipeline is the composed STT -> LLM -> TTS chain a call session drives at
// each utterance boundary.
type Pipeline interface {
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)
	Generate(ctx context.Context, history []Message) (string, error)
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// ServiceError wraps a failure of one pipeline stage.
type ServiceError struct {
	Stage string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s service: %v", e.Stage, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
