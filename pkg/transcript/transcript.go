// Package transcript persists the per-call conversation record. Every
// completed turn appends one utterance for the caller and one for the
// agent; stores differ only in where the record lands.
package transcript

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Speaker identifies who produced an utterance.
type Speaker string

const (
	SpeakerCaller Speaker = "caller"
	SpeakerAgent  Speaker = "agent"
)

// Utterance is one line of the conversation.
type Utterance struct {
	Speaker Speaker   `json:"speaker" bson:"speaker"`
	Text    string    `json:"text" bson:"text"`
	Turn    int       `json:"turn" bson:"turn"`
	At      time.Time `json:"at" bson:"at"`
}

// Transcript is the full conversation record of one call.
type Transcript struct {
	CallSID    string      `json:"call_sid" bson:"call_sid"`
	StartedAt  time.Time   `json:"started_at" bson:"started_at"`
	EndedAt    *time.Time  `json:"ended_at,omitempty" bson:"ended_at,omitempty"`
	Utterances []Utterance `json:"utterances" bson:"utterances"`
}

// Turns reports the highest turn number recorded. The greeting is turn 0.
func (t *Transcript) Turns() int {
	max := 0
	for _, u := range t.Utterances {
		if u.Turn > max {
			max = u.Turn
		}
	}
	return max
}

// Store receives utterances as they are produced and a final close when
// the call ends. Implementations must tolerate Append after Close for the
// same call; late turns are kept, not dropped.
type Store interface {
	Append(ctx context.Context, callSID string, u Utterance) error
	Close(ctx context.Context, callSID string) error
}

// ErrNotFound is returned by a Reader when no record exists for the call.
var ErrNotFound = errors.New("transcript not found")

// Reader retrieves completed transcripts. Only durable stores implement it.
type Reader interface {
	Load(ctx context.Context, callSID string) (*Transcript, error)
}

// NopStore discards everything. Used when no persistence is configured.
type NopStore struct{}

func (NopStore) Append(context.Context, string, Utterance) error { return nil }
func (NopStore) Close(context.Context, string) error             { return nil }

// Multi fans out to several stores. A failing store is logged and skipped
// so one slow backend cannot lose the others' copy of the transcript.
type Multi struct {
	stores []Store
	logger *zap.Logger
}

// NewMulti builds a fan-out store.
func NewMulti(logger *zap.Logger, stores ...Store) *Multi {
	return &Multi{stores: stores, logger: logger}
}

// Append writes the utterance to every backend.
func (m *Multi) Append(ctx context.Context, callSID string, u Utterance) error {
	for _, s := range m.stores {
		if err := s.Append(ctx, callSID, u); err != nil {
			m.logger.Warn("transcript append failed",
				zap.String("call_sid", callSID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close finalizes the record in every backend.
func (m *Multi) Close(ctx context.Context, callSID string) error {
	for _, s := range m.stores {
		if err := s.Close(ctx, callSID); err != nil {
			m.logger.Warn("transcript close failed",
				zap.String("call_sid", callSID),
				zap.Error(err),
			)
		}
	}
	return nil
}
