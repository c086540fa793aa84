package session

import (
	"time"

	"github.com/google/uuid"
)

// Segment accumulates the caller's PCM for one utterance. A session holds
// at most one open segment; it is replaced, never reopened, when a turn
// completes.
type Segment struct {
	ID        string
	OpenedAt  time.Time // entered Listening
	StartedAt time.Time // first confirmed speech frame

	pcm []byte
}

func newSegment() *Segment {
	return &Segment{
		ID:       uuid.NewString(),
		OpenedAt: time.Now(),
	}
}

// MarkSpeech stamps the confirmed start of speech. Only the first call
// takes effect.
func (s *Segment) MarkSpeech() {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
}

// Append adds decoded service-rate PCM to the segment.
func (s *Segment) Append(pcm []byte) {
	s.pcm = append(s.pcm, pcm...)
}

// PCM returns the accumulated audio.
func (s *Segment) PCM() []byte { return s.pcm }

// Duration reports the captured audio length at the given sample rate.
func (s *Segment) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := len(s.pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
