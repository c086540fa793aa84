package ai

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
)

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, pcm []byte, rate int) (string, error) {
	return f.text, f.err
}
func (f *fakeTranscriber) IsAvailable() bool { return true }
func (f *fakeTranscriber) Name() string      { return "fake-stt" }

type fakeResponder struct {
	reply string
	err   error
}

func (f *fakeResponder) Generate(ctx context.Context, history []Message) (string, error) {
	return f.reply, f.err
}
func (f *fakeResponder) IsAvailable() bool { return true }
func (f *fakeResponder) Name() string      { return "fake-llm" }

type fakeSynthesizer struct {
	name      string
	available bool
	pcm       []byte
	err       error
	calls     int
}

func (f *fakeSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.calls++
	return f.pcm, f.err
}
func (f *fakeSynthesizer) IsAvailable() bool { return f.available }
func (f *fakeSynthesizer) Name() string      { return f.name }

func TestChainSynthesizeFallback(t *testing.T) {
	primary := &fakeSynthesizer{name: "primary", available: true, err: errors.New("quota exceeded")}
	backup := &fakeSynthesizer{name: "backup", available: true, pcm: []byte{1, 2, 3, 4}}

	chain := NewChain(&fakeTranscriber{}, &fakeResponder{}, []Synthesizer{primary, backup}, zap.NewNop())

	pcm, err := chain.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if len(pcm) != 4 {
		t.Errorf("pcm length = %d, want 4", len(pcm))
	}
	if primary.calls != 1 || backup.calls != 1 {
		t.Errorf("calls = %d/%d, want 1/1", primary.calls, backup.calls)
	}
}

func TestChainSynthesizeSkipsUnavailable(t *testing.T) {
	offline := &fakeSynthesizer{name: "offline", available: false}
	backup := &fakeSynthesizer{name: "backup", available: true, pcm: []byte{1, 2}}

	chain := NewChain(&fakeTranscriber{}, &fakeResponder{}, []Synthesizer{offline, backup}, zap.NewNop())

	if _, err := chain.Synthesize(context.Background(), "hello"); err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if offline.calls != 0 {
		t.Errorf("unavailable provider was called %d times", offline.calls)
	}
}

func TestChainErrorsCarryStage(t *testing.T) {
	chain := NewChain(
		&fakeTranscriber{err: errors.New("boom")},
		&fakeResponder{err: errors.New("boom")},
		[]Synthesizer{&fakeSynthesizer{name: "s", available: true, err: errors.New("boom")}},
		zap.NewNop(),
	)
	ctx := context.Background()

	_, err := chain.Transcribe(ctx, []byte{0, 0}, 16000)
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Stage != "transcription" {
		t.Errorf("Transcribe error = %v, want transcription ServiceError", err)
	}

	_, err = chain.Generate(ctx, []Message{{Role: RoleUser, Content: "hi"}})
	if !errors.As(err, &svcErr) || svcErr.Stage != "generation" {
		t.Errorf("Generate error = %v, want generation ServiceError", err)
	}

	_, err = chain.Synthesize(ctx, "hi")
	if !errors.As(err, &svcErr) || svcErr.Stage != "synthesis" {
		t.Errorf("Synthesize error = %v, want synthesis ServiceError", err)
	}
}
