package transcript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalStoreAppendAndClose(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	now := time.Now()
	utterances := []Utterance{
		{Speaker: SpeakerCaller, Text: "I already paid last week", Turn: 1, At: now},
		{Speaker: SpeakerAgent, Text: "Thank you, let me check that", Turn: 1, At: now},
		{Speaker: SpeakerCaller, Text: "okay", Turn: 2, At: now},
	}
	for _, u := range utterances {
		if err := store.Append(ctx, "CA123", u); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := store.Close(ctx, "CA123"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "transcription_CA123.txt"))
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("transcript has %d lines, want 3", len(lines))
	}
	if lines[0] != "[turn 1] caller: I already paid last week" {
		t.Errorf("first line = %q", lines[0])
	}
	if lines[1] != "[turn 1] agent: Thank you, let me check that" {
		t.Errorf("second line = %q", lines[1])
	}
}

func TestLocalStoreAppendAfterClose(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}

	ctx := context.Background()
	if err := store.Append(ctx, "CA9", Utterance{Speaker: SpeakerCaller, Text: "hello", Turn: 1}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := store.Close(ctx, "CA9"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// a turn that finished after hangup is still recorded
	if err := store.Append(ctx, "CA9", Utterance{Speaker: SpeakerAgent, Text: "goodbye", Turn: 1}); err != nil {
		t.Fatalf("Append() after Close error = %v", err)
	}
}

func TestLocalStoreCloseUnknownCall(t *testing.T) {
	store, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore() error = %v", err)
	}
	if err := store.Close(context.Background(), "never-seen"); err != nil {
		t.Errorf("Close() on unknown call = %v, want nil", err)
	}
}
