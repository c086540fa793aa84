package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// LocalStore appends transcripts to one plain-text file per call under a
// configured directory. Useful in development and as a last-resort record
// when no database is reachable.
type LocalStore struct {
	dir string

	mu    sync.Mutex
	files map[string]*os.File
}

// NewLocalStore creates the directory if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &LocalStore{dir: dir, files: make(map[string]*os.File)}, nil
}

// Append writes one line: "[turn N] speaker: text".
func (s *LocalStore) Append(_ context.Context, callSID string, u Utterance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[callSID]
	if !ok {
		var err error
		path := filepath.Join(s.dir, fmt.Sprintf("transcription_%s.txt", callSID))
		f, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open transcript file: %w", err)
		}
		s.files[callSID] = f
	}

	_, err := fmt.Fprintf(f, "[turn %d] %s: %s\n", u.Turn, u.Speaker, u.Text)
	return err
}

// Close flushes and releases the call's file handle.
func (s *LocalStore) Close(_ context.Context, callSID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.files[callSID]
	if !ok {
		return nil
	}
	delete(s.files, callSID)
	return f.Close()
}
