package session

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/troikatech/voice-bridge/pkg/ai"
	"github.com/troikatech/voice-bridge/pkg/metrics"
	"github.com/troikatech/voice-bridge/pkg/transcript"
)

// DuplicateSessionError reports a Create for a stream that is already
// registered. The existing session is left untouched.
type DuplicateSessionError struct {
	StreamSID string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session already exists for stream %s", e.StreamSID)
}

// UnknownSessionError reports a dispatch to a stream with no live session,
// including streams that have already terminated.
type UnknownSessionError struct {
	StreamSID string
}

func (e *UnknownSessionError) Error() string {
	return fmt.Sprintf("no session for stream %s", e.StreamSID)
}

// Manager is the registry of live sessions, keyed by stream SID. All
// methods are safe for concurrent use.
type Manager struct {
	pipeline ai.Pipeline
	store    transcript.Store
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds an empty registry.
func NewManager(pipeline ai.Pipeline, store transcript.Store, logger *zap.Logger) *Manager {
	return &Manager{
		pipeline: pipeline,
		store:    store,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Create registers and starts a new session. Exactly one caller wins when
// two starts race on the same stream SID; the loser gets a
// DuplicateSessionError.
func (m *Manager) Create(cfg Config, transport Transport) (*Session, error) {
	if cfg.StreamSID == "" {
		return nil, fmt.Errorf("stream SID is required")
	}

	s := New(cfg, m.pipeline, transport, m.store, m.logger)

	m.mu.Lock()
	if _, exists := m.sessions[cfg.StreamSID]; exists {
		m.mu.Unlock()
		return nil, &DuplicateSessionError{StreamSID: cfg.StreamSID}
	}
	m.sessions[cfg.StreamSID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.RecordSessionStarted()
	m.logger.Info("session created",
		zap.String("stream_sid", cfg.StreamSID),
		zap.String("call_sid", cfg.CallSID),
		zap.Int("active_sessions", count),
	)

	s.Start()
	return s, nil
}

// Dispatch routes one inbound media payload to its session. A session that
// terminated on its own (for example after a transport failure) is pruned
// here and reported as unknown.
func (m *Manager) Dispatch(streamSID, payload string) error {
	m.mu.RLock()
	s, ok := m.sessions[streamSID]
	m.mu.RUnlock()

	if !ok {
		return &UnknownSessionError{StreamSID: streamSID}
	}
	if s.State() == StateTerminated {
		m.remove(streamSID)
		return &UnknownSessionError{StreamSID: streamSID}
	}

	return s.HandleMedia(payload)
}

// Get returns the live session for a stream, or nil.
func (m *Manager) Get(streamSID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[streamSID]
}

// Count reports the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Terminate ends a session and removes it from the registry. Unknown
// streams are a no-op: hangup events arrive at-least-once.
func (m *Manager) Terminate(streamSID string) {
	m.mu.Lock()
	s, ok := m.sessions[streamSID]
	if ok {
		delete(m.sessions, streamSID)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Terminate("stream stopped")
}

func (m *Manager) remove(streamSID string) {
	m.mu.Lock()
	delete(m.sessions, streamSID)
	m.mu.Unlock()
}

// Shutdown terminates every session and waits for in-flight turn work,
// bounded by the context.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Terminate("server shutdown")
	}

	done := make(chan struct{})
	go func() {
		for _, s := range sessions {
			s.Wait()
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached with turn work still in flight")
	case <-done:
	}
}
