package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestManager() *Manager {
	return NewManager(&fakePipeline{}, &recordingStore{}, zap.NewNop())
}

func TestManagerCreateDuplicate(t *testing.T) {
	m := newTestManager()

	_, err := m.Create(testConfig("MS100"), &fakeTransport{})
	require.NoError(t, err)

	_, err = m.Create(testConfig("MS100"), &fakeTransport{})
	var dupErr *DuplicateSessionError
	require.ErrorAs(t, err, &dupErr)
	require.Equal(t, "MS100", dupErr.StreamSID)
	require.Equal(t, 1, m.Count())
}

func TestManagerCreateRace(t *testing.T) {
	m := newTestManager()

	const racers = 10
	var wg sync.WaitGroup
	errs := make(chan error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Create(testConfig("MS101"), &fakeTransport{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var created, duplicates int
	for err := range errs {
		if err == nil {
			created++
			continue
		}
		var dupErr *DuplicateSessionError
		require.ErrorAs(t, err, &dupErr)
		duplicates++
	}

	require.Equal(t, 1, created)
	require.Equal(t, racers-1, duplicates)
	require.Equal(t, 1, m.Count())
}

func TestManagerDispatchUnknownStream(t *testing.T) {
	m := newTestManager()

	err := m.Dispatch("never-started", speechPayload(t))
	var unknownErr *UnknownSessionError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, "never-started", unknownErr.StreamSID)
}

func TestManagerDispatchAfterTerminate(t *testing.T) {
	m := newTestManager()

	_, err := m.Create(testConfig("MS102"), &fakeTransport{})
	require.NoError(t, err)

	m.Terminate("MS102")

	err = m.Dispatch("MS102", speechPayload(t))
	var unknownErr *UnknownSessionError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, 0, m.Count())
}

func TestManagerTerminateUnknownIsNoOp(t *testing.T) {
	m := newTestManager()
	m.Terminate("never-started")
	m.Terminate("never-started")
	require.Equal(t, 0, m.Count())
}

func TestManagerPrunesSelfTerminatedSession(t *testing.T) {
	m := newTestManager()

	s, err := m.Create(testConfig("MS103"), &fakeTransport{})
	require.NoError(t, err)

	// the session died on its own, e.g. after a transport failure
	s.Terminate("transport failure")

	err = m.Dispatch("MS103", speechPayload(t))
	var unknownErr *UnknownSessionError
	require.ErrorAs(t, err, &unknownErr)
	require.Equal(t, 0, m.Count())
}

func TestManagerShutdown(t *testing.T) {
	m := newTestManager()

	s1, err := m.Create(testConfig("MS104"), &fakeTransport{})
	require.NoError(t, err)
	s2, err := m.Create(testConfig("MS105"), &fakeTransport{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)

	require.Equal(t, 0, m.Count())
	require.Equal(t, StateTerminated, s1.State())
	require.Equal(t, StateTerminated, s2.State())
}
