package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(opts...)
	t.Cleanup(m.Shutdown)
	return m
}

func TestManager_CreateAndGet(t *testing.T) {
	m := newTestManager(t)

	s := m.Create(context.Background(), "analyze the dataset")
	require.NotEmpty(t, s.ID)
	assert.Equal(t, "analyze the dataset", s.Query)
	assert.Equal(t, 1, m.Len())

	got, ok := m.Get(s.ID)
	require.True(t, ok)
	assert.Same(t, s, got)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManager_ContextDeadline(t *testing.T) {
	m := newTestManager(t, WithExpiration(time.Hour))

	s := m.Create(context.Background(), "q")
	deadline, ok := s.Context().Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, s.ExpiresAt, deadline, time.Second)
	assert.NoError(t, s.Context().Err())
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(t)

	s := m.Create(context.Background(), "q")
	m.Remove(s.ID)

	assert.Equal(t, 0, m.Len())
	assert.ErrorIs(t, s.Context().Err(), context.Canceled)

	// Removing twice is harmless.
	m.Remove(s.ID)
}

func TestManager_JanitorCancelsExpired(t *testing.T) {
	var mu sync.Mutex
	now := time.Now()
	m := newTestManager(t,
		WithExpiration(time.Minute),
		WithJanitorInterval(10*time.Millisecond))
	m.TimeFunc = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	s := m.Create(context.Background(), "q")

	// Jump past the expiration and wait for a sweep.
	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()

	require.Eventually(t, func() bool {
		return m.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, s.Context().Err())
}

func TestManager_ShutdownCancelsAll(t *testing.T) {
	m := NewManager(WithJanitorInterval(time.Hour))

	a := m.Create(context.Background(), "a")
	b := m.Create(context.Background(), "b")
	m.Shutdown()

	assert.ErrorIs(t, a.Context().Err(), context.Canceled)
	assert.ErrorIs(t, b.Context().Err(), context.Canceled)
	assert.Equal(t, 0, m.Len())

	// Idempotent.
	m.Shutdown()
}

func TestSession_Phase(t *testing.T) {
	m := newTestManager(t)
	s := m.Create(context.Background(), "q")

	assert.Empty(t, s.Phase())
	s.SetPhase("PLANNING")
	assert.Equal(t, "PLANNING", s.Phase())
}

func TestManager_DefaultJournal(t *testing.T) {
	m := newTestManager(t)
	require.NotNil(t, m.Journal())

	err := m.Journal().Append(context.Background(), "sess-1", Entry{
		Phase: "EXECUTION",
		Event: "node.completed",
	})
	require.NoError(t, err)

	history, err := m.Journal().History(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Len(t, history, 1)
}
