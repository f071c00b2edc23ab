package scheduler

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestStore(t)
	s := New(db, time.Minute, func(context.Context) {})

	registered, err := s.Registered(ctx)
	require.NoError(t, err)
	assert.False(t, registered)

	require.NoError(t, s.Register(ctx))
	require.NoError(t, s.Register(ctx))

	registered, err = s.Registered(ctx)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestDeregisterToleratesAbsentRegistration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestStore(t)
	s := New(db, time.Minute, func(context.Context) {})

	// Never registered: still not an error.
	require.NoError(t, s.Deregister(ctx))

	require.NoError(t, s.Register(ctx))
	require.NoError(t, s.Deregister(ctx))
	require.NoError(t, s.Deregister(ctx))

	registered, err := s.Registered(ctx)
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestRegistrationSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	db, err := store.Open(path)
	require.NoError(t, err)
	s := New(db, time.Minute, func(context.Context) {})
	require.NoError(t, s.Register(ctx))
	require.NoError(t, db.Close())

	db, err = store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	reopened := New(db, time.Minute, func(context.Context) {})
	registered, err := reopened.Registered(ctx)
	require.NoError(t, err)
	assert.True(t, registered)
}

func TestRunInvokesJobOnlyWhileRegistered(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := newTestStore(t)

	var runs atomic.Int32
	s := New(db, 5*time.Millisecond, func(context.Context) {
		runs.Add(1)
	})

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	// Unregistered: ticks pass without running the job.
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, runs.Load())

	require.NoError(t, s.Register(ctx))
	assert.Eventually(t, func() bool {
		return runs.Load() > 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Deregister(ctx))
	time.Sleep(20 * time.Millisecond)
	settled := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, settled, runs.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on context cancellation")
	}
}
