package idle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/store"
)

// fakeController scripts the lifecycle slice the monitor consumes.
type fakeController struct {
	players    int
	playersErr error
	stopErr    error
	stopCalls  int
}

func (f *fakeController) PlayerCount(context.Context) (int, error) {
	if f.playersErr != nil {
		return 0, f.playersErr
	}
	return f.players, nil
}

func (f *fakeController) Stop(_ context.Context, requireRunning bool) (lifecycle.State, error) {
	if requireRunning {
		return "", errors.New("idle stop must not require a running server")
	}
	f.stopCalls++
	if f.stopErr != nil {
		return "", f.stopErr
	}
	return lifecycle.StateStopping, nil
}

type monitorHarness struct {
	monitor    *Monitor
	controller *fakeController
	db         *store.Store
	now        *time.Time
}

func newMonitorHarness(t *testing.T, timeoutMinutes int) *monitorHarness {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	controller := &fakeController{}
	monitor := NewMonitor(controller, db, timeoutMinutes)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	monitor.now = func() time.Time { return now }

	return &monitorHarness{monitor: monitor, controller: controller, db: db, now: &now}
}

func (h *monitorHarness) record(t *testing.T) TimerRecord {
	t.Helper()
	var record TimerRecord
	_, err := h.db.GetRecord(context.Background(), timerRecordKey, &record)
	require.NoError(t, err)
	return record
}

func TestCycleDisarmsWhenServerOffline(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)
	h.controller.playersErr = lifecycle.ErrServerNotRunning

	h.monitor.RunCycle(context.Background())

	record := h.record(t)
	assert.Nil(t, record.TimerStartedAt)
	assert.Equal(t, 0, record.LastPlayerCount)
	assert.Equal(t, *h.now, record.LastCheckedAt)
	assert.Equal(t, 0, h.controller.stopCalls)
}

func TestCycleArmsTimerOnFirstEmptyCheck(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)
	h.controller.players = 0

	h.monitor.RunCycle(context.Background())

	record := h.record(t)
	require.NotNil(t, record.TimerStartedAt)
	assert.Equal(t, *h.now, *record.TimerStartedAt)
	assert.Equal(t, 10, record.TimeoutMinutes)
	assert.Equal(t, 0, h.controller.stopCalls)
}

func TestCycleCancelsTimerWhenPlayersReturn(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)

	// Arm on an empty check, then a player joins.
	h.monitor.RunCycle(context.Background())
	require.NotNil(t, h.record(t).TimerStartedAt)

	h.controller.players = 3
	*h.now = h.now.Add(5 * time.Minute)
	h.monitor.RunCycle(context.Background())

	record := h.record(t)
	assert.Nil(t, record.TimerStartedAt)
	assert.Equal(t, 3, record.LastPlayerCount)
	assert.Equal(t, 0, h.controller.stopCalls)
}

func TestCycleKeepsArmedTimerBelowTimeout(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)

	h.monitor.RunCycle(context.Background())
	armedAt := *h.record(t).TimerStartedAt

	// Nine minutes in, the timer holds its original start.
	*h.now = h.now.Add(9 * time.Minute)
	h.monitor.RunCycle(context.Background())

	record := h.record(t)
	require.NotNil(t, record.TimerStartedAt)
	assert.Equal(t, armedAt, *record.TimerStartedAt)
	assert.Equal(t, *h.now, record.LastCheckedAt)
	assert.Equal(t, 0, h.controller.stopCalls)
}

func TestCycleStopsServerAfterTimeout(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)

	h.monitor.RunCycle(context.Background())

	*h.now = h.now.Add(11 * time.Minute)
	h.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, h.controller.stopCalls)
	record := h.record(t)
	assert.Nil(t, record.TimerStartedAt)
}

func TestCycleStopsExactlyAtTimeout(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)

	h.monitor.RunCycle(context.Background())

	*h.now = h.now.Add(10 * time.Minute)
	h.monitor.RunCycle(context.Background())

	assert.Equal(t, 1, h.controller.stopCalls)
}

func TestCycleKeepsTimerArmedWhenStopFails(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)
	h.controller.stopErr = errors.New("compute api down")

	h.monitor.RunCycle(context.Background())
	armedAt := *h.record(t).TimerStartedAt

	*h.now = h.now.Add(11 * time.Minute)
	h.monitor.RunCycle(context.Background())

	// The failed stop leaves the record armed so the next tick retries.
	assert.Equal(t, 1, h.controller.stopCalls)
	record := h.record(t)
	require.NotNil(t, record.TimerStartedAt)
	assert.Equal(t, armedAt, *record.TimerStartedAt)

	// A later tick succeeds and clears the timer.
	h.controller.stopErr = nil
	*h.now = h.now.Add(time.Minute)
	h.monitor.RunCycle(context.Background())
	assert.Equal(t, 2, h.controller.stopCalls)
	assert.Nil(t, h.record(t).TimerStartedAt)
}

func TestCycleSurvivesPlayerCountErrors(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)
	h.controller.playersErr = errors.New("game api timeout")

	// No record yet and the check failed: the cycle logs and yields.
	h.monitor.RunCycle(context.Background())

	_, err := h.db.GetRecord(context.Background(), timerRecordKey, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// conflictingState wraps a StateStore, failing the first conditional write
// to simulate a concurrent invocation winning the race.
type conflictingState struct {
	store.StateStore
	conflicts int
}

func (c *conflictingState) PutRecord(ctx context.Context, key string, value any, expectedVersion uint64) error {
	if c.conflicts > 0 {
		c.conflicts--
		return store.ErrVersionConflict
	}
	return c.StateStore.PutRecord(ctx, key, value, expectedVersion)
}

func TestCycleYieldsOnVersionConflict(t *testing.T) {
	t.Parallel()
	h := newMonitorHarness(t, 10)
	state := &conflictingState{StateStore: h.db, conflicts: 1}
	monitor := NewMonitor(h.controller, state, 10)
	monitor.now = h.monitor.now

	// The losing invocation must not persist anything or stop the server.
	monitor.RunCycle(context.Background())

	_, err := h.db.GetRecord(context.Background(), timerRecordKey, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Equal(t, 0, h.controller.stopCalls)
}
