// Package idle implements the idle-shutdown state machine: a scheduled,
// stateless cycle over a persisted singleton timer record that stops the
// server once the player count has been zero for the configured period.
package idle

import (
	"context"
	"errors"
	"time"

	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/store"
)

// timerRecordKey is the fixed key of the singleton timer record.
const timerRecordKey = "idle/shutdown-timer"

// TimerRecord is the persisted idle timer. TimerStartedAt is set while the
// timer is armed (player count has been zero continuously since then) and
// nil while idle.
type TimerRecord struct {
	TimerStartedAt  *time.Time `json:"timerStartedAt,omitempty"`
	TimeoutMinutes  int        `json:"timeoutMinutes"`
	LastPlayerCount int        `json:"lastPlayerCount"`
	LastCheckedAt   time.Time  `json:"lastCheckedAt"`
}

// ServerController is the slice of the lifecycle controller the monitor
// needs: reading liveness and triggering the idle stop path.
type ServerController interface {
	PlayerCount(ctx context.Context) (int, error)
	Stop(ctx context.Context, requireRunning bool) (lifecycle.State, error)
}

// Monitor runs the idle-shutdown cycle. Each invocation is independent and
// stateless; all state lives in the persisted timer record.
type Monitor struct {
	controller     ServerController
	state          store.StateStore
	timeoutMinutes int

	// now is swappable for tests
	now func() time.Time
}

// NewMonitor creates a monitor that stops the server after timeoutMinutes
// of continuous zero-player time.
func NewMonitor(controller ServerController, state store.StateStore, timeoutMinutes int) *Monitor {
	return &Monitor{
		controller:     controller,
		state:          state,
		timeoutMinutes: timeoutMinutes,
		now:            time.Now,
	}
}

// RunCycle executes one monitor cycle. Errors never escape: they are logged
// and the cycle yields, relying on the scheduler to retry on the next tick.
// The monitor must never be able to take the scheduling mechanism down.
func (m *Monitor) RunCycle(ctx context.Context) {
	if err := m.runCycle(ctx); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// A concurrent invocation already persisted this transition.
			logger.Debug("Idle cycle yielded to a concurrent invocation")
			return
		}
		logger.Errorf("Idle cycle failed, will retry next tick: %v", err)
	}
}

func (m *Monitor) runCycle(ctx context.Context) error {
	var record TimerRecord
	version, err := m.state.GetRecord(ctx, timerRecordKey, &record)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if errors.Is(err, store.ErrNotFound) {
		version = 0
	}

	now := m.now()
	record.TimeoutMinutes = m.timeoutMinutes
	record.LastCheckedAt = now

	players, err := m.controller.PlayerCount(ctx)
	if err != nil {
		if errors.Is(err, lifecycle.ErrServerNotRunning) {
			// Server offline: disarm and record the check.
			record.TimerStartedAt = nil
			record.LastPlayerCount = 0
			return m.persist(ctx, &record, version)
		}
		return err
	}

	if players > 0 {
		record.LastPlayerCount = players
		if record.TimerStartedAt != nil {
			logger.Infof("Players present (%d), cancelling idle timer", players)
			record.TimerStartedAt = nil
		}
		return m.persist(ctx, &record, version)
	}

	record.LastPlayerCount = 0
	if record.TimerStartedAt == nil {
		// Arm: start counting idle time from now.
		record.TimerStartedAt = &now
		logger.Infof("Server idle, arming shutdown timer (%d minutes)", m.timeoutMinutes)
		return m.persist(ctx, &record, version)
	}

	elapsed := now.Sub(*record.TimerStartedAt)
	timeout := time.Duration(m.timeoutMinutes) * time.Minute
	if elapsed < timeout {
		// Heartbeat: keep the armed timer, refresh the check fields.
		return m.persist(ctx, &record, version)
	}

	logger.Infof("Idle for %s (timeout %s), stopping server", elapsed.Round(time.Second), timeout)
	if _, err := m.controller.Stop(ctx, false); err != nil {
		// Leave the record armed; the next tick retries the stop.
		return err
	}

	record.TimerStartedAt = nil
	return m.persist(ctx, &record, version)
}

// persist writes the record conditional on the version read at the start of
// the cycle, so overlapping invocations cannot overwrite each other's
// transition.
func (m *Monitor) persist(ctx context.Context, record *TimerRecord, version uint64) error {
	return m.state.PutRecord(ctx, timerRecordKey, record, version)
}
