package idle

import (
	"context"
	"fmt"

	"github.com/wardenhq/warden/internal/lifecycle"
	"github.com/wardenhq/warden/internal/store"
)

// Schedule couples the monitor's schedule registration with the timer
// record's lifecycle. An armed timer only has meaning while the monitor is
// scheduled against a running server, so both registering (a fresh start)
// and deregistering (a stop) disarm whatever record is left over. Without
// this, a record armed before a manual stop would survive the offline
// period and cut the next run's idle window short.
type Schedule struct {
	inner lifecycle.MonitorSchedule
	state store.StateStore
}

// NewSchedule wraps inner so registration changes also clear the timer
// record.
func NewSchedule(inner lifecycle.MonitorSchedule, state store.StateStore) *Schedule {
	return &Schedule{inner: inner, state: state}
}

// Register clears any stale timer record and enables the schedule.
func (s *Schedule) Register(ctx context.Context) error {
	if err := s.state.DeleteRecord(ctx, timerRecordKey); err != nil {
		return fmt.Errorf("failed to clear idle timer: %w", err)
	}
	return s.inner.Register(ctx)
}

// Deregister clears the timer record and disables the schedule.
func (s *Schedule) Deregister(ctx context.Context) error {
	if err := s.state.DeleteRecord(ctx, timerRecordKey); err != nil {
		return fmt.Errorf("failed to clear idle timer: %w", err)
	}
	return s.inner.Deregister(ctx)
}
