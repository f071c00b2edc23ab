// Package scheduler provides the fixed-interval schedule driving the idle
// monitor. Registration is persisted in the state store so it survives
// process restarts, standing in for the hosting platform's external
// schedule resource.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/store"
)

const registrationKey = "scheduler/idle-monitor"

// registrationRecord is the persisted schedule registration flag.
type registrationRecord struct {
	Registered bool      `json:"registered"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Job is a scheduled unit of work. Jobs own their error handling; a job
// must not panic the scheduler loop out of existence.
type Job func(ctx context.Context)

// Scheduler ticks at a fixed interval and runs the job while the schedule
// is registered.
type Scheduler struct {
	state    store.StateStore
	interval time.Duration
	job      Job
}

// New creates a scheduler running job every interval while registered.
func New(state store.StateStore, interval time.Duration, job Job) *Scheduler {
	return &Scheduler{state: state, interval: interval, job: job}
}

// Register enables the schedule. Registering an already-registered schedule
// is not an error.
func (s *Scheduler) Register(ctx context.Context) error {
	record := registrationRecord{Registered: true, UpdatedAt: time.Now()}

	var existing registrationRecord
	version, err := s.state.GetRecord(ctx, registrationKey, &existing)
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = s.state.CreateRecord(ctx, registrationKey, record)
		if errors.Is(err, store.ErrAlreadyExists) {
			// Raced with another registration; same outcome.
			return nil
		}
		return err
	case err != nil:
		return err
	}

	if existing.Registered {
		return nil
	}
	err = s.state.PutRecord(ctx, registrationKey, record, version)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil
	}
	return err
}

// Deregister disables the schedule, tolerating an already-absent
// registration.
func (s *Scheduler) Deregister(ctx context.Context) error {
	var existing registrationRecord
	version, err := s.state.GetRecord(ctx, registrationKey, &existing)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if !existing.Registered {
		return nil
	}

	record := registrationRecord{Registered: false, UpdatedAt: time.Now()}
	err = s.state.PutRecord(ctx, registrationKey, record, version)
	if errors.Is(err, store.ErrVersionConflict) {
		return nil
	}
	return err
}

// Registered reports whether the schedule is currently enabled.
func (s *Scheduler) Registered(ctx context.Context) (bool, error) {
	var record registrationRecord
	if _, err := s.state.GetRecord(ctx, registrationKey, &record); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return record.Registered, nil
}

// Run ticks until the context is cancelled, invoking the job on every tick
// while the schedule is registered. Errors checking the registration are
// logged and the loop continues; the next tick retries.
func (s *Scheduler) Run(ctx context.Context) {
	logger.Infof("Scheduler running with %s interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			registered, err := s.Registered(ctx)
			if err != nil {
				logger.Errorf("Failed to read schedule registration: %v", err)
				continue
			}
			if registered {
				s.job(ctx)
			}
		}
	}
}
