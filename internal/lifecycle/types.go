package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/wardenhq/warden/internal/compute"
)

// State is the externally visible lifecycle state of the game server. It is
// derived from the compute task list on every query and never cached, so the
// reported state cannot drift from the actual resource state.
type State string

// Lifecycle states. offline is both initial and terminal.
const (
	StateOffline  State = "offline"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

var (
	// ErrServerNotRunning is returned by the direct stop path when no task
	// exists to stop.
	ErrServerNotRunning = errors.New("server is not running")

	// ErrOperationInProgress is returned when a start or stop is rejected
	// because another lifecycle operation holds the single-flight guard, or
	// the server is mid-shutdown.
	ErrOperationInProgress = errors.New("a lifecycle operation is already in progress")
)

// StartFailedError reports a failed provisioning step. Partial side effects
// (desired count, persisted credentials, schedule registration) are left in
// place; retrying Start is the recovery path.
type StartFailedError struct {
	Reason string
	Err    error
}

// Error returns the error message.
func (e *StartFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("server start failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("server start failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *StartFailedError) Unwrap() error { return e.Err }

// StopFailedError reports a failed teardown step.
type StopFailedError struct {
	Reason string
	Err    error
}

// Error returns the error message.
func (e *StopFailedError) Error() string {
	return fmt.Sprintf("server stop failed: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *StopFailedError) Unwrap() error { return e.Err }

// StartResult is the outcome of a successful Start call.
type StartResult struct {
	State    State
	Endpoint *compute.Endpoint
}

// Status is the full derived status of the service. The game fields are
// best-effort enrichment and stay zero-valued when the game API cannot be
// reached; the endpoint is still reported.
type Status struct {
	State       State
	Endpoint    *compute.Endpoint
	PlayerCount *int
	ServerName  string
	GamePhase   string
}

// operationRecord is the persisted single-flight guard. A conditional create
// in the state store stands in for a distributed lock; the expiry bounds how
// long a crashed invocation can block its successors.
type operationRecord struct {
	Operation string    `json:"operation"`
	Holder    string    `json:"holder"`
	StartedAt time.Time `json:"startedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}
