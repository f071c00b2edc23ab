// Package compute abstracts the container infrastructure that runs the game
// server. The controller only ever drives a desired replica count of 0 or 1
// and observes the resulting task list; it never holds compute state of its
// own.
package compute

import "context"

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Provider

// TaskStatus is the lifecycle status of a compute task.
type TaskStatus string

// Task statuses, ordered roughly by lifecycle progression.
const (
	StatusProvisioning TaskStatus = "provisioning"
	StatusPending      TaskStatus = "pending"
	StatusRunning      TaskStatus = "running"
	StatusStopping     TaskStatus = "stopping"
	StatusStopped      TaskStatus = "stopped"
)

// Task is a single running (or recently stopped) instance of the game
// server container.
type Task struct {
	ID     string
	Status TaskStatus

	// StoppedReason carries the platform's explanation for a terminal
	// status, surfaced in start failures.
	StoppedReason string
}

// Endpoint is the public network address of a running task.
type Endpoint struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// Provider drives the compute platform hosting the game server.
type Provider interface {
	// SetDesiredCount sets the target replica count (0 or 1). The call
	// returns once the target is recorded; convergence is observed via
	// ListTasks.
	SetDesiredCount(ctx context.Context, count int) error

	// ListTasks returns the tasks currently known to the platform,
	// including recently stopped ones.
	ListTasks(ctx context.Context) ([]Task, error)

	// TaskEndpoint resolves the public endpoint of the given task.
	TaskEndpoint(ctx context.Context, taskID string) (*Endpoint, error)
}
