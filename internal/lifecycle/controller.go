// Package lifecycle drives the game server's compute resource through its
// offline/starting/running/stopping cycle.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/compute"
	"github.com/wardenhq/warden/internal/credentials"
	"github.com/wardenhq/warden/internal/gameapi"
	"github.com/wardenhq/warden/internal/logger"
	"github.com/wardenhq/warden/internal/store"
)

const (
	operationGuardKey = "lifecycle/operation"

	// guardTTL bounds how long a crashed invocation can hold the guard. It
	// covers the longest possible start (task wait + readiness polling +
	// bootstrap) with slack.
	guardTTL = 10 * time.Minute

	bootstrapMaxTries = 3
)

// MonitorSchedule registers the idle-monitor schedule. Registration is
// idempotent and deregistration tolerates an absent schedule.
type MonitorSchedule interface {
	Register(ctx context.Context) error
	Deregister(ctx context.Context) error
}

// Config holds the controller's timing and identity settings.
type Config struct {
	// ServerName is the name given to the game server on claim.
	ServerName string

	// TaskRunningTimeout is the hard deadline for a task to reach running
	// after the desired count is raised.
	TaskRunningTimeout time.Duration

	// TaskPollInterval is the task status polling interval.
	TaskPollInterval time.Duration

	// APIReadyAttempts bounds the control API readiness probes.
	APIReadyAttempts int

	// APIReadyInterval is the readiness probe interval.
	APIReadyInterval time.Duration
}

// Controller implements the server lifecycle operations.
type Controller struct {
	compute  compute.Provider
	clients  gameapi.Factory
	creds    *credentials.Manager
	secrets  store.SecretStore
	state    store.StateStore
	schedule MonitorSchedule
	keys     credentials.Keys
	cfg      Config

	// now is swappable for tests
	now func() time.Time
}

// NewController wires a lifecycle controller.
func NewController(
	computeProvider compute.Provider,
	clients gameapi.Factory,
	creds *credentials.Manager,
	secrets store.SecretStore,
	state store.StateStore,
	schedule MonitorSchedule,
	keys credentials.Keys,
	cfg Config,
) *Controller {
	return &Controller{
		compute:  computeProvider,
		clients:  clients,
		creds:    creds,
		secrets:  secrets,
		state:    state,
		schedule: schedule,
		keys:     keys,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Start provisions the server: raises the desired count, waits for a running
// task, waits for the control API, bootstraps credentials, and registers the
// idle monitor. Side effects are not transactional; a partial failure is
// recovered by calling Start again.
func (c *Controller) Start(ctx context.Context) (*StartResult, error) {
	release, err := c.acquireGuard(ctx, "start")
	if err != nil {
		return nil, err
	}
	defer release()

	state, task, err := c.deriveState(ctx)
	if err != nil {
		return nil, &StartFailedError{Reason: "failed to query compute tasks", Err: err}
	}
	switch state {
	case StateStopping:
		return nil, fmt.Errorf("server is stopping: %w", ErrOperationInProgress)
	case StateRunning:
		// Already up; report the existing endpoint.
		endpoint, err := c.compute.TaskEndpoint(ctx, task.ID)
		if err != nil {
			return nil, &StartFailedError{Reason: "failed to resolve endpoint of running task", Err: err}
		}
		return &StartResult{State: StateRunning, Endpoint: endpoint}, nil
	}

	if err := c.compute.SetDesiredCount(ctx, 1); err != nil {
		return nil, &StartFailedError{Reason: "failed to set desired count", Err: err}
	}

	runningTask, err := c.waitForTaskRunning(ctx)
	if err != nil {
		return nil, err
	}

	endpoint, err := c.compute.TaskEndpoint(ctx, runningTask.ID)
	if err != nil {
		return nil, &StartFailedError{Reason: "failed to resolve task endpoint", Err: err}
	}
	logger.Infof("Task %s running at %s:%d", runningTask.ID, endpoint.Address, endpoint.Port)

	client := c.clients(endpoint.Address)
	if err := c.waitForAPIReady(ctx, client); err != nil {
		return nil, err
	}

	if err := c.bootstrapCredentials(ctx, client); err != nil {
		return nil, &StartFailedError{Reason: "credential bootstrap failed", Err: err}
	}

	c.applyClientPassword(ctx, client)

	if err := c.schedule.Register(ctx); err != nil {
		return nil, &StartFailedError{Reason: "failed to register idle monitor", Err: err}
	}

	logger.Infof("Server %q started", c.cfg.ServerName)
	return &StartResult{State: StateRunning, Endpoint: endpoint}, nil
}

// Stop tears the server down. With requireRunning, the absence of any task
// is an ErrServerNotRunning error (the direct API path); without it, a
// missing task makes Stop a no-op (the idle-shutdown path).
func (c *Controller) Stop(ctx context.Context, requireRunning bool) (State, error) {
	release, err := c.acquireGuard(ctx, "stop")
	if err != nil {
		return "", err
	}
	defer release()

	state, task, err := c.deriveState(ctx)
	if err != nil {
		return "", &StopFailedError{Reason: "failed to query compute tasks", Err: err}
	}
	if state == StateOffline {
		if requireRunning {
			return "", ErrServerNotRunning
		}
		return StateOffline, nil
	}

	// Ask the game process to save and exit before pulling the task. Any
	// failure here is logged and the stop proceeds.
	if task != nil && task.Status == compute.StatusRunning {
		c.shutdownGameProcess(ctx, task)
	}

	if err := c.compute.SetDesiredCount(ctx, 0); err != nil {
		return "", &StopFailedError{Reason: "failed to set desired count", Err: err}
	}

	if err := c.schedule.Deregister(ctx); err != nil {
		logger.Warnf("Failed to deregister idle monitor: %v", err)
	}

	logger.Infof("Server %q stopping", c.cfg.ServerName)
	return StateStopping, nil
}

// Status derives the lifecycle state from the task list and, when running,
// best-effort enriches it with live game state.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	state, task, err := c.deriveState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query compute tasks: %w", err)
	}

	status := &Status{State: state}
	if state != StateRunning || task == nil {
		return status, nil
	}

	endpoint, err := c.compute.TaskEndpoint(ctx, task.ID)
	if err != nil {
		logger.Warnf("Failed to resolve endpoint for running task %s: %v", task.ID, err)
		return status, nil
	}
	status.Endpoint = endpoint

	// Partial status is acceptable: the endpoint is reported even when the
	// game API cannot be queried.
	client := c.clients(endpoint.Address)
	token, err := c.creds.EnsureValidToken(ctx, client)
	if err != nil {
		logger.Warnf("Failed to obtain API token for status query: %v", err)
		return status, nil
	}
	gameState, err := client.QueryServerState(ctx, token)
	if err != nil {
		logger.Warnf("Failed to query game state: %v", err)
		return status, nil
	}

	players := gameState.PlayerCount
	status.PlayerCount = &players
	status.ServerName = gameState.ServerName
	status.GamePhase = gameState.GamePhase
	return status, nil
}

// PlayerCount returns the current connected player count of the running
// server. It is the idle monitor's view of liveness; ErrServerNotRunning
// indicates there is no task to measure.
func (c *Controller) PlayerCount(ctx context.Context) (int, error) {
	state, task, err := c.deriveState(ctx)
	if err != nil {
		return 0, err
	}
	if state != StateRunning || task == nil {
		return 0, ErrServerNotRunning
	}

	endpoint, err := c.compute.TaskEndpoint(ctx, task.ID)
	if err != nil {
		return 0, err
	}
	client := c.clients(endpoint.Address)
	token, err := c.creds.EnsureValidToken(ctx, client)
	if err != nil {
		return 0, err
	}
	gameState, err := client.QueryServerState(ctx, token)
	if err != nil {
		return 0, err
	}
	return gameState.PlayerCount, nil
}

// ClientPassword returns the persisted client join password, or nil when
// none is set.
func (c *Controller) ClientPassword(ctx context.Context) (*string, error) {
	value, err := c.secrets.GetSecret(ctx, c.keys.ClientPassword)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &value, nil
}

// SetClientPassword persists the client join password (empty removes it)
// and best-effort applies it to the running server. The returned message
// describes the application outcome.
func (c *Controller) SetClientPassword(ctx context.Context, password string) (string, error) {
	if password == "" {
		if err := c.secrets.DeleteSecret(ctx, c.keys.ClientPassword); err != nil {
			return "", err
		}
	} else {
		if err := c.secrets.PutSecret(ctx, c.keys.ClientPassword, password); err != nil {
			return "", err
		}
	}

	state, task, err := c.deriveState(ctx)
	if err != nil || state != StateRunning || task == nil {
		return "password saved; server offline, will apply on next start", nil
	}
	endpoint, err := c.compute.TaskEndpoint(ctx, task.ID)
	if err != nil {
		return "password saved; failed to resolve server endpoint", nil
	}
	client := c.clients(endpoint.Address)
	token, err := c.creds.EnsureValidToken(ctx, client)
	if err == nil {
		err = client.SetClientPassword(ctx, token, password)
	}
	if err != nil {
		logger.Warnf("Failed to apply client password to running server: %v", err)
		return "password saved; failed to apply to running server", nil
	}
	return "password applied", nil
}

// deriveState maps the current task list to a lifecycle state and returns
// the most relevant task.
func (c *Controller) deriveState(ctx context.Context) (State, *compute.Task, error) {
	tasks, err := c.compute.ListTasks(ctx)
	if err != nil {
		return "", nil, err
	}

	var starting, stopping *compute.Task
	for i := range tasks {
		task := &tasks[i]
		switch task.Status {
		case compute.StatusRunning:
			return StateRunning, task, nil
		case compute.StatusProvisioning, compute.StatusPending:
			starting = task
		case compute.StatusStopping:
			stopping = task
		}
	}
	if stopping != nil {
		return StateStopping, stopping, nil
	}
	if starting != nil {
		return StateStarting, starting, nil
	}
	return StateOffline, nil, nil
}

// waitForTaskRunning polls the task list until a task is running, a task
// reaches a terminal stopped status, or the hard deadline passes.
func (c *Controller) waitForTaskRunning(ctx context.Context) (*compute.Task, error) {
	deadline := c.now().Add(c.cfg.TaskRunningTimeout)
	ticker := time.NewTicker(c.cfg.TaskPollInterval)
	defer ticker.Stop()

	for {
		tasks, err := c.compute.ListTasks(ctx)
		if err != nil {
			return nil, &StartFailedError{Reason: "failed to poll tasks", Err: err}
		}
		for i := range tasks {
			task := &tasks[i]
			switch task.Status {
			case compute.StatusRunning:
				return task, nil
			case compute.StatusStopped:
				return nil, &StartFailedError{
					Reason: fmt.Sprintf("task stopped during startup: %s", task.StoppedReason),
				}
			}
		}

		if c.now().After(deadline) {
			return nil, &StartFailedError{
				Reason: fmt.Sprintf("task did not reach running within %s", c.cfg.TaskRunningTimeout),
			}
		}
		select {
		case <-ctx.Done():
			return nil, &StartFailedError{Reason: "cancelled while waiting for task", Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

// waitForAPIReady probes the control API with a fixed interval and a
// bounded attempt count.
func (c *Controller) waitForAPIReady(ctx context.Context, client gameapi.Client) error {
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		if err := client.HealthCheck(ctx); err != nil {
			logger.Debugf("Control API not ready (attempt %d): %v", attempts, err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.APIReadyInterval)),
		backoff.WithMaxTries(uint(c.cfg.APIReadyAttempts)),
	)
	if err != nil {
		return &StartFailedError{
			Reason: fmt.Sprintf("control API not reachable after %d attempts", c.cfg.APIReadyAttempts),
			Err:    err,
		}
	}
	return nil
}

// bootstrapCredentials runs the claim-or-login protocol with a short
// exponential-backoff retry; the protocol is idempotent across attempts.
func (c *Controller) bootstrapCredentials(ctx context.Context, client gameapi.Client) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		_, err := c.creds.ClaimOrLogin(ctx, client)
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(bootstrapMaxTries),
	)
	return err
}

// applyClientPassword best-effort pushes a client password persisted while
// the server was offline. Failures are logged; the password stays persisted
// and can be re-applied through the API.
func (c *Controller) applyClientPassword(ctx context.Context, client gameapi.Client) {
	password, err := c.secrets.GetSecret(ctx, c.keys.ClientPassword)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("Failed to read persisted client password: %v", err)
		}
		return
	}
	token, err := c.creds.EnsureValidToken(ctx, client)
	if err == nil {
		err = client.SetClientPassword(ctx, token, password)
	}
	if err != nil {
		logger.Warnf("Failed to apply persisted client password: %v", err)
		return
	}
	logger.Info("Applied persisted client password")
}

// shutdownGameProcess best-effort asks the game process to save and exit.
func (c *Controller) shutdownGameProcess(ctx context.Context, task *compute.Task) {
	endpoint, err := c.compute.TaskEndpoint(ctx, task.ID)
	if err != nil {
		logger.Warnf("Skipping remote shutdown, endpoint unresolvable: %v", err)
		return
	}
	client := c.clients(endpoint.Address)
	token, err := c.creds.EnsureValidToken(ctx, client)
	if err != nil {
		logger.Warnf("Skipping remote shutdown, no valid token: %v", err)
		return
	}
	if err := client.Shutdown(ctx, token); err != nil {
		logger.Warnf("Remote shutdown call failed: %v", err)
		return
	}
	logger.Info("Remote shutdown requested, server saving state")
}

// acquireGuard takes the single-flight operation guard, returning a release
// function. A live guard from another invocation rejects the operation; an
// expired guard from a crashed invocation is replaced.
func (c *Controller) acquireGuard(ctx context.Context, operation string) (func(), error) {
	record := operationRecord{
		Operation: operation,
		Holder:    uuid.NewString(),
		StartedAt: c.now(),
		ExpiresAt: c.now().Add(guardTTL),
	}

	err := c.state.CreateRecord(ctx, operationGuardKey, record)
	if errors.Is(err, store.ErrAlreadyExists) {
		var existing operationRecord
		version, getErr := c.state.GetRecord(ctx, operationGuardKey, &existing)
		if getErr != nil {
			return nil, fmt.Errorf("failed to inspect operation guard: %w", getErr)
		}
		if c.now().Before(existing.ExpiresAt) {
			return nil, fmt.Errorf("%s rejected, %s in progress: %w",
				operation, existing.Operation, ErrOperationInProgress)
		}
		// Stale guard: replace it, conditional on the version we saw.
		if putErr := c.state.PutRecord(ctx, operationGuardKey, record, version); putErr != nil {
			if errors.Is(putErr, store.ErrVersionConflict) {
				return nil, fmt.Errorf("%s rejected: %w", operation, ErrOperationInProgress)
			}
			return nil, fmt.Errorf("failed to take over stale operation guard: %w", putErr)
		}
		err = nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire operation guard: %w", err)
	}

	return func() {
		if err := c.state.DeleteRecord(context.WithoutCancel(ctx), operationGuardKey); err != nil {
			logger.Errorf("Failed to release operation guard: %v", err)
		}
	}, nil
}
