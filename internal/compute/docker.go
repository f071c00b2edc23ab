package compute

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/wardenhq/warden/internal/logger"
)

const (
	managedByLabel = "managed-by"
	managedByValue = "warden"

	stopGracePeriod = 60 * time.Second
)

// ErrEndpointUnavailable is returned when a task has no resolvable public
// endpoint.
var ErrEndpointUnavailable = errors.New("task endpoint unavailable")

// DockerConfig holds the settings for the Docker compute provider.
type DockerConfig struct {
	// Image is the game server container image.
	Image string

	// ContainerName names the single managed container.
	ContainerName string

	// GamePort is the container port the game server listens on. It is
	// published 1:1 on the host.
	GamePort int

	// PublicAddress is the address clients use to reach the host.
	PublicAddress string

	// Env is extra environment passed to the container.
	Env []string
}

// DockerProvider implements Provider on a local Docker daemon. One named
// container stands in for the single task of the service.
type DockerProvider struct {
	cli *client.Client
	cfg DockerConfig
}

// NewDockerProvider creates a provider connected to the environment-
// configured Docker daemon.
func NewDockerProvider(cfg DockerConfig) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerProvider{cli: cli, cfg: cfg}, nil
}

// SetDesiredCount converges the managed container towards count.
func (p *DockerProvider) SetDesiredCount(ctx context.Context, count int) error {
	switch count {
	case 0:
		return p.stopContainer(ctx)
	case 1:
		return p.startContainer(ctx)
	default:
		return fmt.Errorf("unsupported desired count %d: single-replica service", count)
	}
}

// ListTasks returns the managed container, if any, as a task.
func (p *DockerProvider) ListTasks(ctx context.Context) ([]Task, error) {
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", managedByLabel+"="+managedByValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	tasks := make([]Task, 0, len(containers))
	for _, c := range containers {
		task := Task{ID: c.ID, Status: mapContainerState(c.State)}
		if task.Status == StatusStopped {
			task.StoppedReason = c.Status
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// TaskEndpoint resolves the public endpoint of the given task from its port
// bindings and the configured public address.
func (p *DockerProvider) TaskEndpoint(ctx context.Context, taskID string) (*Endpoint, error) {
	info, err := p.cli.ContainerInspect(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container %s: %w", taskID, err)
	}
	if info.NetworkSettings == nil {
		return nil, fmt.Errorf("container %s: %w", taskID, ErrEndpointUnavailable)
	}

	portKey := nat.Port(fmt.Sprintf("%d/tcp", p.cfg.GamePort))
	bindings := info.NetworkSettings.Ports[portKey]
	if len(bindings) == 0 {
		return nil, fmt.Errorf("container %s has no binding for port %d: %w",
			taskID, p.cfg.GamePort, ErrEndpointUnavailable)
	}

	hostPort, err := strconv.Atoi(bindings[0].HostPort)
	if err != nil {
		return nil, fmt.Errorf("container %s has invalid host port %q: %w",
			taskID, bindings[0].HostPort, err)
	}

	return &Endpoint{Address: p.cfg.PublicAddress, Port: hostPort}, nil
}

func (p *DockerProvider) startContainer(ctx context.Context) error {
	existing, err := p.findContainer(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.State == "running" {
			return nil
		}
		// A stopped leftover blocks the name; remove it before recreating.
		if err := p.cli.ContainerRemove(ctx, existing.ID, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove stopped container %s: %w", existing.ID, err)
		}
	}

	reader, err := p.cli.ImagePull(ctx, p.cfg.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", p.cfg.Image, err)
	}
	_, _ = io.Copy(io.Discard, reader)
	_ = reader.Close()

	portKey := nat.Port(fmt.Sprintf("%d/tcp", p.cfg.GamePort))
	resp, err := p.cli.ContainerCreate(ctx,
		&container.Config{
			Image:        p.cfg.Image,
			Env:          p.cfg.Env,
			ExposedPorts: nat.PortSet{portKey: struct{}{}},
			Labels:       map[string]string{managedByLabel: managedByValue},
		},
		&container.HostConfig{
			PortBindings: nat.PortMap{
				portKey: []nat.PortBinding{{
					HostIP:   "0.0.0.0",
					HostPort: strconv.Itoa(p.cfg.GamePort),
				}},
			},
		},
		nil, nil, p.cfg.ContainerName,
	)
	if err != nil {
		return fmt.Errorf("failed to create container from %s: %w", p.cfg.Image, err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", resp.ID, err)
	}
	logger.Infof("Started game server container %s", resp.ID)
	return nil
}

func (p *DockerProvider) stopContainer(ctx context.Context) error {
	existing, err := p.findContainer(ctx)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	grace := int(stopGracePeriod.Seconds())
	if err := p.cli.ContainerStop(ctx, existing.ID, container.StopOptions{Timeout: &grace}); err != nil {
		return fmt.Errorf("failed to stop container %s: %w", existing.ID, err)
	}
	if err := p.cli.ContainerRemove(ctx, existing.ID, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container %s: %w", existing.ID, err)
	}
	logger.Infof("Stopped game server container %s", existing.ID)
	return nil
}

func (p *DockerProvider) findContainer(ctx context.Context) (*container.Summary, error) {
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", managedByLabel+"="+managedByValue),
			filters.Arg("name", p.cfg.ContainerName),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	// The daemon's name filter matches substrings, so the candidates are
	// checked for the exact name before one is returned.
	for i := range containers {
		if containerNamed(&containers[i], p.cfg.ContainerName) {
			return &containers[i], nil
		}
	}
	return nil, nil
}

// containerNamed reports whether c carries exactly the given name. Docker
// prefixes container names with a slash in list results.
func containerNamed(c *container.Summary, name string) bool {
	for _, n := range c.Names {
		if n == "/"+name {
			return true
		}
	}
	return false
}

// mapContainerState maps Docker container states onto task statuses.
func mapContainerState(state string) TaskStatus {
	switch state {
	case "created":
		return StatusProvisioning
	case "restarting":
		return StatusPending
	case "running":
		return StatusRunning
	case "removing", "paused":
		return StatusStopping
	default: // exited, dead
		return StatusStopped
	}
}
