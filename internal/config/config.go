// Package config provides configuration loading and validation for warden.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}
		if !filepath.IsAbs(realPath) && !filepath.IsLocal(realPath) {
			return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// ServerName is the display name the game server is claimed with
	ServerName string `yaml:"serverName"`

	Compute ComputeConfig `yaml:"compute"`
	Game    GameConfig    `yaml:"game"`
	Idle    IdleConfig    `yaml:"idle"`
	Start   StartConfig   `yaml:"start"`
	Store   StoreConfig   `yaml:"store"`
}

// ComputeConfig defines the compute provider settings
type ComputeConfig struct {
	// Image is the game server container image
	Image string `yaml:"image"`

	// ContainerName names the managed container
	ContainerName string `yaml:"containerName"`

	// GamePort is the port the game server listens on
	GamePort int `yaml:"gamePort"`

	// PublicAddress is the address clients use to reach the host
	PublicAddress string `yaml:"publicAddress"`

	// Env is extra environment passed to the container as KEY=value pairs
	Env []string `yaml:"env,omitempty"`
}

// GameConfig defines how the game process's control API is reached
type GameConfig struct {
	// APIPort is the control API port on the task address
	APIPort int `yaml:"apiPort"`

	// InsecureTLS accepts the self-signed certificate game servers ship with
	InsecureTLS bool `yaml:"insecureTLS"`

	// RequestTimeout is the per-call timeout (duration string)
	RequestTimeout string `yaml:"requestTimeout,omitempty"`
}

// IdleConfig defines the idle-shutdown behavior
type IdleConfig struct {
	// TimeoutMinutes is how long the server may sit empty before shutdown
	TimeoutMinutes int `yaml:"timeoutMinutes"`

	// PollInterval is the monitor tick interval (duration string)
	PollInterval string `yaml:"pollInterval,omitempty"`
}

// StartConfig bounds the provisioning waits
type StartConfig struct {
	// TaskRunningTimeout is the hard deadline for the task to reach running
	TaskRunningTimeout string `yaml:"taskRunningTimeout,omitempty"`

	// TaskPollInterval is the task status polling interval
	TaskPollInterval string `yaml:"taskPollInterval,omitempty"`

	// APIReadyAttempts bounds the control API readiness probes
	APIReadyAttempts int `yaml:"apiReadyAttempts,omitempty"`

	// APIReadyInterval is the readiness probe interval
	APIReadyInterval string `yaml:"apiReadyInterval,omitempty"`
}

// StoreConfig defines the durable state store
type StoreConfig struct {
	// Path is the bbolt database file location
	Path string `yaml:"path"`

	// SecretCacheTTL bounds secret read staleness (duration string)
	SecretCacheTTL string `yaml:"secretCacheTTL,omitempty"`

	Keys SecretKeysConfig `yaml:"keys"`
}

// SecretKeysConfig names the secret store keys the controller owns
type SecretKeysConfig struct {
	AdminPassword  string `yaml:"adminPassword,omitempty"`
	APIToken       string `yaml:"apiToken,omitempty"`
	ClientPassword string `yaml:"clientPassword,omitempty"`
	SigningSecret  string `yaml:"signingSecret,omitempty"`
}

// Defaults applied by LoadConfig before validation.
const (
	defaultServerName         = "warden"
	defaultGamePort           = 7777
	defaultAPIPort            = 7777
	defaultIdleTimeoutMinutes = 10
	defaultIdlePollInterval   = "1m"
	defaultRequestTimeout     = "15s"
	defaultTaskRunningTimeout = "5m"
	defaultTaskPollInterval   = "5s"
	defaultAPIReadyAttempts   = 30
	defaultAPIReadyInterval   = "10s"
	defaultSecretCacheTTL     = "30s"
	defaultStorePath          = "./data/warden.db"

	defaultAdminPasswordKey  = "warden/admin-password"
	defaultAPITokenKey       = "warden/api-token"
	defaultClientPasswordKey = "warden/client-password"
	defaultSigningSecretKey  = "warden/signing-secret"
)

// LoadConfig loads, defaults, and validates configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.ServerName == "" {
		c.ServerName = defaultServerName
	}
	if c.Compute.GamePort == 0 {
		c.Compute.GamePort = defaultGamePort
	}
	if c.Game.APIPort == 0 {
		c.Game.APIPort = defaultAPIPort
	}
	if c.Game.RequestTimeout == "" {
		c.Game.RequestTimeout = defaultRequestTimeout
	}
	if c.Idle.TimeoutMinutes == 0 {
		c.Idle.TimeoutMinutes = defaultIdleTimeoutMinutes
	}
	if c.Idle.PollInterval == "" {
		c.Idle.PollInterval = defaultIdlePollInterval
	}
	if c.Start.TaskRunningTimeout == "" {
		c.Start.TaskRunningTimeout = defaultTaskRunningTimeout
	}
	if c.Start.TaskPollInterval == "" {
		c.Start.TaskPollInterval = defaultTaskPollInterval
	}
	if c.Start.APIReadyAttempts == 0 {
		c.Start.APIReadyAttempts = defaultAPIReadyAttempts
	}
	if c.Start.APIReadyInterval == "" {
		c.Start.APIReadyInterval = defaultAPIReadyInterval
	}
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Store.SecretCacheTTL == "" {
		c.Store.SecretCacheTTL = defaultSecretCacheTTL
	}
	if c.Store.Keys.AdminPassword == "" {
		c.Store.Keys.AdminPassword = defaultAdminPasswordKey
	}
	if c.Store.Keys.APIToken == "" {
		c.Store.Keys.APIToken = defaultAPITokenKey
	}
	if c.Store.Keys.ClientPassword == "" {
		c.Store.Keys.ClientPassword = defaultClientPasswordKey
	}
	if c.Store.Keys.SigningSecret == "" {
		c.Store.Keys.SigningSecret = defaultSigningSecretKey
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Compute.Image == "" {
		return fmt.Errorf("compute.image is required")
	}
	if c.Compute.ContainerName == "" {
		return fmt.Errorf("compute.containerName is required")
	}
	if c.Compute.PublicAddress == "" {
		return fmt.Errorf("compute.publicAddress is required")
	}
	if c.Compute.GamePort < 1 || c.Compute.GamePort > 65535 {
		return fmt.Errorf("compute.gamePort must be a valid port, got %d", c.Compute.GamePort)
	}
	if c.Game.APIPort < 1 || c.Game.APIPort > 65535 {
		return fmt.Errorf("game.apiPort must be a valid port, got %d", c.Game.APIPort)
	}
	if c.Idle.TimeoutMinutes < 1 {
		return fmt.Errorf("idle.timeoutMinutes must be positive, got %d", c.Idle.TimeoutMinutes)
	}
	if c.Start.APIReadyAttempts < 1 {
		return fmt.Errorf("start.apiReadyAttempts must be positive, got %d", c.Start.APIReadyAttempts)
	}

	for name, value := range map[string]string{
		"game.requestTimeout":      c.Game.RequestTimeout,
		"idle.pollInterval":        c.Idle.PollInterval,
		"start.taskRunningTimeout": c.Start.TaskRunningTimeout,
		"start.taskPollInterval":   c.Start.TaskPollInterval,
		"start.apiReadyInterval":   c.Start.APIReadyInterval,
		"store.secretCacheTTL":     c.Store.SecretCacheTTL,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g. '30s', '5m'): %w", name, err)
		}
	}
	return nil
}

// Duration returns an already-validated duration string as a time.Duration.
func Duration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		// validate() guarantees parseability; reaching here is a bug.
		panic(fmt.Sprintf("unvalidated duration %q: %v", value, err))
	}
	return d
}
