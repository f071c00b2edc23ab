package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `
serverName: my-server
compute:
  image: example/game:latest
  containerName: game
  publicAddress: 203.0.113.10
`

func TestLoadConfigAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(WithConfigPath(writeConfig(t, minimalConfig)))
	require.NoError(t, err)

	assert.Equal(t, "my-server", cfg.ServerName)
	assert.Equal(t, 7777, cfg.Compute.GamePort)
	assert.Equal(t, 7777, cfg.Game.APIPort)
	assert.Equal(t, 10, cfg.Idle.TimeoutMinutes)
	assert.Equal(t, "1m", cfg.Idle.PollInterval)
	assert.Equal(t, "5m", cfg.Start.TaskRunningTimeout)
	assert.Equal(t, 30, cfg.Start.APIReadyAttempts)
	assert.Equal(t, "./data/warden.db", cfg.Store.Path)
	assert.Equal(t, "warden/admin-password", cfg.Store.Keys.AdminPassword)
	assert.Equal(t, "warden/api-token", cfg.Store.Keys.APIToken)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
serverName: custom
compute:
  image: example/game:latest
  containerName: game
  gamePort: 15000
  publicAddress: 203.0.113.10
idle:
  timeoutMinutes: 30
  pollInterval: 2m
store:
  path: /var/lib/warden/state.db
  keys:
    adminPassword: custom/admin
`)

	cfg, err := LoadConfig(WithConfigPath(path))
	require.NoError(t, err)

	assert.Equal(t, 15000, cfg.Compute.GamePort)
	assert.Equal(t, 30, cfg.Idle.TimeoutMinutes)
	assert.Equal(t, "2m", cfg.Idle.PollInterval)
	assert.Equal(t, "/var/lib/warden/state.db", cfg.Store.Path)
	assert.Equal(t, "custom/admin", cfg.Store.Keys.AdminPassword)
	// Unset keys still default.
	assert.Equal(t, "warden/api-token", cfg.Store.Keys.APIToken)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing image",
			content: `
compute:
  containerName: game
  publicAddress: 203.0.113.10
`,
			wantErr: "compute.image is required",
		},
		{
			name: "missing container name",
			content: `
compute:
  image: example/game:latest
  publicAddress: 203.0.113.10
`,
			wantErr: "compute.containerName is required",
		},
		{
			name: "missing public address",
			content: `
compute:
  image: example/game:latest
  containerName: game
`,
			wantErr: "compute.publicAddress is required",
		},
		{
			name: "invalid game port",
			content: `
compute:
  image: example/game:latest
  containerName: game
  gamePort: 70000
  publicAddress: 203.0.113.10
`,
			wantErr: "compute.gamePort",
		},
		{
			name: "negative idle timeout",
			content: `
compute:
  image: example/game:latest
  containerName: game
  publicAddress: 203.0.113.10
idle:
  timeoutMinutes: -5
`,
			wantErr: "idle.timeoutMinutes",
		},
		{
			name: "malformed poll interval",
			content: `
compute:
  image: example/game:latest
  containerName: game
  publicAddress: 203.0.113.10
idle:
  pollInterval: sometimes
`,
			wantErr: "idle.pollInterval",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := LoadConfig(WithConfigPath(writeConfig(t, tt.content)))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(writeConfig(t, "serverName: [unclosed")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadConfigRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig()
	require.Error(t, err)

	_, err = LoadConfig(WithConfigPath(""))
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")))
	require.Error(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 30*time.Second, Duration("30s"))
	assert.Equal(t, 5*time.Minute, Duration("5m"))

	assert.Panics(t, func() { Duration("garbage") })
}
