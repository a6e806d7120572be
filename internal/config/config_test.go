package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"socket_path": "/tmp/picomasterd.sock",
		"services": [
			{"name": "web", "executable_path": "/usr/local/bin/web-worker"}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Services, 1)
	svc := cfg.Services[0]
	assert.Equal(t, 1, svc.Num)
	assert.Equal(t, DefaultMaxRestarts, svc.MaxRestarts)
	assert.Equal(t, DefaultStartupTimeout, svc.StartupTimeout())
	assert.Equal(t, DefaultShutdownTimeout, svc.ShutdownTimeout())
}

func TestLoadHonorsExplicitTimeouts(t *testing.T) {
	path := writeConfig(t, `{
		"socket_path": "/tmp/picomasterd.sock",
		"services": [
			{"name": "web", "executable_path": "/usr/local/bin/web-worker", "startup_timeout": 2.5}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, cfg.Services[0].StartupTimeout())
}

func TestLoadRejectsMissingSocketPath(t *testing.T) {
	path := writeConfig(t, `{"services": []}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsDuplicateServiceNames(t *testing.T) {
	path := writeConfig(t, `{
		"socket_path": "/tmp/picomasterd.sock",
		"services": [
			{"name": "web", "executable_path": "/bin/a"},
			{"name": "web", "executable_path": "/bin/b"}
		]
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingExecutablePath(t *testing.T) {
	path := writeConfig(t, `{
		"socket_path": "/tmp/picomasterd.sock",
		"services": [{"name": "web"}]
	}`)
	_, err := Load(path)
	assert.Error(t, err)
}
