// Package config loads the fixed-at-startup service set from a small
// JSON document. Parsing depth (includes, environment-file merging,
// validation DSLs) is out of scope per spec.md §1; this is deliberately
// a thin decode step, grounded in the Config/ServiceConfig shape
// kornnellio-gosv's main.go demonstrates for the same kind of daemon.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ServiceConfig is one named service's worker-pool configuration as it
// appears in the JSON config file.
type ServiceConfig struct {
	Name               string   `json:"name"`
	Num                int      `json:"num"`
	ExecutablePath     string   `json:"executable_path"`
	Args               []string `json:"args,omitempty"`
	Env                []string `json:"env,omitempty"`
	WorkingDir         string   `json:"working_dir,omitempty"`
	StartupTimeoutSec  float64  `json:"startup_timeout,omitempty"`
	ShutdownTimeoutSec float64  `json:"shutdown_timeout,omitempty"`
	HeartbeatIntervalSec float64 `json:"heartbeat_interval,omitempty"`
	HeartbeatGraceSec  float64  `json:"heartbeat_grace,omitempty"`
	MaxRestarts        int      `json:"max_restarts,omitempty"`

	// Resource limits sampled and optionally enforced by the resource
	// sampler. Zero means unbounded, matching resource.Policy's own
	// zero-value semantics.
	MaxRSSBytes   uint64  `json:"max_rss_bytes,omitempty"`
	MaxCPUPercent float64 `json:"max_cpu_percent,omitempty"`
	// EnforceLimits, when true, kills a worker that exceeds either
	// limit instead of only logging a warning.
	EnforceLimits bool `json:"enforce_limits,omitempty"`
	// UseCgroup additionally backs the limits above with a cgroup v2
	// group per worker, so the kernel enforces memory.max/cpu.max
	// directly rather than relying solely on the sampler noticing and
	// killing after the fact.
	UseCgroup bool `json:"use_cgroup,omitempty"`
}

// Config is the whole-master configuration document.
type Config struct {
	SocketPath string          `json:"socket_path"`
	PIDFile    string          `json:"pid_file"`
	WorkingDir string          `json:"working_dir,omitempty"`
	Services   []ServiceConfig `json:"services"`
}

// Defaults applied to a ServiceConfig field left at its JSON zero value.
const (
	DefaultStartupTimeout    = 10 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatGrace    = 5 * time.Second
	DefaultMaxRestarts       = 3
)

// Load reads and decodes the config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("config: socket_path is required")
	}
	seen := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		s := &c.Services[i]
		if s.Name == "" {
			return fmt.Errorf("config: services[%d]: name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("config: duplicate service name %q", s.Name)
		}
		seen[s.Name] = true
		if s.ExecutablePath == "" {
			return fmt.Errorf("config: service %q: executable_path is required", s.Name)
		}
		if s.Num <= 0 {
			s.Num = 1
		}
		if s.MaxRestarts == 0 {
			s.MaxRestarts = DefaultMaxRestarts
		}
	}
	return nil
}

func seconds(v float64, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v * float64(time.Second))
}

// StartupTimeout returns the resolved timeout, applying the package
// default when unset.
func (s ServiceConfig) StartupTimeout() time.Duration {
	return seconds(s.StartupTimeoutSec, DefaultStartupTimeout)
}

func (s ServiceConfig) ShutdownTimeout() time.Duration {
	return seconds(s.ShutdownTimeoutSec, DefaultShutdownTimeout)
}

func (s ServiceConfig) HeartbeatInterval() time.Duration {
	return seconds(s.HeartbeatIntervalSec, DefaultHeartbeatInterval)
}

func (s ServiceConfig) HeartbeatGrace() time.Duration {
	return seconds(s.HeartbeatGraceSec, DefaultHeartbeatGrace)
}
