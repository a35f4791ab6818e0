// Package config loads the per-project governor configuration from
// .relgate/config.yaml. Unlike settings, which controls the installation,
// config controls governor behavior: the quality gate command, task
// requirements, and autonomous session limits.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relgate/cli/cmd/relgate/cli/paths"
)

// Environment overrides. Set, they take precedence over the config file.
const (
	GateCommandEnvVar = "RELGATE_GATE_COMMAND"
	GateTimeoutEnvVar = "RELGATE_GATE_TIMEOUT_SECONDS"
	RequireTaskEnvVar = "RELGATE_REQUIRE_TASK"
)

// DefaultGateTimeoutSeconds bounds gate command execution.
const DefaultGateTimeoutSeconds = 300

// Config is the parsed .relgate/config.yaml.
type Config struct {
	Gate Gate `yaml:"gate"`

	// RequireTask blocks file mutations until at least one open task
	// exists in the task database.
	RequireTask bool `yaml:"require_task"`

	Autonomous Autonomous `yaml:"autonomous"`
}

// Gate configures the quality gate command run before a stop is allowed.
type Gate struct {
	// Command is run via the shell. Empty means no gate is configured
	// and the gate check is skipped.
	Command string `yaml:"command"`

	// TimeoutSeconds bounds gate execution. Defaults to 300.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Autonomous configures unattended session behavior.
type Autonomous struct {
	// Enabled requires the session to write its plan file before any
	// other tool use. The plan write sets the session marker that
	// unlocks the rest of the toolset.
	Enabled bool `yaml:"enabled"`

	// MaxIdleIterations is how many consecutive blocked stops an
	// autonomous marker survives before it is considered stale and
	// dropped. Defaults to the marker store's staleness limit.
	MaxIdleIterations int `yaml:"max_idle_iterations"`
}

// Timeout returns the gate timeout as a duration.
func (g Gate) Timeout() time.Duration {
	secs := g.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultGateTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// Load reads the config from .relgate/config.yaml at the repository root
// and applies environment overrides. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := paths.AbsPath(paths.ConfigFile)
	if err != nil {
		path = paths.ConfigFile
	}
	return LoadFrom(path)
}

// LoadFrom reads the config from an explicit file path.
func LoadFrom(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path) //nolint:gosec // path is from AbsPath or caller
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if cmd, ok := os.LookupEnv(GateCommandEnvVar); ok {
		cfg.Gate.Command = cmd
	}
	if raw, ok := os.LookupEnv(GateTimeoutEnvVar); ok {
		if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
			cfg.Gate.TimeoutSeconds = secs
		}
	}
	if raw, ok := os.LookupEnv(RequireTaskEnvVar); ok {
		if b, err := strconv.ParseBool(raw); err == nil {
			cfg.RequireTask = b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Gate.TimeoutSeconds <= 0 {
		cfg.Gate.TimeoutSeconds = DefaultGateTimeoutSeconds
	}
}
