// Package config loads and validates the gateway's runtime configuration.
package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LaunchMode selects how WorkerSupervisor starts a worker process.
type LaunchMode string

const (
	LaunchSubprocess LaunchMode = "subprocess"
	LaunchContainer  LaunchMode = "container"
)

// Config is the root configuration for the gateway.
type Config struct {
	Port        int    `json:"port"`
	DataDir     string `json:"data_dir,omitempty"`
	SecretsFile string `json:"secrets_file,omitempty"`
	Timezone    string `json:"timezone,omitempty"`

	Workers   WorkersConfig    `json:"workers"`
	Providers []ProviderConfig `json:"providers"`
	Workspace WorkspaceConfig  `json:"workspace"`
	EventLog  EventLogConfig   `json:"event_log,omitempty"`
	Debug     DebugConfig      `json:"debug,omitempty"`
}

// WorkersConfig contains fleet-wide worker management settings.
type WorkersConfig struct {
	LaunchMode LaunchMode `json:"launch_mode"`

	// PortRangeLow/PortRangeHigh define the half-open range [low, high)
	// PortAllocator hands out inner worker ports from. Spec default: [4000,4100).
	PortRangeLow  int `json:"port_range_low"`
	PortRangeHigh int `json:"port_range_high"`

	// ReadyTimeoutSeconds bounds how long start() waits for a worker's
	// health endpoint to report ready before failing the spawn. Default 60.
	ReadyTimeoutSeconds int `json:"ready_timeout_seconds"`

	// GraceStopSeconds bounds how long stop() waits for a graceful exit
	// before escalating to a forceful kill. Default 10.
	GraceStopSeconds int `json:"grace_stop_seconds"`

	// ProbeIntervalSeconds is HealthMonitor's periodic probe interval. Default 30.
	ProbeIntervalSeconds int `json:"probe_interval_seconds"`

	// ProbeTimeoutSeconds bounds a single health-endpoint HTTP call. Default 2.
	ProbeTimeoutSeconds int `json:"probe_timeout_seconds"`

	// MaxConsecutiveFailures is how many failed probes in a row are
	// tolerated before a running worker is marked degraded/unhealthy. Default 3.
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`

	// StallTimeoutSeconds bounds how long a subprocess-mode worker may go
	// without stdout/stderr output while still answering its health probe
	// before HealthMonitor treats it as a stalled probe failure. Zero
	// disables the check. Default 120; has no effect in container mode.
	StallTimeoutSeconds int `json:"stall_timeout_seconds"`

	// NamingPrefix identifies this gateway's own artifacts for
	// CleanupStale, run at startup and then periodically by the health
	// monitor.
	NamingPrefix string `json:"naming_prefix"`

	// SubprocessCommand is the argv executed when LaunchMode is
	// "subprocess". It is run as given, with no placeholder substitution;
	// the worker receives PORT, WORKSPACE, PROMPTS_DIR, ZEUS_PROVIDER and
	// ZEUS_WORKER_ID as environment variables.
	SubprocessCommand []string `json:"subprocess_command,omitempty"`

	// ContainerImage is the Docker image used when LaunchMode is "container".
	ContainerImage string `json:"container_image,omitempty"`
}

// ProviderConfig describes one upstream provider's default runtime policy.
type ProviderConfig struct {
	Name             string            `json:"name"`
	DefaultModel     string            `json:"default_model,omitempty"`
	DefaultInnerPort int               `json:"default_inner_port,omitempty"`
	EnvKeys          []string          `json:"env_keys,omitempty"`
	SystemPrompt     string            `json:"system_prompt,omitempty"`
	AutoSpawn        bool              `json:"auto_spawn"`
	Env              map[string]string `json:"env,omitempty"`
}

// WorkspaceConfig controls the shared file-serving root. An empty Root
// means the data directory's workspace subdirectory, the same directory
// workers are launched with.
type WorkspaceConfig struct {
	Root string `json:"root"`
}

// EventLogConfig is loaded and saved with the rest of the configuration,
// but gateway.New reads neither field: the lifecycle-event log is always
// opened as gateway.db in the data directory's database subdirectory.
type EventLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// DebugConfig contains debugging and logging toggles.
type DebugConfig struct {
	VerboseLogging bool `json:"verbose_logging,omitempty"`
}

// Default returns a default configuration matching spec.md §6's defaults:
// client-facing port 3001, worker dynamic range [4000, 4100).
func Default() *Config {
	return &Config{
		Port: 3001,
		Workers: WorkersConfig{
			LaunchMode:              LaunchSubprocess,
			PortRangeLow:            4000,
			PortRangeHigh:           4100,
			ReadyTimeoutSeconds:     60,
			GraceStopSeconds:        10,
			ProbeIntervalSeconds:    30,
			ProbeTimeoutSeconds:     2,
			MaxConsecutiveFailures: 3,
			StallTimeoutSeconds:    120,
			NamingPrefix:           "zeus",
		},
		Providers: []ProviderConfig{
			{Name: "claude", DefaultModel: "claude-sonnet-4-6", DefaultInnerPort: 8081, AutoSpawn: false},
			{Name: "gemini", DefaultModel: "gemini-2.5-pro", DefaultInnerPort: 8082, AutoSpawn: false},
			{Name: "copilot", DefaultModel: "gpt-5", DefaultInnerPort: 8083, AutoSpawn: false},
		},
		Workspace: WorkspaceConfig{
			Root: "",
		},
		EventLog: EventLogConfig{
			Enabled: true,
			Path:    "gateway.db",
		},
	}
}

// Load loads configuration from a file, creating a default one if absent.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandTilde()

	if err := cfg.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	if err := cfg.expandEnvVars(); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save writes the configuration to a file.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandEnvVars expands ${ENV_VAR} references in configuration values.
func (c *Config) expandEnvVars() error {
	c.DataDir = os.ExpandEnv(c.DataDir)
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)

	for i := range c.Providers {
		c.Providers[i].SystemPrompt = os.ExpandEnv(c.Providers[i].SystemPrompt)
		for k, v := range c.Providers[i].Env {
			c.Providers[i].Env[k] = os.ExpandEnv(v)
		}
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Workers.PortRangeLow <= 0 || c.Workers.PortRangeHigh <= c.Workers.PortRangeLow {
		return fmt.Errorf("invalid worker port range [%d, %d)", c.Workers.PortRangeLow, c.Workers.PortRangeHigh)
	}
	if c.Workers.LaunchMode != LaunchSubprocess && c.Workers.LaunchMode != LaunchContainer {
		return fmt.Errorf("invalid launch_mode %q, must be %q or %q", c.Workers.LaunchMode, LaunchSubprocess, LaunchContainer)
	}
	if c.Workers.ReadyTimeoutSeconds <= 0 {
		return fmt.Errorf("ready_timeout_seconds must be greater than 0")
	}
	if c.Workers.GraceStopSeconds <= 0 {
		return fmt.Errorf("grace_stop_seconds must be greater than 0")
	}
	if c.Workers.ProbeIntervalSeconds <= 0 {
		return fmt.Errorf("probe_interval_seconds must be greater than 0")
	}
	if c.Workers.MaxConsecutiveFailures <= 0 {
		return fmt.Errorf("max_consecutive_failures must be greater than 0")
	}
	if c.Workers.StallTimeoutSeconds < 0 {
		return fmt.Errorf("stall_timeout_seconds must not be negative")
	}
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider entry with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}
	return nil
}

// ProviderNames returns the configured provider names, in declaration order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for _, p := range c.Providers {
		names = append(names, p.Name)
	}
	return names
}

// Provider returns the configured ProviderConfig for name, or nil.
func (c *Config) Provider(name string) *ProviderConfig {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i]
		}
	}
	return nil
}

// GetLocation returns the configured timezone as a *time.Location, falling
// back to time.Local.
func (c *Config) GetLocation() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.DataDir = expand(c.DataDir)
	c.SecretsFile = expand(c.SecretsFile)
	c.Workspace.Root = expand(c.Workspace.Root)
	c.EventLog.Path = expand(c.EventLog.Path)
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored. Existing environment
// variables are NOT overridden. Missing file is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
