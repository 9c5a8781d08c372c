package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sameehj/cellgate/pkg/policy"
	"github.com/sameehj/cellgate/pkg/session"
	"github.com/sameehj/cellgate/pkg/workspace"
)

// Config defines startup settings for cellgate. Session-level values here are
// only defaults; cells change them with session commands.
type Config struct {
	Kernel      KernelConfig      `yaml:"kernel"`
	Policy      PolicyConfig      `yaml:"policy"`
	Interpreter InterpreterConfig `yaml:"interpreter"`
	Log         LogConfig         `yaml:"log"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	HTTP        ListenConfig      `yaml:"http"`
	GRPC        ListenConfig      `yaml:"grpc"`
	History     HistoryConfig     `yaml:"history"`
	State       StateConfig       `yaml:"state"`
}

type KernelConfig struct {
	TimeoutSeconds   int    `yaml:"timeoutSeconds"`
	MaxConcurrent    int    `yaml:"maxConcurrent"`
	MaxOutputBytes   int    `yaml:"maxOutputBytes"`
	WorkingDirectory string `yaml:"workingDirectory"`
}

type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Path points at a policy YAML file; Denylist is an inline alternative.
	Path     string   `yaml:"path"`
	Denylist []string `yaml:"denylist"`
}

type InterpreterConfig struct {
	Command []string `yaml:"command"`
	Shell   bool     `yaml:"shell"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

type GatewayConfig struct {
	Addr        string   `yaml:"addr"`
	MaxSessions int      `yaml:"maxSessions"`
	Allowed     []string `yaml:"allowed"`
	// IdleTimeoutSeconds drops gRPC and HTTP sessions unused for this long.
	// Zero keeps them until released.
	IdleTimeoutSeconds int `yaml:"idleTimeoutSeconds"`
}

// ListenConfig is an optional listener; an empty Addr disables it.
type ListenConfig struct {
	Addr string `yaml:"addr"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type StateConfig struct {
	Dir string `yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Kernel: KernelConfig{
			TimeoutSeconds: session.DefaultTimeoutSeconds,
			MaxConcurrent:  session.DefaultMaxConcurrent,
			MaxOutputBytes: session.DefaultMaxOutputBytes,
		},
		Policy:      PolicyConfig{Enabled: true},
		Interpreter: InterpreterConfig{Command: []string{"Rscript", "-e"}},
		Log:         LogConfig{Level: session.DefaultLogLevel, Format: "json"},
		Gateway:     GatewayConfig{Addr: "127.0.0.1:7878", MaxSessions: 32, IdleTimeoutSeconds: 900},
		History:     HistoryConfig{Enabled: true, Path: workspace.HistoryPath()},
		State:       StateConfig{Dir: workspace.HomeDir()},
	}
}

// LoadConfig loads configuration from a YAML file and environment overrides.
// An empty path skips the file. A .env in the working directory is applied
// to the environment first without overriding existing variables.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if err := LoadDotEnvFromDir("."); err != nil {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	ints := []struct {
		key string
		dst *int
	}{
		{"CELLGATE_TIMEOUT", &c.Kernel.TimeoutSeconds},
		{"CELLGATE_MAX_CONCURRENT", &c.Kernel.MaxConcurrent},
		{"CELLGATE_MAX_OUTPUT", &c.Kernel.MaxOutputBytes},
		{"CELLGATE_MAX_SESSIONS", &c.Gateway.MaxSessions},
		{"CELLGATE_IDLE_TIMEOUT", &c.Gateway.IdleTimeoutSeconds},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", e.key, err)
			}
			*e.dst = n
		}
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"CELLGATE_WORKDIR", &c.Kernel.WorkingDirectory},
		{"CELLGATE_POLICY_FILE", &c.Policy.Path},
		{"CELLGATE_LOG_LEVEL", &c.Log.Level},
		{"CELLGATE_LOG_FORMAT", &c.Log.Format},
		{"CELLGATE_LOG_FILE", &c.Log.File},
		{"CELLGATE_GATEWAY_ADDR", &c.Gateway.Addr},
		{"CELLGATE_HTTP_ADDR", &c.HTTP.Addr},
		{"CELLGATE_GRPC_ADDR", &c.GRPC.Addr},
		{"CELLGATE_HISTORY_PATH", &c.History.Path},
		{"CELLGATE_STATE_DIR", &c.State.Dir},
	}
	for _, e := range strs {
		if v := os.Getenv(e.key); v != "" {
			*e.dst = v
		}
	}

	if v := os.Getenv("CELLGATE_POLICY"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CELLGATE_POLICY: %w", err)
		}
		c.Policy.Enabled = enabled
	}
	if v := os.Getenv("CELLGATE_INTERPRETER"); v != "" {
		c.Interpreter.Command = strings.Fields(v)
	}
	if v := os.Getenv("CELLGATE_ALLOWED"); v != "" {
		c.Gateway.Allowed = splitList(v)
	}
	return nil
}

// IdleTimeout is the idle lifetime of on-demand sessions.
func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Gateway.IdleTimeoutSeconds) * time.Second
}

// Validate rejects values the kernel cannot run with.
func (c *Config) Validate() error {
	if c.Kernel.TimeoutSeconds <= 0 {
		return fmt.Errorf("kernel.timeoutSeconds must be positive, got %d", c.Kernel.TimeoutSeconds)
	}
	if c.Kernel.MaxConcurrent <= 0 {
		return fmt.Errorf("kernel.maxConcurrent must be positive, got %d", c.Kernel.MaxConcurrent)
	}
	if c.Kernel.MaxOutputBytes <= 0 {
		return fmt.Errorf("kernel.maxOutputBytes must be positive, got %d", c.Kernel.MaxOutputBytes)
	}
	if c.Gateway.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("gateway.idleTimeoutSeconds must not be negative, got %d", c.Gateway.IdleTimeoutSeconds)
	}
	if _, err := session.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if f := strings.ToLower(c.Log.Format); f != "json" && f != "text" {
		return fmt.Errorf("log.format must be json or text, got %q", c.Log.Format)
	}
	if c.Kernel.WorkingDirectory != "" {
		info, err := os.Stat(c.Kernel.WorkingDirectory)
		if err != nil {
			return fmt.Errorf("kernel.workingDirectory: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("kernel.workingDirectory: %s is not a directory", c.Kernel.WorkingDirectory)
		}
	}
	return nil
}

// SessionDefaults is the snapshot every new session starts from.
func (c *Config) SessionDefaults() session.Snapshot {
	snap := session.DefaultSnapshot()
	snap.TimeoutSeconds = c.Kernel.TimeoutSeconds
	snap.MaxConcurrent = c.Kernel.MaxConcurrent
	snap.MaxOutputBytes = c.Kernel.MaxOutputBytes
	snap.PolicyEnabled = c.Policy.Enabled
	snap.LogLevel = strings.ToLower(c.Log.Level)
	if c.Kernel.WorkingDirectory != "" {
		snap.WorkingDirectory = c.Kernel.WorkingDirectory
	}
	return snap
}

// Denylist builds the trigger set: the policy file if set, else the inline
// list, else the defaults.
func (c *Config) Denylist() (*policy.Denylist, error) {
	if c.Policy.Path != "" {
		return policy.LoadFile(c.Policy.Path)
	}
	if len(c.Policy.Denylist) > 0 {
		return policy.NewDenylist(c.Policy.Denylist), nil
	}
	return policy.Default(), nil
}

// SessionsDir is where session settings are persisted.
func (c *Config) SessionsDir() string {
	return filepath.Join(c.State.Dir, workspace.SessionsDir)
}

// DefaultConfigPath returns the default location for the config file.
func DefaultConfigPath() string {
	if path := os.Getenv("CELLGATE_CONFIG"); path != "" {
		return path
	}
	return workspace.ConfigPath()
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
