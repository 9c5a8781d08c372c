package session

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	DefaultTimeoutSeconds = 30
	DefaultMaxConcurrent  = 10
	DefaultMaxOutputBytes = 1 << 20
	DefaultLogLevel       = "info"
)

// Snapshot is an immutable copy of a session's execution policy.
type Snapshot struct {
	TimeoutSeconds   int    `json:"timeout_seconds" yaml:"timeoutSeconds"`
	WorkingDirectory string `json:"working_directory" yaml:"workingDirectory"`
	LogLevel         string `json:"log_level" yaml:"logLevel"`
	PolicyEnabled    bool   `json:"policy_enabled" yaml:"policyEnabled"`
	MaxConcurrent    int    `json:"max_concurrent" yaml:"maxConcurrent"`
	MaxOutputBytes   int    `json:"max_output_bytes" yaml:"maxOutputBytes"`
}

func DefaultSnapshot() Snapshot {
	cwd, _ := os.Getwd()
	return Snapshot{
		TimeoutSeconds:   DefaultTimeoutSeconds,
		WorkingDirectory: cwd,
		LogLevel:         DefaultLogLevel,
		PolicyEnabled:    true,
		MaxConcurrent:    DefaultMaxConcurrent,
		MaxOutputBytes:   DefaultMaxOutputBytes,
	}
}

// Config is the mutable per-session state. It belongs to exactly one gateway;
// writes are serialized so concurrent cells can never interleave mutations.
type Config struct {
	mu       sync.RWMutex
	snap     Snapshot
	version  uint64
	levelVar *slog.LevelVar
}

// NewConfig fills zero fields of initial from DefaultSnapshot. PolicyEnabled is
// taken as given.
func NewConfig(initial Snapshot) *Config {
	def := DefaultSnapshot()
	if initial.TimeoutSeconds <= 0 {
		initial.TimeoutSeconds = def.TimeoutSeconds
	}
	if initial.WorkingDirectory == "" {
		initial.WorkingDirectory = def.WorkingDirectory
	}
	if _, err := ParseLogLevel(initial.LogLevel); err != nil {
		initial.LogLevel = def.LogLevel
	}
	initial.LogLevel = strings.ToLower(initial.LogLevel)
	if initial.MaxConcurrent <= 0 {
		initial.MaxConcurrent = def.MaxConcurrent
	}
	if initial.MaxOutputBytes <= 0 {
		initial.MaxOutputBytes = def.MaxOutputBytes
	}
	return &Config{snap: initial}
}

// BindLevel makes log_level changes adjust v as well.
func (c *Config) BindLevel(v *slog.LevelVar) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levelVar = v
	if v != nil {
		lvl, _ := ParseLogLevel(c.snap.LogLevel)
		v.Set(lvl)
	}
}

func (c *Config) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

// Version increases by one for every successful mutation.
func (c *Config) Version() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

func (c *Config) PolicyEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.PolicyEnabled
}

func (c *Config) WorkingDirectory() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.WorkingDirectory
}

func (c *Config) SetTimeout(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("timeout must be a positive number of seconds, got %d", seconds)
	}
	c.update(func(s *Snapshot) { s.TimeoutSeconds = seconds })
	return nil
}

func (c *Config) SetWorkingDirectory(path string) error {
	if path == "" {
		return fmt.Errorf("working directory must not be empty")
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("working directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("working directory: %s is not a directory", path)
	}
	c.update(func(s *Snapshot) { s.WorkingDirectory = path })
	return nil
}

func (c *Config) SetLogLevel(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snap.LogLevel = strings.ToLower(level)
	c.version++
	if c.levelVar != nil {
		c.levelVar.Set(lvl)
	}
	return nil
}

func (c *Config) SetPolicyEnabled(enabled bool) {
	c.update(func(s *Snapshot) { s.PolicyEnabled = enabled })
}

// Restore replaces the mutable fields with those of a persisted snapshot.
// Startup-only limits and the policy switch keep their startup values; a
// disabled policy lasts only as long as the session that disabled it.
func (c *Config) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.TimeoutSeconds > 0 {
		c.snap.TimeoutSeconds = s.TimeoutSeconds
	}
	if s.WorkingDirectory != "" {
		if info, err := os.Stat(s.WorkingDirectory); err == nil && info.IsDir() {
			c.snap.WorkingDirectory = s.WorkingDirectory
		}
	}
	if lvl, err := ParseLogLevel(s.LogLevel); err == nil {
		c.snap.LogLevel = strings.ToLower(s.LogLevel)
		if c.levelVar != nil {
			c.levelVar.Set(lvl)
		}
	}
}

func (c *Config) update(fn func(*Snapshot)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.snap)
	c.version++
}

// ParseLogLevel accepts debug, info, warn/warning and error.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", level)
	}
}
