package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CELLGATE_HOME", t.TempDir())
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Kernel.TimeoutSeconds != 30 || cfg.Kernel.MaxConcurrent != 10 || cfg.Kernel.MaxOutputBytes != 1<<20 {
		t.Fatalf("unexpected kernel defaults %+v", cfg.Kernel)
	}
	if !cfg.Policy.Enabled {
		t.Fatalf("policy should default to enabled")
	}
	if cfg.IdleTimeout() != 15*time.Minute {
		t.Fatalf("unexpected idle timeout %v", cfg.IdleTimeout())
	}
	snap := cfg.SessionDefaults()
	if snap.TimeoutSeconds != 30 || !snap.PolicyEnabled || snap.LogLevel != "info" {
		t.Fatalf("unexpected session defaults %+v", snap)
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("CELLGATE_HOME", dir)
	chdir(t, dir)
	path := writeFile(t, dir, "config.yaml", `
kernel:
  timeoutSeconds: 5
  maxOutputBytes: 1024
policy:
  enabled: false
  denylist: ["system("]
interpreter:
  command: ["python3", "-c"]
log:
  level: debug
  format: text
`)
	t.Setenv("CELLGATE_MAX_CONCURRENT", "3")
	t.Setenv("CELLGATE_IDLE_TIMEOUT", "60")
	t.Setenv("CELLGATE_ALLOWED", "127.0.0.1, 10.0.0.0/8")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Kernel.TimeoutSeconds != 5 || cfg.Kernel.MaxOutputBytes != 1024 || cfg.Kernel.MaxConcurrent != 3 {
		t.Fatalf("unexpected kernel config %+v", cfg.Kernel)
	}
	if cfg.Policy.Enabled {
		t.Fatalf("expected policy disabled from file")
	}
	if cfg.IdleTimeout() != time.Minute {
		t.Fatalf("expected idle timeout from env, got %v", cfg.IdleTimeout())
	}
	if len(cfg.Interpreter.Command) != 2 || cfg.Interpreter.Command[0] != "python3" {
		t.Fatalf("unexpected interpreter %v", cfg.Interpreter.Command)
	}
	if len(cfg.Gateway.Allowed) != 2 || cfg.Gateway.Allowed[1] != "10.0.0.0/8" {
		t.Fatalf("unexpected allowlist %v", cfg.Gateway.Allowed)
	}

	deny, err := cfg.Denylist()
	if err != nil {
		t.Fatalf("Denylist: %v", err)
	}
	if ok, _ := deny.Check("system('ls')"); ok {
		t.Fatalf("expected inline denylist to apply")
	}
	if ok, _ := deny.Check("import os"); !ok {
		t.Fatalf("inline denylist replaces the defaults")
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)

	t.Setenv("CELLGATE_TIMEOUT", "abc")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for non-numeric timeout")
	}
	t.Setenv("CELLGATE_TIMEOUT", "0")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
	t.Setenv("CELLGATE_TIMEOUT", "10")
	t.Setenv("CELLGATE_LOG_LEVEL", "loud")
	if _, err := LoadConfig(""); err == nil {
		t.Fatalf("expected error for unknown log level")
	}
}

func TestDotEnvIsApplied(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	writeFile(t, dir, ".env", "CELLGATE_GRPC_ADDR=127.0.0.1:9999\n")
	t.Setenv("CELLGATE_GRPC_ADDR", "")
	os.Unsetenv("CELLGATE_GRPC_ADDR")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.GRPC.Addr != "127.0.0.1:9999" {
		t.Fatalf("expected grpc addr from .env, got %q", cfg.GRPC.Addr)
	}
}

func TestDefaultConfigPath(t *testing.T) {
	t.Setenv("CELLGATE_CONFIG", "/etc/cellgate.yaml")
	if got := DefaultConfigPath(); got != "/etc/cellgate.yaml" {
		t.Fatalf("expected env override, got %q", got)
	}
	t.Setenv("CELLGATE_CONFIG", "")
	home := t.TempDir()
	t.Setenv("CELLGATE_HOME", home)
	if got := DefaultConfigPath(); got != filepath.Join(home, "config.yaml") {
		t.Fatalf("unexpected default path %q", got)
	}
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir %s: %v", dir, err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(prev); err != nil {
			t.Fatalf("restore cwd: %v", err)
		}
	})
}
