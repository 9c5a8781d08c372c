package session

import (
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig(Snapshot{PolicyEnabled: true})
	snap := cfg.Snapshot()
	if snap.TimeoutSeconds != 30 || snap.MaxConcurrent != 10 || snap.MaxOutputBytes != 1<<20 {
		t.Fatalf("unexpected defaults %+v", snap)
	}
	if snap.LogLevel != "info" || snap.WorkingDirectory == "" {
		t.Fatalf("unexpected defaults %+v", snap)
	}
}

func TestSetTimeoutValidation(t *testing.T) {
	cfg := NewConfig(DefaultSnapshot())
	if err := cfg.SetTimeout(0); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
	if err := cfg.SetTimeout(5); err != nil {
		t.Fatalf("SetTimeout: %v", err)
	}
	if cfg.Snapshot().TimeoutSeconds != 5 || cfg.Version() != 1 {
		t.Fatalf("expected timeout 5 at version 1, got %+v v%d", cfg.Snapshot(), cfg.Version())
	}
}

func TestSetWorkingDirectoryRequiresDirectory(t *testing.T) {
	cfg := NewConfig(DefaultSnapshot())
	if err := cfg.SetWorkingDirectory(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	dir := t.TempDir()
	if err := cfg.SetWorkingDirectory(dir); err != nil {
		t.Fatalf("SetWorkingDirectory: %v", err)
	}
	if cfg.WorkingDirectory() != dir {
		t.Fatalf("expected %s, got %s", dir, cfg.WorkingDirectory())
	}
}

func TestSetLogLevelUpdatesLevelVar(t *testing.T) {
	cfg := NewConfig(DefaultSnapshot())
	var lv slog.LevelVar
	cfg.BindLevel(&lv)
	if err := cfg.SetLogLevel("debug"); err != nil {
		t.Fatalf("SetLogLevel: %v", err)
	}
	if lv.Level() != slog.LevelDebug {
		t.Fatalf("expected debug level, got %v", lv.Level())
	}
	if err := cfg.SetLogLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestConcurrentMutationsAreSerialized(t *testing.T) {
	cfg := NewConfig(DefaultSnapshot())
	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = cfg.SetTimeout(n)
			cfg.SetPolicyEnabled(n%2 == 0)
			_ = cfg.Snapshot()
		}(i)
	}
	wg.Wait()
	if cfg.Version() != 100 {
		t.Fatalf("expected 100 mutations, got %d", cfg.Version())
	}
}

func TestRestoreKeepsStartupLimits(t *testing.T) {
	cfg := NewConfig(Snapshot{MaxConcurrent: 3, MaxOutputBytes: 99, PolicyEnabled: true})
	cfg.Restore(Snapshot{TimeoutSeconds: 4, MaxConcurrent: 50, MaxOutputBytes: 5000, LogLevel: "warn", PolicyEnabled: false})
	snap := cfg.Snapshot()
	if snap.TimeoutSeconds != 4 || snap.LogLevel != "warn" {
		t.Fatalf("expected restored mutable fields, got %+v", snap)
	}
	if snap.MaxConcurrent != 3 || snap.MaxOutputBytes != 99 || !snap.PolicyEnabled {
		t.Fatalf("startup limits and policy must not be restored, got %+v", snap)
	}
}
