package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOpenWritesFileAndHonoursLevelVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "cellgate.log")
	logger, err := Open(Options{Level: "warn", Format: "text", File: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	logger.Info("hidden_event")
	logger.Level.Set(slog.LevelDebug)
	logger.Debug("visible_event")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden_event") || !strings.Contains(out, "visible_event") {
		t.Fatalf("unexpected log output %q", out)
	}
}
