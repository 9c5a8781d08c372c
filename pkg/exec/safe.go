package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sameehj/cellgate/pkg/types"
)

const (
	// ArtifactDirEnv names the directory an interpreter process may write plots into.
	ArtifactDirEnv = "CELLGATE_ARTIFACT_DIR"
	// LineEnv carries the line when the interpreter runs as a shell template.
	LineEnv = "CELLGATE_LINE"

	traceTail        = 4096
	maxArtifactBytes = 8 << 20
	waitDelay        = 2 * time.Second
)

// CommandInterpreter runs an external interpreter process once per line. With
// Shell unset, the line is appended as the final argument of Command (for
// example ["Rscript", "-e"]). With Shell set, Command is joined into a shell
// script that reads the line from $CELLGATE_LINE.
type CommandInterpreter struct {
	Command      []string
	Shell        bool
	Env          []string
	ArtifactRoot string
}

func NewCommandInterpreter(command []string, shell bool) (*CommandInterpreter, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, errors.New("interpreter command is required")
	}
	return &CommandInterpreter{Command: command, Shell: shell}, nil
}

func (ci *CommandInterpreter) Interpret(ctx context.Context, call Call) (*Result, error) {
	artifactDir, err := os.MkdirTemp(ci.ArtifactRoot, "cellgate-artifacts-")
	if err != nil {
		return nil, fmt.Errorf("prepare artifact dir: %w", err)
	}
	defer os.RemoveAll(artifactDir)

	var command *exec.Cmd
	if ci.Shell {
		command = ShellCommand(strings.Join(ci.Command, " "))
		command = exec.CommandContext(ctx, command.Path, command.Args[1:]...)
	} else {
		args := append(append([]string(nil), ci.Command[1:]...), call.Line)
		command = exec.CommandContext(ctx, ci.Command[0], args...)
	}
	command.Dir = call.Dir
	command.Env = append(append(os.Environ(), ci.Env...),
		ArtifactDirEnv+"="+artifactDir,
		LineEnv+"="+call.Line,
	)
	command.WaitDelay = waitDelay

	tail := &tailBuffer{limit: traceTail}
	stderr := call.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	command.Stdout = call.Stdout
	command.Stderr = io.MultiWriter(stderr, tail)

	if err := command.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &RuntimeError{
				Message: fmt.Sprintf("interpreter exited with status %d", exitErr.ExitCode()),
				Trace:   tail.String(),
			}
		}
		return nil, fmt.Errorf("start interpreter: %w", err)
	}

	artifacts, err := collectArtifacts(artifactDir)
	if err != nil {
		return nil, err
	}
	return &Result{Artifacts: artifacts}, nil
}

func ShellCommand(command string) *exec.Cmd {
	switch runtime.GOOS {
	case "windows":
		return exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", command)
	default:
		return exec.Command("sh", "-c", command)
	}
}

func collectArtifacts(dir string) ([]types.Artifact, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read artifact dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var artifacts []types.Artifact
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.Size() > maxArtifactBytes {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read artifact %s: %w", entry.Name(), err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(entry.Name()))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		artifacts = append(artifacts, types.Artifact{Name: entry.Name(), MIMEType: mimeType, Data: data})
	}
	return artifacts, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if len(t.buf) > t.limit {
		t.buf = t.buf[len(t.buf)-t.limit:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
