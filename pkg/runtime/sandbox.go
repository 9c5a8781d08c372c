package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// sandboxManager hands out per-session scratch directories. These only keep
// sessions from tripping over each other's files; they are not an isolation
// boundary.
type sandboxManager struct {
	root string
	mu   sync.Mutex
	dirs map[string]string
}

func newSandboxManager(root string) *sandboxManager {
	return &sandboxManager{root: root, dirs: make(map[string]string)}
}

func (sm *sandboxManager) Ensure(sessionID string) (string, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if dir, ok := sm.dirs[sessionID]; ok {
		return dir, nil
	}
	if sm.root == "" {
		return "", fmt.Errorf("scratch root not configured")
	}

	dir := filepath.Join(sm.root, "scratch", sanitizeSandboxID(sessionID))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("prepare scratch directory: %w", err)
	}
	sm.dirs[sessionID] = dir
	return dir, nil
}

func (sm *sandboxManager) Remove(sessionID string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	dir, ok := sm.dirs[sessionID]
	if !ok {
		return
	}
	delete(sm.dirs, sessionID)
	_ = os.RemoveAll(dir)
}

func sanitizeSandboxID(id string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "@", "_", ":", "_", "..", "_")
	return replacer.Replace(id)
}
