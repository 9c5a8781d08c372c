package runtime

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSandboxManagerEnsureAndRemove(t *testing.T) {
	root := t.TempDir()
	manager := newSandboxManager(root)

	dir, err := manager.Ensure("../escape@1")
	if err != nil {
		t.Fatalf("ensure scratch dir: %v", err)
	}
	if filepath.Dir(dir) != filepath.Join(root, "scratch") {
		t.Fatalf("scratch dir escaped its root: %s", dir)
	}
	if again, _ := manager.Ensure("../escape@1"); again != dir {
		t.Fatalf("expected the same directory on repeat, got %s", again)
	}

	manager.Remove("../escape@1")
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("expected scratch directory to be removed, got %v", err)
	}
}
