package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sameehj/cellgate/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordAndRecent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	start := time.Now().Truncate(time.Millisecond)

	for i := 1; i <= 3; i++ {
		err := store.Record(ctx, types.HistoryEntry{
			SessionID:      "s1",
			ExecutionCount: i,
			Source:         "x <- 1",
			Status:         types.StatusOK,
			StartedAt:      start,
			Duration:       1500 * time.Millisecond,
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := store.Record(ctx, types.HistoryEntry{SessionID: "s2", ExecutionCount: 1, Status: types.StatusTimeout}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entries, err := store.Recent(ctx, "s1", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ExecutionCount != 2 || entries[1].ExecutionCount != 3 {
		t.Fatalf("expected oldest-first tail, got %d,%d", entries[0].ExecutionCount, entries[1].ExecutionCount)
	}
	if entries[1].Duration != 1500*time.Millisecond || !entries[1].StartedAt.Equal(start) {
		t.Fatalf("timing not preserved: %+v", entries[1])
	}

	other, err := store.Recent(ctx, "s2", 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(other) != 1 || other[0].Status != types.StatusTimeout {
		t.Fatalf("expected isolated session history, got %+v", other)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_ = first.Record(context.Background(), types.HistoryEntry{SessionID: "s", Status: types.StatusOK})
	first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	v, err := second.SchemaVersion()
	if err != nil || v != len(migrations) {
		t.Fatalf("expected schema version %d, got %d (%v)", len(migrations), v, err)
	}
	entries, _ := second.Recent(context.Background(), "s", 10)
	if len(entries) != 1 {
		t.Fatalf("expected data to survive reopen, got %d", len(entries))
	}
}

func TestInMemoryStore(t *testing.T) {
	store, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer store.Close()
	if err := store.Record(context.Background(), types.HistoryEntry{SessionID: "m", Status: types.StatusOK}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	entries, err := store.Recent(context.Background(), "m", 5)
	if err != nil || len(entries) != 1 {
		t.Fatalf("expected one entry, got %d (%v)", len(entries), err)
	}
}

func TestNilStore(t *testing.T) {
	var store *Store
	if err := store.Record(context.Background(), types.HistoryEntry{SessionID: "x"}); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := store.Recent(context.Background(), "x", 1); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRecordRequiresSession(t *testing.T) {
	store := openTestStore(t)
	if err := store.Record(context.Background(), types.HistoryEntry{}); err == nil {
		t.Fatalf("expected error for empty session id")
	}
}
