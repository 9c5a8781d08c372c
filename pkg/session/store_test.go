package session

import "testing"

func TestStoreSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	settings := DefaultSnapshot()
	settings.TimeoutSeconds = 7
	settings.PolicyEnabled = false
	if err := store.Save("analysis", settings); err != nil {
		t.Fatalf("save: %v", err)
	}
	rec, found, err := store.Load("analysis")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatalf("expected record to be found")
	}
	if rec.Settings.TimeoutSeconds != 7 || rec.Settings.PolicyEnabled {
		t.Fatalf("unexpected settings %+v", rec.Settings)
	}
}

func TestStoreDelete(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := store.Save("scratch", DefaultSnapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete("scratch"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, found, err := store.Load("scratch"); err != nil || found {
		t.Fatalf("expected record gone, found=%v err=%v", found, err)
	}
	if err := store.Delete("scratch"); err != nil {
		t.Fatalf("deleting a missing record should succeed, got %v", err)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := NewStore(t.TempDir())
	rec, found, err := store.Load("nope")
	if err != nil || found || rec != nil {
		t.Fatalf("expected clean miss, got %v %v %v", rec, found, err)
	}
}

func TestStoreRejectsPathIDs(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, id := range []string{"", "..", "a/b", `a\b`} {
		if err := store.Save(id, DefaultSnapshot()); err == nil {
			t.Fatalf("expected error for id %q", id)
		}
	}
}
