package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Record is the persisted form of a session's settings.
type Record struct {
	ID        string    `json:"id"`
	Settings  Snapshot  `json:"settings"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps session settings on disk, one JSON file per session ID, so a
// restarted kernel can resume them.
type Store struct {
	baseDir string
}

func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Load returns the stored record for id; found is false when none exists.
func (s *Store) Load(id string) (rec *Record, found bool, err error) {
	path, err := s.path(id)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read session %s: %w", id, err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, false, fmt.Errorf("parse session %s: %w", id, err)
	}
	return &r, true, nil
}

func (s *Store) Save(id string, settings Snapshot) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(Record{ID: id, Settings: settings, UpdatedAt: time.Now()}, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Delete removes the stored record for id. A missing record is not an error.
func (s *Store) Delete(id string) error {
	path, err := s.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

func (s *Store) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid session id %q", id)
	}
	return filepath.Join(s.baseDir, id+".json"), nil
}
