// Package history records executed cells in a SQLite database so clients can
// page back through what a session ran.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sameehj/cellgate/pkg/types"
)

// ErrStoreUnavailable indicates the history store is not open.
var ErrStoreUnavailable = errors.New("history store unavailable")

// DefaultLimit caps Recent when the caller passes a non-positive limit.
const DefaultLimit = 50

type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{1, "cells", `
		CREATE TABLE IF NOT EXISTS cells (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			execution_count INTEGER NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL
		)`},
	{2, "cells_session_index", `CREATE INDEX IF NOT EXISTS idx_cells_session ON cells(session_id, id)`},
}

// Store is a SQLite backed history.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path. ":memory:" gives a private
// in-process database.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("history path cannot be empty")
	}
	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create history directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	if memory {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(4)
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.stmt); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, ?)`,
			m.version, m.name, time.Now().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion reports the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&v)
	return v, err
}

// Record appends one executed cell.
func (s *Store) Record(ctx context.Context, entry types.HistoryEntry) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	if entry.SessionID == "" {
		return errors.New("history entry has no session id")
	}
	started := entry.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cells (session_id, execution_count, source, status, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.SessionID,
		entry.ExecutionCount,
		entry.Source,
		string(entry.Status),
		started.UnixNano(),
		entry.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("record cell: %w", err)
	}
	return nil
}

// Recent returns up to limit cells of a session in execution order, ending
// with the newest.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]types.HistoryEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrStoreUnavailable
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, execution_count, source, status, started_at, duration_ms
		FROM cells WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []types.HistoryEntry
	for rows.Next() {
		var (
			e        types.HistoryEntry
			status   string
			started  int64
			duration int64
		)
		if err := rows.Scan(&e.SessionID, &e.ExecutionCount, &e.Source, &status, &started, &duration); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Status = types.Status(status)
		e.StartedAt = time.Unix(0, started)
		e.Duration = time.Duration(duration) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
