// Package store implements spec component C6's storage substrate: a local,
// single-writer transactional store over SQLite in WAL mode, with foreign
// keys enabled and positional query parameters throughout.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/strongdm/promptwheel/internal/model"
)

// Store wraps the database connection and exposes the per-entity operations
// used by the orchestrator, scheduler, and CLI.
type Store struct {
	db *sql.DB
}

// Open creates (if needed) and migrates a SQLite database at path, enabling
// WAL journaling and foreign key enforcement (spec §4.C6 "Storage substrate").
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// A single-writer store has no use for a connection pool; serializing
	// through one connection avoids SQLITE_BUSY under WAL with writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := applyMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nowMS() int64 {
	return time.Now().UTC().UnixMilli()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// ErrConflict is returned when a conditional update's WHERE clause matched no
// rows, signaling a lost optimistic-concurrency race (spec §4.C6 "a
// transition that does not match the expected 'from' status fails").
type ErrConflict struct {
	Entity string
	ID     string
	Reason string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("store conflict on %s %s: %s", e.Entity, e.ID, e.Reason)
}

// ErrNotFound is returned when a lookup by id matches no row.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// failureKindFromError classifies a raw driver error into the taxonomy from
// spec §7, for callers that need to pass it to the recovery analyzer.
func failureKindFromError(err error) model.FailureKind {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "constraint"):
		return model.FailureStoreConflict
	case strings.Contains(msg, "locked"), strings.Contains(msg, "busy"):
		return model.FailureStoreConflict
	default:
		return model.FailureUnknown
	}
}
