package store

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
)

// migrationFiles embeds the hand-rolled SQL migrations. golang-migrate is
// deliberately not used here: its maintained sqlite driver is mattn/go-sqlite3
// (cgo), which cannot share a connection pool with the pure-Go
// modernc.org/sqlite driver this store uses for single-writer WAL access.
// Versioning, idempotence, and the checksum guard are reimplemented directly
// against *sql.DB instead.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

type migration struct {
	id       string
	script   string
	checksum string
}

func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	migrations := make([]migration, 0, len(names))
	for _, name := range names {
		b, err := migrationFiles.ReadFile("migrations/" + name)
		if err != nil {
			return nil, err
		}
		sum := sha256.Sum256(b)
		migrations = append(migrations, migration{
			id:       name,
			script:   string(b),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	return migrations, nil
}

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    id         TEXT PRIMARY KEY,
    checksum   TEXT NOT NULL,
    applied_at TEXT NOT NULL
);`

// applyMigrations runs every migration not yet recorded in
// schema_migrations, in filename order, and refuses to proceed if a
// previously-applied migration's checksum has changed on disk.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	migrations, err := loadMigrations()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	applied := map[string]string{}
	rows, err := db.Query("SELECT id, checksum FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var id, checksum string
		if err := rows.Scan(&id, &checksum); err != nil {
			rows.Close()
			return err
		}
		applied[id] = checksum
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, m := range migrations {
		if prevChecksum, ok := applied[m.id]; ok {
			if prevChecksum != m.checksum {
				return fmt.Errorf("migration %s checksum mismatch: committed migration was modified after being applied", m.id)
			}
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.script); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", m.id, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (id, checksum, applied_at) VALUES (?, ?, datetime('now'))",
			m.id, m.checksum,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.id, err)
		}
	}
	return nil
}
