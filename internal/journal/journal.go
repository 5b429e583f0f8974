// Package journal keeps a local SQLite record of removed capture files and
// of the index marks that still need confirming.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Removal modes.
const (
	ModeTargeted   = "targeted"
	ModeBruteForce = "brute_force"
)

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Entry is one removed capture file.
type Entry struct {
	ID         int64
	CycleID    string
	Path       string
	FileID     string
	DocumentID string
	Index      string
	Mode       string
	SizeBytes  int64
	RemovedAt  time.Time
	Confirmed  bool
}

// Store is a SQLite-backed removal journal.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the journal database at path.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single writer; avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	store := &Store{
		db:     db,
		logger: logger.With().Str("component", "journal").Logger(),
	}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	store.logger.Info().Str("path", path).Msg("removal journal initialized")

	return store, nil
}

// migrate creates the necessary tables.
func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS removals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			cycle_id TEXT NOT NULL,
			path TEXT NOT NULL,
			file_id TEXT NOT NULL DEFAULT '',
			document_id TEXT NOT NULL DEFAULT '',
			index_name TEXT NOT NULL DEFAULT '',
			mode TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			removed_at TEXT NOT NULL,
			confirmed INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_removals_confirmed ON removals(confirmed);
		CREATE INDEX IF NOT EXISTS idx_removals_removed_at ON removals(removed_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Record stores entries in one transaction.
func (s *Store) Record(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO removals (cycle_id, path, file_id, document_id, index_name, mode, size_bytes, removed_at, confirmed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		removedAt := e.RemovedAt
		if removedAt.IsZero() {
			removedAt = time.Now()
		}
		if _, err := stmt.ExecContext(ctx,
			e.CycleID,
			e.Path,
			e.FileID,
			e.DocumentID,
			e.Index,
			e.Mode,
			e.SizeBytes,
			removedAt.UTC().Format(timeLayout),
			boolToInt(e.Confirmed),
		); err != nil {
			return fmt.Errorf("insert removal %s: %w", e.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit removals: %w", err)
	}
	return nil
}

// Unconfirmed returns up to limit entries whose index mark has not succeeded,
// oldest first.
func (s *Store) Unconfirmed(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, cycle_id, path, file_id, document_id, index_name, mode, size_bytes, removed_at, confirmed
		FROM removals
		WHERE confirmed = 0 AND document_id != ''
		ORDER BY id ASC
		LIMIT ?
	`, limit)
}

// Recent returns the newest limit entries.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.query(ctx, `
		SELECT id, cycle_id, path, file_id, document_id, index_name, mode, size_bytes, removed_at, confirmed
		FROM removals
		ORDER BY id DESC
		LIMIT ?
	`, limit)
}

// Confirm flags entries as marked in the index.
func (s *Store) Confirm(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, "UPDATE removals SET confirmed = 1 WHERE id IN ("+placeholders+")", args...)
	if err != nil {
		return fmt.Errorf("confirm removals: %w", err)
	}
	return nil
}

// Prune deletes confirmed entries older than olderThan.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(timeLayout)
	result, err := s.db.ExecContext(ctx, "DELETE FROM removals WHERE confirmed = 1 AND removed_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune removals: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query removals: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			removedAt string
			confirmed int
		)
		if err := rows.Scan(&e.ID, &e.CycleID, &e.Path, &e.FileID, &e.DocumentID, &e.Index, &e.Mode, &e.SizeBytes, &removedAt, &confirmed); err != nil {
			return nil, fmt.Errorf("scan removal: %w", err)
		}
		e.RemovedAt, err = time.Parse(timeLayout, removedAt)
		if err != nil {
			return nil, fmt.Errorf("parse removed_at: %w", err)
		}
		e.Confirmed = confirmed != 0
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate removals: %w", err)
	}
	return entries, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
