package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/models"
)

// StateSchemaVersion is bumped whenever the sync_state layout changes.
const StateSchemaVersion = 1

// SQLiteSyncState implements StateStore using SQLite.
type SQLiteSyncState struct {
	db    *sql.DB
	reset bool
}

// NewSQLiteSyncState opens or creates the sync state database at dbPath.
// A schema version mismatch clears the state, so the next pass reindexes everything.
func NewSQLiteSyncState(dbPath string, opts Options) (*SQLiteSyncState, error) {
	db, recreated, err := openDB(dbPath, opts)
	if err != nil {
		return nil, err
	}
	s := &SQLiteSyncState{db: db, reset: recreated}

	meta, err := readMeta(db, "meta")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read state metadata: %w", err)
	}
	version := strconv.Itoa(StateSchemaVersion)
	if meta["schema_version"] == version {
		return s, nil
	}
	if opts.ReadOnly {
		_ = db.Close()
		return nil, ErrIncompatible
	}
	if len(meta) > 0 {
		opts.logger().Warn("sync state format changed, resetting",
			zap.String("path", dbPath), zap.String("old_version", meta["schema_version"]))
	}
	if err := s.initSchema(version); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.reset = true
	return s, nil
}

func (s *SQLiteSyncState) initSchema(version string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema := `
	DROP TABLE IF EXISTS sync_state;
	DROP TABLE IF EXISTS meta;

	CREATE TABLE meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE sync_state (
		path TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		size INTEGER NOT NULL,
		indexed_at INTEGER NOT NULL
	);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO meta (key, value) VALUES ('schema_version', ?)`, version); err != nil {
		return err
	}
	return tx.Commit()
}

// All returns every sync record keyed by vault path.
func (s *SQLiteSyncState) All(ctx context.Context) (map[string]models.FileState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, fingerprint, mtime, size, indexed_at FROM sync_state`)
	if err != nil {
		return nil, fmt.Errorf("query sync state: %w", err)
	}
	defer rows.Close()
	out := make(map[string]models.FileState)
	for rows.Next() {
		var st models.FileState
		var mtime, indexedAt int64
		if err := rows.Scan(&st.Path, &st.Fingerprint, &mtime, &st.Size, &indexedAt); err != nil {
			return nil, fmt.Errorf("scan sync state: %w", err)
		}
		st.ModTime = time.Unix(0, mtime)
		st.IndexedAt = time.Unix(0, indexedAt)
		out[st.Path] = st
	}
	return out, rows.Err()
}

// Put inserts or replaces the record for st.Path.
func (s *SQLiteSyncState) Put(ctx context.Context, st models.FileState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (path, fingerprint, mtime, size, indexed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET fingerprint = excluded.fingerprint, mtime = excluded.mtime,
		 size = excluded.size, indexed_at = excluded.indexed_at`,
		st.Path, st.Fingerprint, st.ModTime.UnixNano(), st.Size, st.IndexedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("put sync state for %s: %w", st.Path, err)
	}
	return nil
}

// Delete drops the record for path.
func (s *SQLiteSyncState) Delete(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_state WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete sync state for %s: %w", path, err)
	}
	return nil
}

// Clear drops every record and the last sync time.
func (s *SQLiteSyncState) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM sync_state`); err != nil {
		return fmt.Errorf("clear sync state: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM meta WHERE key = 'last_sync'`); err != nil {
		return fmt.Errorf("clear last sync: %w", err)
	}
	return tx.Commit()
}

// Count returns the number of tracked files.
func (s *SQLiteSyncState) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_state`).Scan(&n)
	return n, err
}

// LastSync returns when the last pass completed, or the zero time if never.
func (s *SQLiteSyncState) LastSync(ctx context.Context) (time.Time, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'last_sync'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read last sync: %w", err)
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync %q: %w", v, err)
	}
	return time.Unix(0, ns), nil
}

// SetLastSync records when a pass completed. The zero time forgets it.
func (s *SQLiteSyncState) SetLastSync(ctx context.Context, t time.Time) error {
	if t.IsZero() {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM meta WHERE key = 'last_sync'`); err != nil {
			return fmt.Errorf("clear last sync: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta (key, value) VALUES ('last_sync', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		strconv.FormatInt(t.UnixNano(), 10))
	if err != nil {
		return fmt.Errorf("write last sync: %w", err)
	}
	return nil
}

// Reset reports whether this open created or cleared the state.
func (s *SQLiteSyncState) Reset() bool {
	return s.reset
}

// Close closes the database.
func (s *SQLiteSyncState) Close() error {
	return s.db.Close()
}
