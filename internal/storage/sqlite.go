package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/models"
)

// ChunkSchemaVersion is bumped whenever the chunks table or the chunk text format changes.
const ChunkSchemaVersion = 1

// Tag identifies what the stored vectors are compatible with.
type Tag struct {
	Dimensions int
	Model      string
}

// SQLiteChunkStore implements ChunkStore using SQLite.
type SQLiteChunkStore struct {
	db    *sql.DB
	meta  map[string]string
	reset bool
}

// NewSQLiteChunkStore opens or creates the chunk database at dbPath. A writer
// drops and recreates the tables when the stored schema version, dimensions or
// model differ from tag; a read-only open returns ErrIncompatible instead.
func NewSQLiteChunkStore(dbPath string, tag Tag, opts Options) (*SQLiteChunkStore, error) {
	db, recreated, err := openDB(dbPath, opts)
	if err != nil {
		return nil, err
	}
	meta, err := readMeta(db, "index_meta")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	want := map[string]string{
		"schema_version": strconv.Itoa(ChunkSchemaVersion),
		"dimensions":     strconv.Itoa(tag.Dimensions),
		"model":          tag.Model,
	}
	s := &SQLiteChunkStore{db: db, meta: want, reset: recreated}
	if matches(meta, want) {
		return s, nil
	}
	if opts.ReadOnly {
		_ = db.Close()
		return nil, ErrIncompatible
	}
	if len(meta) > 0 {
		opts.logger().Warn("index format changed, rebuilding",
			zap.String("path", dbPath),
			zap.String("old_model", meta["model"]), zap.String("new_model", tag.Model),
			zap.String("old_dimensions", meta["dimensions"]), zap.Int("new_dimensions", tag.Dimensions))
	}
	if err := s.initSchema(want); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.reset = true
	return s, nil
}

func matches(meta, want map[string]string) bool {
	for k, v := range want {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func (s *SQLiteChunkStore) initSchema(meta map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	schema := `
	DROP TABLE IF EXISTS chunks;
	DROP TABLE IF EXISTS index_meta;

	CREATE TABLE index_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE chunks (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		content TEXT NOT NULL,
		start_offset INTEGER NOT NULL,
		end_offset INTEGER NOT NULL,
		embedding BLOB NOT NULL
	);

	CREATE INDEX idx_chunks_path ON chunks(path, chunk_index);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	for k, v := range meta {
		if _, err := tx.Exec(`INSERT INTO index_meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ReplaceFile deletes the stored chunks of path and inserts chunks in one transaction.
func (s *SQLiteChunkStore) ReplaceFile(ctx context.Context, path string, chunks []*models.Chunk) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", path, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO chunks (id, path, chunk_index, content, start_offset, end_offset, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, path, c.Index, c.Text, c.StartOffset, c.EndOffset, encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", c.Index, path, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", path, err)
	}
	return nil
}

// DeleteFile removes every chunk of path.
func (s *SQLiteChunkStore) DeleteFile(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE path = ?`, path); err != nil {
		return fmt.Errorf("delete chunks for %s: %w", path, err)
	}
	return nil
}

// Each streams every chunk, ordered by path and chunk index.
func (s *SQLiteChunkStore) Each(ctx context.Context, fn func(*models.Chunk) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, path, chunk_index, content, start_offset, end_offset, embedding
		 FROM chunks ORDER BY path, chunk_index`)
	if err != nil {
		return fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		c := &models.Chunk{}
		var blob []byte
		if err := rows.Scan(&c.ID, &c.Path, &c.Index, &c.Text, &c.StartOffset, &c.EndOffset, &blob); err != nil {
			return fmt.Errorf("scan chunk: %w", err)
		}
		if c.Embedding, err = decodeEmbedding(blob); err != nil {
			return fmt.Errorf("chunk %s: %w", c.ID, err)
		}
		if err := fn(c); err != nil {
			return err
		}
	}
	return rows.Err()
}

// CountChunks returns the number of stored chunks.
func (s *SQLiteChunkStore) CountChunks(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&n)
	return n, err
}

// Rebuild drops every chunk and recreates the tables for the store's tag.
// Reset reports true afterwards.
func (s *SQLiteChunkStore) Rebuild() error {
	if err := s.initSchema(s.meta); err != nil {
		return fmt.Errorf("failed to rebuild index: %w", err)
	}
	s.reset = true
	return nil
}

// Reset reports whether this open created or rebuilt the store.
func (s *SQLiteChunkStore) Reset() bool {
	return s.reset
}

// Close closes the database.
func (s *SQLiteChunkStore) Close() error {
	return s.db.Close()
}
