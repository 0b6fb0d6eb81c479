// Package storage persists chunk vectors and sync state in SQLite.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/obra/internal/models"
)

// ErrIncompatible is returned by a read-only open when the on-disk schema,
// dimensions or model differ from what the caller expects.
var ErrIncompatible = errors.New("index is incompatible with the current configuration")

// ChunkStore persists each file's chunk set with its embeddings.
type ChunkStore interface {
	// ReplaceFile swaps the whole chunk set of path in one transaction.
	ReplaceFile(ctx context.Context, path string, chunks []*models.Chunk) error
	DeleteFile(ctx context.Context, path string) error
	// Each calls fn for every stored chunk, ordered by path and chunk index.
	Each(ctx context.Context, fn func(*models.Chunk) error) error
	CountChunks(ctx context.Context) (int64, error)
	// Reset reports whether the store was created or rebuilt by this open.
	Reset() bool
	Close() error
}

// StateStore persists the per-file sync records and the time of the last completed pass.
type StateStore interface {
	All(ctx context.Context) (map[string]models.FileState, error)
	Put(ctx context.Context, st models.FileState) error
	Delete(ctx context.Context, path string) error
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int64, error)
	LastSync(ctx context.Context) (time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error
	Reset() bool
	Close() error
}
