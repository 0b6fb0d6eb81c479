package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/storage"
)

// Store is the vector store: chunk vectors kept in a MemoryIndex for querying
// and persisted through a storage.ChunkStore. One lock covers the index and the
// chunk metadata, so readers never see half of a file's chunk set.
type Store struct {
	mu     sync.RWMutex
	db     storage.ChunkStore
	index  *MemoryIndex
	chunks map[string]*models.Chunk // by chunk ID, without embeddings
	files  map[string][]string      // path -> chunk IDs
}

// Open loads every persisted chunk of db into memory.
func Open(ctx context.Context, db storage.ChunkStore, dimensions int) (*Store, error) {
	index, err := NewMemoryIndex(dimensions)
	if err != nil {
		return nil, err
	}
	s := &Store{
		db:     db,
		index:  index,
		chunks: make(map[string]*models.Chunk),
		files:  make(map[string][]string),
	}
	err = db.Each(ctx, func(c *models.Chunk) error {
		return s.put(c)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load vector store: %w", err)
	}
	return s, nil
}

func (s *Store) put(c *models.Chunk) error {
	if err := s.index.Add([]string{c.ID}, [][]float32{c.Embedding}); err != nil {
		return fmt.Errorf("chunk %d of %s: %w", c.Index, c.Path, err)
	}
	meta := *c
	meta.Embedding = nil
	s.chunks[c.ID] = &meta
	s.files[c.Path] = append(s.files[c.Path], c.ID)
	return nil
}

func (s *Store) drop(path string) {
	ids := s.files[path]
	s.index.Remove(ids)
	for _, id := range ids {
		delete(s.chunks, id)
	}
	delete(s.files, path)
}

// ReplaceFile swaps the chunk set of path. The database transaction commits
// before the in-memory swap; on error neither changes.
func (s *Store) ReplaceFile(ctx context.Context, path string, chunks []*models.Chunk) error {
	dims := s.index.Dimensions()
	for _, c := range chunks {
		if c.Path != path {
			return fmt.Errorf("chunk %d belongs to %s, not %s", c.Index, c.Path, path)
		}
		if len(c.Embedding) != dims {
			return fmt.Errorf("chunk %d of %s has %d dimensions, want %d", c.Index, path, len(c.Embedding), dims)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.ReplaceFile(ctx, path, chunks); err != nil {
		return err
	}
	s.drop(path)
	for _, c := range chunks {
		if err := s.put(c); err != nil {
			return err
		}
	}
	return nil
}

// DeleteFile removes every chunk of path.
func (s *Store) DeleteFile(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteFile(ctx, path); err != nil {
		return err
	}
	s.drop(path)
	return nil
}

// Query returns up to k chunks nearest to vec, ordered by ascending distance.
// Equal distances are ordered by path, then chunk index.
func (s *Store) Query(ctx context.Context, vec []float32, k int) ([]Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	hits, err := s.index.Search(vec, k, func(a, b string) bool {
		ca, cb := s.chunks[a], s.chunks[b]
		if ca.Path != cb.Path {
			return ca.Path < cb.Path
		}
		return ca.Index < cb.Index
	})
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, len(hits))
	for i, h := range hits {
		out[i] = Candidate{Chunk: s.chunks[h.ID], Distance: h.Distance}
	}
	return out, nil
}

// Paths returns the sorted set of files that have chunks.
func (s *Store) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.files))
	for p := range s.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// HasFile reports whether path has chunks.
func (s *Store) HasFile(path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[path]
	return ok
}

// Stats reports the number of files and chunks held.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{Files: len(s.files), Chunks: s.index.Size()}
}

// Rebuilt reports whether the underlying database was created or rebuilt on open.
func (s *Store) Rebuilt() bool {
	return s.db.Reset()
}

// Dimensions returns the vector length the store accepts.
func (s *Store) Dimensions() int {
	return s.index.Dimensions()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
