// Package vector provides the in-memory cosine index and the file-scoped
// vector store that keeps it in step with SQLite.
package vector

import "github.com/hyperjump/obra/internal/models"

// Hit is a single nearest-neighbour match from a MemoryIndex.
type Hit struct {
	ID       string
	Distance float64 // 1 - cosine similarity, for normalized vectors
}

// Candidate is a Hit resolved to its chunk.
type Candidate struct {
	Chunk    *models.Chunk
	Distance float64
}

// Stats summarizes what a Store holds.
type Stats struct {
	Files  int
	Chunks int
}
