// Package models defines core data structures for vault files, chunks, sync reports and search results.
package models

import "time"

// VaultFile is a file observed during a vault scan. It is recomputed on every scan.
type VaultFile struct {
	Path        string    `json:"path"`     // absolute
	RelPath     string    `json:"rel_path"` // slash-separated, relative to the vault root
	ModTime     time.Time `json:"mod_time"`
	Size        int64     `json:"size"`
	Fingerprint string    `json:"fingerprint"`
	Text        string    `json:"-"`
}

// Chunk is a slice of a file's text, prefixed with the file's context header.
// Offsets are byte offsets into the file's extracted text.
type Chunk struct {
	ID          string    `json:"id"`
	Path        string    `json:"path"`
	Index       int       `json:"index"`
	Text        string    `json:"text"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Embedding   []float32 `json:"-"`
}

// FileState is the persisted sync record for one vault file.
type FileState struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	ModTime     time.Time `json:"mod_time"`
	Size        int64     `json:"size"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// FileWarning records a per-file problem that did not abort a scan or sync.
type FileWarning struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}
