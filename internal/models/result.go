package models

import "time"

// SearchResult is a single ranked file match.
type SearchResult struct {
	Path    string  `json:"path"` // relative to the vault root
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// SyncReport summarizes one sync pass.
type SyncReport struct {
	Full      bool          `json:"full"`
	Added     int           `json:"added"`
	Modified  int           `json:"modified"`
	Deleted   int           `json:"deleted"`
	Unchanged int           `json:"unchanged"`
	Chunks    int           `json:"chunks"`
	Warnings  []FileWarning `json:"warnings,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// Changed reports whether the pass touched the store.
func (r *SyncReport) Changed() bool {
	return r.Added+r.Modified+r.Deleted > 0
}

// Status describes the index and, when a daemon answers, its state.
type Status struct {
	State        string    `json:"state"`
	Vault        string    `json:"vault"`
	LastSync     time.Time `json:"last_sync,omitempty"`
	IndexedFiles int       `json:"indexed_files"`
	Chunks       int       `json:"chunks"`
	DiskBytes    int64     `json:"disk_bytes,omitempty"`
}
