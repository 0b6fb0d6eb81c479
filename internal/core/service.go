// Package core defines the operations shared by the in-process and daemon-backed
// entry points.
package core

import (
	"context"

	"github.com/hyperjump/obra/internal/models"
)

// SyncRequest asks for a sync pass.
type SyncRequest struct {
	// Force reindexes every file regardless of its fingerprint.
	Force bool `json:"force,omitempty"`
	// Wait blocks until the pass completes and returns its report. Without it a
	// daemon only acknowledges the request.
	Wait bool `json:"wait"`
}

// Service is what the CLI talks to, whether the work happens in this process
// or in a running daemon.
type Service interface {
	// Search ranks vault files for query. limit <= 0 uses the configured limit.
	Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error)
	// Sync runs or schedules a pass. The report is nil when the request was
	// only acknowledged.
	Sync(ctx context.Context, req SyncRequest) (*models.SyncReport, error)
	Status(ctx context.Context) (*models.Status, error)
	Close() error
}
