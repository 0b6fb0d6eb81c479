package session

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/core"
	"github.com/hyperjump/obra/internal/indexer"
	"github.com/hyperjump/obra/internal/models"
)

// StateCold is the status state reported when no daemon is involved.
const StateCold = "not running"

// Local runs core.Service operations in this process.
type Local struct {
	s        *Session
	progress func(done, total int)
	notice   func(msg string)
}

// LocalOption configures a Local.
type LocalOption func(*Local)

// WithProgress reports sync progress.
func WithProgress(fn func(done, total int)) LocalOption {
	return func(l *Local) { l.progress = fn }
}

// WithNotice receives user-facing messages, such as a skipped sync.
func WithNotice(fn func(msg string)) LocalOption {
	return func(l *Local) { l.notice = fn }
}

// NewLocal adapts s to core.Service. Local owns s and closes it.
func NewLocal(s *Session, opts ...LocalOption) *Local {
	l := &Local{s: s, notice: func(string) {}}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

var _ core.Service = (*Local)(nil)

// Search syncs first when the index is stale, then ranks. A read-only session
// skips the sync with a notice.
func (l *Local) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	if _, err := models.NormalizeQuery(query); err != nil {
		return nil, err
	}
	stale, err := l.s.Stale(ctx, l.s.cfg.Daemon.Staleness)
	if err != nil {
		return nil, err
	}
	if stale {
		if !l.s.Writable() {
			l.notice("index is being updated by another process; searching the current index")
		} else {
			l.s.logger.Info("index is stale, syncing before search")
			if _, err := l.s.Sync(ctx, indexer.SyncOptions{Progress: l.progress}); err != nil {
				return nil, err
			}
		}
	}
	return l.s.Search(ctx, query, limit)
}

// Sync runs a pass in this process. Wait is implied.
func (l *Local) Sync(ctx context.Context, req core.SyncRequest) (*models.SyncReport, error) {
	l.s.logger.Debug("local sync", zap.Bool("force", req.Force))
	return l.s.Sync(ctx, indexer.SyncOptions{Force: req.Force, Progress: l.progress})
}

// Status reports the on-disk index with the daemon state "not running".
func (l *Local) Status(ctx context.Context) (*models.Status, error) {
	st, err := l.s.Status(ctx)
	if err != nil {
		return nil, err
	}
	st.State = StateCold
	return st, nil
}

// Close closes the session.
func (l *Local) Close() error {
	return l.s.Close()
}
