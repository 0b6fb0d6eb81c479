package daemon

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/indexer"
	"github.com/hyperjump/obra/internal/models"
)

// ErrStopped is returned to sync requests the scheduler will no longer run.
var ErrStopped = errors.New("daemon is stopping")

type syncFunc func(ctx context.Context, opts indexer.SyncOptions) (*models.SyncReport, error)

type request struct {
	full  bool
	force bool
	paths []string
}

type result struct {
	report *models.SyncReport
	err    error
}

// pass is the work queued for the next run. Requests that arrive while a pass
// is running merge into it.
type pass struct {
	full    bool
	force   bool
	paths   map[string]bool
	waiters []chan result
}

func (p *pass) merge(req request) {
	p.force = p.force || req.force
	p.full = p.full || req.full || req.force
	for _, path := range req.paths {
		p.paths[path] = true
	}
}

func (p *pass) options() indexer.SyncOptions {
	opts := indexer.SyncOptions{Force: p.force}
	if !p.full {
		opts.Paths = make([]string, 0, len(p.paths))
		for path := range p.paths {
			opts.Paths = append(opts.Paths, path)
		}
		sort.Strings(opts.Paths)
	}
	return opts
}

// scheduler runs sync passes one at a time.
type scheduler struct {
	sync    syncFunc
	onStart func()
	onDone  func(*models.SyncReport, error)
	logger  *zap.Logger

	mu      sync.Mutex
	pending *pass
	stopped bool
	wake    chan struct{}
}

func newScheduler(fn syncFunc, logger *zap.Logger) *scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &scheduler{
		sync:    fn,
		onStart: func() {},
		onDone:  func(*models.SyncReport, error) {},
		logger:  logger,
		wake:    make(chan struct{}, 1),
	}
}

// submit queues req and returns a channel that receives the result of the
// pass that covers it. It never blocks.
func (s *scheduler) submit(req request) <-chan result {
	ch := make(chan result, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		ch <- result{err: ErrStopped}
		return ch
	}
	if s.pending == nil {
		s.pending = &pass{paths: make(map[string]bool)}
	}
	s.pending.merge(req)
	s.pending.waiters = append(s.pending.waiters, ch)
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return ch
}

// Run executes queued passes until ctx is done. Requests still queued then
// fail with ErrStopped.
func (s *scheduler) Run(ctx context.Context) error {
	defer s.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.wake:
		}
		s.mu.Lock()
		p := s.pending
		s.pending = nil
		s.mu.Unlock()
		if p == nil {
			continue
		}

		opts := p.options()
		s.logger.Debug("sync pass starting",
			zap.Bool("force", opts.Force),
			zap.Bool("full", opts.Paths == nil),
			zap.Int("paths", len(opts.Paths)))
		s.onStart()
		report, err := s.sync(ctx, opts)
		s.onDone(report, err)
		for _, ch := range p.waiters {
			ch <- result{report: report, err: err}
		}
	}
}

func (s *scheduler) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.pending != nil {
		for _, ch := range s.pending.waiters {
			ch <- result{err: ErrStopped}
		}
		s.pending = nil
	}
}
