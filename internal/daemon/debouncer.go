package daemon

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/watcher"
)

// Debouncer collects watcher events and flushes them as one batch once no new
// event has arrived for the delay.
type Debouncer struct {
	delay    time.Duration
	events   <-chan watcher.Event
	overflow func() bool
	flush    func(paths []string, full bool)
	logger   *zap.Logger
}

// NewDebouncer creates a debouncer over events. overflow reports whether events
// were lost, in which case the flush asks for a full scan.
func NewDebouncer(delay time.Duration, events <-chan watcher.Event, overflow func() bool, flush func(paths []string, full bool)) *Debouncer {
	if overflow == nil {
		overflow = func() bool { return false }
	}
	return &Debouncer{delay: delay, events: events, overflow: overflow, flush: flush, logger: zap.NewNop()}
}

// Run consumes events until ctx is done or the channel closes. Paths still
// pending when the channel closes are flushed.
func (d *Debouncer) Run(ctx context.Context) error {
	timer := time.NewTimer(d.delay)
	timer.Stop()
	defer timer.Stop()

	pending := make(map[string]bool)
	fire := func() {
		full := d.overflow()
		if len(pending) == 0 && !full {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		sort.Strings(paths)
		clear(pending)
		d.logger.Debug("debounce flush", zap.Int("paths", len(paths)), zap.Bool("full", full))
		d.flush(paths, full)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-d.events:
			if !ok {
				fire()
				return nil
			}
			pending[ev.Path] = true
			timer.Reset(d.delay)
		case <-timer.C:
			fire()
		}
	}
}
