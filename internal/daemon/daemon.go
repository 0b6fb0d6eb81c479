// Package daemon keeps a vault's session warm: it watches the vault, folds file
// changes into debounced sync passes on a single writer, and answers search,
// sync and status requests over the IPC socket.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/obra/internal/config"
	"github.com/hyperjump/obra/internal/core"
	"github.com/hyperjump/obra/internal/embedding"
	"github.com/hyperjump/obra/internal/ipc"
	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/session"
	"github.com/hyperjump/obra/internal/watcher"
)

// ErrAlreadyRunning is returned by Run when another daemon answers on the socket.
var ErrAlreadyRunning = errors.New("daemon is already running")

const shutdownTimeout = 10 * time.Second

// Options configures a Daemon.
type Options struct {
	Logger *zap.Logger
	// Embedder overrides the provider built from the config.
	Embedder embedding.Embedder
	// LockTimeout is how long to wait for a cold CLI to release the writer lock.
	LockTimeout time.Duration
}

// Daemon is a long-lived writer over one vault.
type Daemon struct {
	cfg    *config.Config
	opts   Options
	logger *zap.Logger
	state  stateBox

	sess  *session.Session
	sched *scheduler
	ready chan struct{}
}

var _ core.Service = (*Daemon)(nil)

// New creates a daemon for cfg. Nothing is opened until Run.
func New(cfg *config.Config, opts Options) *Daemon {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Daemon{cfg: cfg, opts: opts, logger: logger, ready: make(chan struct{})}
}

// Ready is closed once the initial sync has finished, successfully or not.
func (d *Daemon) Ready() <-chan struct{} {
	return d.ready
}

// State returns the current lifecycle state.
func (d *Daemon) State() State {
	return d.state.load()
}

// Run starts the daemon and blocks until ctx is cancelled or a component fails.
// A clean shutdown returns nil.
func (d *Daemon) Run(ctx context.Context) (err error) {
	socket := d.cfg.Daemon.SocketPath
	timeout := d.cfg.Daemon.ConnectTimeout
	if ipc.Probe(socket, timeout) {
		return ErrAlreadyRunning
	}

	d.state.store(StateStarting)
	defer d.state.store(StateStopped)
	d.logger.Info("daemon starting", zap.String("vault", d.cfg.Vault.Path))

	d.sess, err = session.Open(ctx, d.cfg, session.Options{
		Writer:      true,
		LockTimeout: d.opts.LockTimeout,
		Logger:      d.logger,
		Embedder:    d.opts.Embedder,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := d.sess.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	ln, err := ipc.Listen(socket, timeout)
	if errors.Is(err, ipc.ErrSocketInUse) {
		return ErrAlreadyRunning
	}
	if err != nil {
		return err
	}
	if err := WritePID(d.cfg.PIDPath()); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to write pid file: %w", err)
	}
	defer func() { _ = RemovePID(d.cfg.PIDPath()) }()

	g, gctx := errgroup.WithContext(ctx)

	w := watcher.NewWatcher(d.cfg.Vault.Path, d.sess.Walker(), d.cfg.Daemon.EventBuffer, watcher.WithLogger(d.logger))
	if err := w.Start(gctx); err != nil {
		_ = ln.Close()
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	d.sched = newScheduler(d.sess.Sync, d.logger)
	d.sched.onStart = func() {
		d.state.transition(StateReindexing, StateStarting, StateWarm)
	}
	d.sched.onDone = d.passDone

	deb := NewDebouncer(d.cfg.Daemon.Debounce, w.Events(), w.TakeOverflow, func(paths []string, full bool) {
		d.sched.submit(request{full: full, paths: paths})
	})
	deb.logger = d.logger

	srv := ipc.NewServer(d, d.logger)

	g.Go(func() error { return d.sched.Run(gctx) })
	g.Go(func() error { return deb.Run(gctx) })
	g.Go(func() error { return srv.Serve(ln) })
	g.Go(func() error {
		<-gctx.Done()
		d.state.store(StateStopping)
		d.logger.Info("daemon stopping")
		w.Stop()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	initial := d.sched.submit(request{full: true})
	g.Go(func() error {
		defer close(d.ready)
		select {
		case <-initial:
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Info("daemon stopped")
	return nil
}

func (d *Daemon) passDone(report *models.SyncReport, err error) {
	d.state.transition(StateWarm, StateReindexing)
	if err != nil {
		d.logger.Error("sync failed", zap.Error(err))
		return
	}
	d.logger.Info("sync complete",
		zap.Bool("full", report.Full),
		zap.Int("added", report.Added),
		zap.Int("modified", report.Modified),
		zap.Int("deleted", report.Deleted),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", report.Duration))
}

// Search ranks against the warm store; it never waits for a running pass.
func (d *Daemon) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	return d.sess.Search(ctx, query, limit)
}

// Sync schedules a full pass, merged with whatever is already queued.
func (d *Daemon) Sync(ctx context.Context, req core.SyncRequest) (*models.SyncReport, error) {
	ch := d.sched.submit(request{full: true, force: req.Force})
	if !req.Wait {
		return nil, nil
	}
	select {
	case res := <-ch:
		return res.report, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status reports the index and the daemon state.
func (d *Daemon) Status(ctx context.Context) (*models.Status, error) {
	st, err := d.sess.Status(ctx)
	if err != nil {
		return nil, err
	}
	st.State = d.State().String()
	return st, nil
}

// Close is a no-op; the daemon shuts down when Run's context ends.
func (d *Daemon) Close() error {
	return nil
}
