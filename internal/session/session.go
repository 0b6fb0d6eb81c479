// Package session bundles everything one process needs to search and sync a
// vault: the embedding provider, the vector store, the sync state and, for
// writers, the single-writer lock.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/config"
	"github.com/hyperjump/obra/internal/embedding"
	"github.com/hyperjump/obra/internal/indexer"
	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/search"
	"github.com/hyperjump/obra/internal/storage"
	"github.com/hyperjump/obra/internal/vault"
	"github.com/hyperjump/obra/internal/vector"
)

var (
	// ErrLocked is returned when another process holds the writer lock.
	ErrLocked = errors.New("another obra process is updating the index")
	// ErrReadOnly is returned by Sync on a session opened without the lock.
	ErrReadOnly = errors.New("session is read-only")
	// ErrNoIndex is returned by a read-only open before any index exists.
	ErrNoIndex = errors.New("no index has been built yet")
)

const lockRetry = 50 * time.Millisecond

// Options configures Open.
type Options struct {
	// Writer acquires the writer lock and allows Sync.
	Writer bool
	// LockTimeout is how long a writer waits for the lock; 0 tries once.
	LockTimeout time.Duration
	Logger      *zap.Logger
	// Embedder overrides the provider built from the config.
	Embedder embedding.Embedder
}

// Session is an owned handle over one vault's index.
type Session struct {
	cfg      *config.Config
	logger   *zap.Logger
	lock     *flock.Flock
	walker   *vault.Walker
	embedder embedding.Embedder
	state    storage.StateStore
	store    *vector.Store
	indexer  *indexer.Indexer
	ranker   *search.Ranker
	now      func() time.Time
}

// Open checks the vault root, takes the lock for writers, loads the embedding
// provider and opens the store and sync state. When the store had to be created
// or rebuilt the sync state is cleared, so the next pass reindexes everything.
func Open(ctx context.Context, cfg *config.Config, opts Options) (_ *Session, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	walker := vault.NewWalker(cfg.Vault.Path, cfg.Vault.Extensions, cfg.Vault.IgnoreNames,
		vault.WithIgnoreGlobs(cfg.Vault.IgnoreGlobs), vault.WithLogger(logger))
	if err := walker.CheckRoot(); err != nil {
		return nil, err
	}

	s := &Session{cfg: cfg, logger: logger, walker: walker, now: time.Now}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	if opts.Writer {
		if err := s.acquire(ctx, opts.LockTimeout); err != nil {
			return nil, err
		}
	} else if _, err := os.Stat(cfg.IndexDBPath()); errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoIndex
	}

	s.embedder = opts.Embedder
	if s.embedder == nil {
		emb, err := embedding.New(cfg.Embedding, logger)
		if err != nil {
			return nil, err
		}
		s.embedder = emb
	}
	dims := s.embedder.Dimensions()
	dbOpts := storage.Options{ReadOnly: !opts.Writer, Logger: logger}

	chunks, err := storage.NewSQLiteChunkStore(cfg.IndexDBPath(), storage.Tag{Dimensions: dims, Model: s.embedder.ModelID()}, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	if s.store, err = openStore(ctx, chunks, dims, opts.Writer, logger); err != nil {
		_ = chunks.Close()
		return nil, err
	}
	state, err := storage.NewSQLiteSyncState(cfg.StateDBPath(), dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open sync state: %w", err)
	}
	s.state = state
	if opts.Writer && s.store.Rebuilt() && !s.state.Reset() {
		logger.Warn("index was rebuilt, next sync reindexes every file")
		if err := s.state.Clear(ctx); err != nil {
			return nil, err
		}
	}

	if opts.Writer {
		s.indexer = indexer.NewIndexer(walker,
			indexer.NewChunker(cfg.Indexing.ChunkSize, cfg.Indexing.ChunkOverlap),
			s.embedder, s.store, s.state,
			indexer.WithBatchFiles(cfg.Indexing.BatchFiles),
			indexer.WithWorkers(cfg.Indexing.Workers),
			indexer.WithLogger(logger))
	}
	s.ranker = search.NewRanker(s.embedder, s.store, cfg.Search)
	return s, nil
}

// openStore loads the chunk store into memory. A writer that finds rows it
// cannot load rebuilds the store empty instead of failing.
func openStore(ctx context.Context, chunks *storage.SQLiteChunkStore, dims int, writer bool, logger *zap.Logger) (*vector.Store, error) {
	store, err := vector.Open(ctx, chunks, dims)
	if err == nil || !writer || ctx.Err() != nil {
		return store, err
	}
	logger.Warn("index unreadable, rebuilding", zap.Error(err))
	if err := chunks.Rebuild(); err != nil {
		return nil, err
	}
	return vector.Open(ctx, chunks, dims)
}

// OpenCold opens a writer session, falling back to a read-only one when
// another process holds the lock. Callers can tell by Writable.
func OpenCold(ctx context.Context, cfg *config.Config, opts Options) (*Session, error) {
	opts.Writer = true
	s, err := Open(ctx, cfg, opts)
	if !errors.Is(err, ErrLocked) {
		return s, err
	}
	opts.Writer = false
	return Open(ctx, cfg, opts)
}

func (s *Session) acquire(ctx context.Context, timeout time.Duration) error {
	path := s.cfg.LockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	fl := flock.New(path)
	var locked bool
	var err error
	if timeout > 0 {
		lctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		locked, err = fl.TryLockContext(lctx, lockRetry)
		if errors.Is(err, context.DeadlineExceeded) {
			err = nil
		}
	} else {
		locked, err = fl.TryLock()
	}
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", path, err)
	}
	if !locked {
		return ErrLocked
	}
	s.lock = fl
	return nil
}

// Writable reports whether the session holds the writer lock.
func (s *Session) Writable() bool {
	return s.indexer != nil
}

// Config returns the configuration the session was opened with.
func (s *Session) Config() *config.Config {
	return s.cfg
}

// Walker returns the vault walker, which also decides what a watcher reports.
func (s *Session) Walker() *vault.Walker {
	return s.walker
}

// Sync runs one pass over the vault.
func (s *Session) Sync(ctx context.Context, opts indexer.SyncOptions) (*models.SyncReport, error) {
	if s.indexer == nil {
		return nil, ErrReadOnly
	}
	return s.indexer.Sync(ctx, opts)
}

// Search ranks vault files for query.
func (s *Session) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	return s.ranker.Search(ctx, query, limit)
}

// Stale reports whether the index has never synced or last synced longer than
// maxAge ago.
func (s *Session) Stale(ctx context.Context, maxAge time.Duration) (bool, error) {
	last, err := s.state.LastSync(ctx)
	if err != nil {
		return false, err
	}
	return last.IsZero() || s.now().Sub(last) > maxAge, nil
}

// Status reports what the index holds. State is left for the caller to fill.
func (s *Session) Status(ctx context.Context) (*models.Status, error) {
	last, err := s.state.LastSync(ctx)
	if err != nil {
		return nil, err
	}
	stats := s.store.Stats()
	st := &models.Status{
		Vault:        s.cfg.Vault.Path,
		LastSync:     last,
		IndexedFiles: stats.Files,
		Chunks:       stats.Chunks,
	}
	if n, err := storage.IndexUsageBytes(s.cfg.IndexDBPath(), s.cfg.StateDBPath()); err == nil {
		st.DiskBytes = n
	}
	return st, nil
}

// Close releases everything the session opened, the lock last.
func (s *Session) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.state != nil {
		errs = append(errs, s.state.Close())
	}
	if s.embedder != nil {
		errs = append(errs, s.embedder.Close())
	}
	if s.lock != nil {
		errs = append(errs, s.lock.Unlock())
	}
	return errors.Join(errs...)
}
