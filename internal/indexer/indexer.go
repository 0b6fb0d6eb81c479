package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/obra/internal/embedding"
	"github.com/hyperjump/obra/internal/fileid"
	"github.com/hyperjump/obra/internal/models"
	"github.com/hyperjump/obra/internal/storage"
	"github.com/hyperjump/obra/internal/vault"
	"github.com/hyperjump/obra/internal/vector"
)

const defaultBatchFiles = 100

// SyncOptions selects what a pass covers.
type SyncOptions struct {
	// Force treats every file as modified and skips the mtime/size shortcut.
	Force bool
	// Paths limits the pass to these vault keys and anything below them.
	// Nil means a full scan of the vault.
	Paths []string
	// Progress, when set, is called after each changed file is handled.
	Progress func(done, total int)
}

// Indexer reconciles the vault against the vector store and the sync state.
type Indexer struct {
	walker     *vault.Walker
	chunker    *Chunker
	embedder   embedding.Embedder
	store      *vector.Store
	state      storage.StateStore
	batchFiles int
	workers    int
	logger     *zap.Logger
	now        func() time.Time

	mu sync.Mutex // one pass at a time
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for debug output (file indexed, file deleted, etc.).
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBatchFiles sets how many changed files are chunked and embedded together.
func WithBatchFiles(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchFiles = n
		}
	}
}

// WithWorkers caps the parallel chunk+embed goroutines; 0 means GOMAXPROCS.
func WithWorkers(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.workers = n
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(
	walker *vault.Walker,
	chunker *Chunker,
	embedder embedding.Embedder,
	store *vector.Store,
	state storage.StateStore,
	opts ...IndexerOption,
) *Indexer {
	idx := &Indexer{
		walker:     walker,
		chunker:    chunker,
		embedder:   embedder,
		store:      store,
		state:      state,
		batchFiles: defaultBatchFiles,
		workers:    runtime.GOMAXPROCS(0),
		logger:     zap.NewNop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

type change struct {
	file  *models.VaultFile
	added bool
}

type outcome struct {
	chunks  []*models.Chunk
	empty   bool
	warning *models.FileWarning
}

// Sync runs one pass. Per-file problems are reported as warnings; an
// inaccessible vault root, an embedding failure or a store write failure
// abort the pass. Files handled before an abort stay consistent.
func (idx *Indexer) Sync(ctx context.Context, opts SyncOptions) (*models.SyncReport, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	start := idx.now()
	report := &models.SyncReport{Full: opts.Paths == nil}

	known, err := idx.state.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	knownFn := func(key string) (models.FileState, bool) {
		st, ok := known[key]
		return st, ok
	}
	if opts.Force {
		knownFn = nil
	}

	var files []*models.VaultFile
	var deleted []string
	if opts.Paths == nil {
		files, deleted, err = idx.scanAll(ctx, known, knownFn, report)
	} else {
		files, deleted, err = idx.scanPaths(ctx, opts.Paths, known, knownFn, report)
	}
	if err != nil {
		return nil, err
	}

	for _, key := range deleted {
		if err := idx.remove(ctx, key); err != nil {
			return nil, err
		}
		report.Deleted++
		idx.logger.Debug("file removed from index", zap.String("path", key))
	}

	var changes []change
	for _, vf := range files {
		st, ok := known[vf.RelPath]
		switch {
		case !ok:
			changes = append(changes, change{file: vf, added: true})
		case opts.Force || st.Fingerprint != vf.Fingerprint || !idx.store.HasFile(vf.RelPath):
			changes = append(changes, change{file: vf})
		default:
			report.Unchanged++
		}
	}

	done := 0
	for lo := 0; lo < len(changes); lo += idx.batchFiles {
		hi := min(lo+idx.batchFiles, len(changes))
		if err := idx.applyBatch(ctx, changes[lo:hi], known, report); err != nil {
			return nil, err
		}
		done = hi
		if opts.Progress != nil {
			opts.Progress(done, len(changes))
		}
	}

	if err := idx.state.SetLastSync(ctx, idx.now()); err != nil {
		return nil, fmt.Errorf("failed to record sync time: %w", err)
	}
	report.Duration = idx.now().Sub(start)
	idx.logger.Info("sync complete",
		zap.Bool("full", report.Full),
		zap.Int("added", report.Added),
		zap.Int("modified", report.Modified),
		zap.Int("deleted", report.Deleted),
		zap.Int("unchanged", report.Unchanged),
		zap.Int("warnings", len(report.Warnings)),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// scanAll walks the whole vault. Anything tracked or stored that the walk did
// not produce is deleted, unless the walk warned about it.
func (idx *Indexer) scanAll(ctx context.Context, known map[string]models.FileState, knownFn vault.KnownFunc, report *models.SyncReport) ([]*models.VaultFile, []string, error) {
	res, err := idx.walker.Scan(ctx, knownFn)
	if err != nil {
		return nil, nil, err
	}
	report.Warnings = append(report.Warnings, res.Warnings...)

	keep := make(map[string]bool, len(res.Files)+len(res.Warnings))
	for _, vf := range res.Files {
		keep[vf.RelPath] = true
	}
	for _, w := range res.Warnings {
		keep[w.Path] = true
	}
	gone := make(map[string]bool)
	for key := range known {
		if !keep[key] {
			gone[key] = true
		}
	}
	for _, key := range idx.store.Paths() {
		if !keep[key] {
			gone[key] = true
		}
	}
	return res.Files, sortedKeys(gone), nil
}

// scanPaths checks only the given keys plus every tracked key below them, so a
// removed directory drops all of its files.
func (idx *Indexer) scanPaths(ctx context.Context, paths []string, known map[string]models.FileState, knownFn vault.KnownFunc, report *models.SyncReport) ([]*models.VaultFile, []string, error) {
	if err := idx.walker.CheckRoot(); err != nil {
		return nil, nil, err
	}
	tracked := make(map[string]bool, len(known))
	for key := range known {
		tracked[key] = true
	}
	for _, key := range idx.store.Paths() {
		tracked[key] = true
	}

	candidates := make(map[string]bool)
	for _, p := range paths {
		if p == "" {
			continue
		}
		candidates[p] = true
		for key := range tracked {
			if fileid.Under(key, p) {
				candidates[key] = true
			}
		}
	}

	var files []*models.VaultFile
	var deleted []string
	for _, key := range sortedKeys(candidates) {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		vf, included, err := idx.walker.File(key, knownFn)
		if err != nil {
			report.Warnings = append(report.Warnings, models.FileWarning{Path: key, Error: err.Error()})
			idx.logger.Warn("skipping file", zap.String("path", key), zap.Error(err))
			continue
		}
		if included {
			files = append(files, vf)
			continue
		}
		if tracked[key] {
			deleted = append(deleted, key)
		}
	}
	return files, deleted, nil
}

// applyBatch chunks and embeds a batch in parallel, then writes the results in
// batch order.
func (idx *Indexer) applyBatch(ctx context.Context, batch []change, known map[string]models.FileState, report *models.SyncReport) error {
	results := make([]outcome, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(idx.workers)
	for i, c := range batch {
		g.Go(func() error {
			out, err := idx.prepare(gctx, c.file)
			if err != nil {
				return err
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, c := range batch {
		out := results[i]
		key := c.file.RelPath
		switch {
		case out.warning != nil:
			report.Warnings = append(report.Warnings, *out.warning)
		case out.empty:
			if _, ok := known[key]; ok || idx.store.HasFile(key) {
				if err := idx.remove(ctx, key); err != nil {
					return err
				}
				report.Deleted++
			}
		default:
			if err := idx.store.ReplaceFile(ctx, key, out.chunks); err != nil {
				return fmt.Errorf("failed to store %s: %w", key, err)
			}
			st := models.FileState{
				Path:        key,
				Fingerprint: c.file.Fingerprint,
				ModTime:     c.file.ModTime,
				Size:        c.file.Size,
				IndexedAt:   idx.now(),
			}
			if err := idx.state.Put(ctx, st); err != nil {
				return fmt.Errorf("failed to record sync state for %s: %w", key, err)
			}
			report.Chunks += len(out.chunks)
			if c.added {
				report.Added++
			} else {
				report.Modified++
			}
			idx.logger.Debug("file indexed", zap.String("path", key), zap.Int("chunks", len(out.chunks)))
		}
	}
	return nil
}

// prepare reads, chunks and embeds one file. Read problems become warnings;
// embedding errors are returned.
func (idx *Indexer) prepare(ctx context.Context, vf *models.VaultFile) (outcome, error) {
	text, err := idx.walker.Read(vf)
	if errors.Is(err, vault.ErrEmpty) {
		return outcome{empty: true}, nil
	}
	if err != nil {
		idx.logger.Warn("skipping file", zap.String("path", vf.RelPath), zap.Error(err))
		return outcome{warning: &models.FileWarning{Path: vf.RelPath, Error: err.Error()}}, nil
	}
	chunks := idx.chunker.Chunk(vf.RelPath, text)
	if len(chunks) == 0 {
		return outcome{empty: true}, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := idx.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return outcome{}, fmt.Errorf("failed to generate embeddings for %s: %w", vf.RelPath, err)
	}
	if len(vectors) != len(chunks) {
		return outcome{}, fmt.Errorf("embedder returned %d vectors for %d chunks of %s", len(vectors), len(chunks), vf.RelPath)
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}
	return outcome{chunks: chunks}, nil
}

// remove drops a file from the store before its sync record, so a crash in
// between leaves an untracked record the next full pass cleans up.
func (idx *Indexer) remove(ctx context.Context, key string) error {
	if err := idx.store.DeleteFile(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s from store: %w", key, err)
	}
	if err := idx.state.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete sync state for %s: %w", key, err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
