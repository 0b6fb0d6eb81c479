// Package vault enumerates the files of a document vault that should be indexed.
package vault

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"github.com/hyperjump/obra/internal/extract"
	"github.com/hyperjump/obra/internal/fileid"
	"github.com/hyperjump/obra/internal/models"
)

// ErrVaultRoot is returned when the vault root is missing or unreadable.
var ErrVaultRoot = errors.New("vault root is not accessible")

// ErrEmpty is returned by Read for a file with no indexable text.
var ErrEmpty = errors.New("file has no text")

// KnownFunc looks up the last recorded state of a file by its vault key.
type KnownFunc func(key string) (models.FileState, bool)

// Walker scans a vault root, skipping ignored names, dotfiles and unsupported types.
type Walker struct {
	root        string
	extensions  map[string]bool
	ignoreNames map[string]bool
	ignoreGlobs []string
	logger      *zap.Logger
}

// Option configures a Walker.
type Option func(*Walker)

// WithLogger sets the logger used for skipped files.
func WithLogger(l *zap.Logger) Option {
	return func(w *Walker) {
		w.logger = l
	}
}

// WithIgnoreGlobs excludes paths matching any doublestar pattern, tested against
// both the vault-relative path and the base name.
func WithIgnoreGlobs(globs []string) Option {
	return func(w *Walker) {
		w.ignoreGlobs = append(w.ignoreGlobs, globs...)
	}
}

// NewWalker returns a Walker for root. Extensions include the leading dot.
func NewWalker(root string, extensions, ignoreNames []string, opts ...Option) *Walker {
	w := &Walker{
		root:        filepath.Clean(root),
		extensions:  make(map[string]bool, len(extensions)),
		ignoreNames: make(map[string]bool, len(ignoreNames)),
	}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if extract.Supported(ext) {
			w.extensions[ext] = true
		}
	}
	for _, name := range ignoreNames {
		w.ignoreNames[name] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Root returns the vault root.
func (w *Walker) Root() string {
	return w.root
}

// ScanResult holds the included files in walk order plus per-file warnings.
type ScanResult struct {
	Files    []*models.VaultFile
	Warnings []models.FileWarning
}

// CheckRoot returns ErrVaultRoot unless the root is a readable directory.
func (w *Walker) CheckRoot() error {
	info, err := os.Stat(w.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVaultRoot, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrVaultRoot, w.root)
	}
	f, err := os.Open(w.root)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrVaultRoot, err)
	}
	_ = f.Close()
	return nil
}

// Scan walks the vault and fingerprints every included file. When known reports
// a state with the same modification time and size, the recorded fingerprint is
// reused instead of reading the file; pass nil to hash everything.
func (w *Walker) Scan(ctx context.Context, known KnownFunc) (*ScanResult, error) {
	if err := w.CheckRoot(); err != nil {
		return nil, err
	}
	res := &ScanResult{}
	err := filepath.WalkDir(w.root, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == w.root {
				return fmt.Errorf("%w: %v", ErrVaultRoot, err)
			}
			res.Warnings = append(res.Warnings, warning(w.root, p, err))
			w.logger.Warn("skipping unreadable path", zap.String("path", p), zap.Error(err))
			return nil
		}
		if p == w.root {
			return nil
		}
		key, ok := fileid.Key(w.root, p)
		if !ok {
			return nil
		}
		if d.IsDir() {
			if w.ignored(key) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !w.Included(key) {
			return nil
		}
		vf, err := w.stat(p, key, known)
		if err != nil {
			if !errors.Is(err, ErrEmpty) {
				res.Warnings = append(res.Warnings, models.FileWarning{Path: key, Error: err.Error()})
				w.logger.Warn("skipping file", zap.String("path", key), zap.Error(err))
			}
			return nil
		}
		res.Files = append(res.Files, vf)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// File fingerprints the single file at key. included is false when the key is
// filtered out, missing, not a regular file, or has no text.
func (w *Walker) File(key string, known KnownFunc) (vf *models.VaultFile, included bool, err error) {
	if !w.Included(key) {
		return nil, false, nil
	}
	p := filepath.Join(w.root, filepath.FromSlash(key))
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}
	vf, err = w.stat(p, key, known)
	if err != nil {
		if errors.Is(err, ErrEmpty) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return vf, true, nil
}

// Read loads and extracts the file's text, refreshing its fingerprint to match
// the bytes actually read.
func (w *Walker) Read(vf *models.VaultFile) (string, error) {
	content, err := os.ReadFile(vf.Path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", vf.RelPath, err)
	}
	text, err := extract.Text(content, path.Ext(vf.RelPath))
	if err != nil {
		return "", fmt.Errorf("%s: %w", vf.RelPath, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmpty
	}
	vf.Fingerprint = fileid.Fingerprint(content)
	vf.Size = int64(len(content))
	return text, nil
}

// Included reports whether the vault key names a file that should be indexed.
func (w *Walker) Included(key string) bool {
	if w.ignored(key) {
		return false
	}
	return w.extensions[strings.ToLower(path.Ext(key))]
}

// IgnoredDir reports whether a directory key is excluded together with its contents.
func (w *Walker) IgnoredDir(key string) bool {
	return w.ignored(key)
}

func (w *Walker) ignored(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if strings.HasPrefix(seg, ".") || w.ignoreNames[seg] {
			return true
		}
	}
	base := path.Base(key)
	for _, pattern := range w.ignoreGlobs {
		if ok, _ := doublestar.Match(pattern, key); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func (w *Walker) stat(p, key string, known KnownFunc) (*models.VaultFile, error) {
	info, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	vf := &models.VaultFile{
		Path:    p,
		RelPath: key,
		ModTime: info.ModTime(),
		Size:    info.Size(),
	}
	if known != nil {
		if st, ok := known(key); ok && st.Size == vf.Size && st.ModTime.Equal(vf.ModTime) {
			vf.Fingerprint = st.Fingerprint
			return vf, nil
		}
	}
	if _, err := w.Read(vf); err != nil {
		return nil, err
	}
	return vf, nil
}

func warning(root, p string, err error) models.FileWarning {
	key, ok := fileid.Key(root, p)
	if !ok {
		key = p
	}
	return models.FileWarning{Path: key, Error: err.Error()}
}
