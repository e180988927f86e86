// Package loader walks the documents root and turns new or changed files into
// text units.
//
// A file is loaded only when its MD5 differs from the stored fingerprint or no
// fingerprint exists. Hashes of loaded files are staged and written to the
// fingerprint store once, after the whole walk succeeded. Any unreadable or
// malformed supported file fails the whole load.
package loader

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
)

// ProgressFunc is called after each candidate file is processed.
type ProgressFunc func(done, total int, rel string)

// Loader loads documents incrementally against a fingerprint store.
type Loader struct {
	fingerprints *fingerprint.Store
	workers      int
	progress     ProgressFunc
	logger       *slog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

// WithWorkers bounds how many files are hashed and extracted concurrently.
func WithWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(l *Loader) {
		l.progress = fn
	}
}

// New creates a Loader backed by the given fingerprint store.
func New(fingerprints *fingerprint.Store, opts ...Option) *Loader {
	l := &Loader{
		fingerprints: fingerprints,
		workers:      runtime.NumCPU(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ScanResult is the outcome of a walk before fingerprints are committed.
type ScanResult struct {
	// Units are in walk order, then unit order within each file.
	Units []document.TextUnit
	// Staged maps each newly loaded file to its current hash.
	Staged map[string]string
	// Loaded and Skipped list relative paths in walk order.
	Loaded  []string
	Skipped []string
}

// Load walks basePath, returns the text units of new or changed files and
// records their hashes in the fingerprint store. A nil or empty selection
// means every supported file.
func (l *Loader) Load(ctx context.Context, basePath string, selection []string) ([]document.TextUnit, error) {
	res, err := l.Scan(ctx, basePath, selection)
	if err != nil {
		return nil, err
	}
	if err := l.Commit(res); err != nil {
		return nil, err
	}
	return res.Units, nil
}

// Commit writes the staged hashes of res to the fingerprint store.
func (l *Loader) Commit(res *ScanResult) error {
	if res == nil || len(res.Staged) == 0 {
		return nil
	}
	return l.fingerprints.Update(res.Staged)
}

type fileResult struct {
	units []document.TextUnit
	hash  string
	skip  bool
}

// Scan is Load without the fingerprint update.
func (l *Loader) Scan(ctx context.Context, basePath string, selection []string) (*ScanResult, error) {
	start := time.Now()

	known, err := l.fingerprints.Load()
	if err != nil {
		return nil, err
	}

	candidates, err := walk(basePath, selectionSet(selection))
	if err != nil {
		return nil, err
	}

	results := make([]fileResult, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	var done int64
	progressCh := make(chan string, len(candidates))

	for i, rel := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() { progressCh <- rel }()

			full := filepath.Join(basePath, filepath.FromSlash(rel))
			hash, err := fingerprint.HashFile(full)
			if err != nil {
				return err
			}
			if known[rel] == hash {
				results[i] = fileResult{hash: hash, skip: true}
				return nil
			}

			units, err := extractorFor(rel)(gctx, full, rel)
			if err != nil {
				return err
			}
			results[i] = fileResult{units: units, hash: hash}
			return nil
		})
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- g.Wait()
		close(progressCh)
	}()
	for rel := range progressCh {
		done++
		if l.progress != nil {
			l.progress(int(done), len(candidates), rel)
		}
	}
	if err := <-waitErr; err != nil {
		return nil, err
	}

	res := &ScanResult{Staged: make(map[string]string)}
	for i, rel := range candidates {
		r := results[i]
		if r.skip {
			res.Skipped = append(res.Skipped, rel)
			continue
		}
		res.Loaded = append(res.Loaded, rel)
		res.Staged[rel] = r.hash
		res.Units = append(res.Units, r.units...)
	}

	l.logger.Debug("documents_scanned",
		slog.String("base_path", basePath),
		slog.Int("candidates", len(candidates)),
		slog.Int("loaded", len(res.Loaded)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("units", len(res.Units)),
		slog.Duration("duration", time.Since(start)))

	return res, nil
}

// walk returns the supported files under base, relative and slash separated,
// in lexical walk order, filtered by selection when it is non-nil.
func walk(base string, selection map[string]bool) ([]string, error) {
	info, err := os.Stat(base)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeFileUnreadable, fmt.Sprintf("cannot stat documents root %s", base), err)
	}
	if !info.IsDir() {
		return nil, serrors.New(serrors.ErrCodeInvalidPath, fmt.Sprintf("documents root %s is not a directory", base), nil)
	}

	var files []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return serrors.New(serrors.ErrCodeFileUnreadable, fmt.Sprintf("cannot walk %s", p), err)
		}
		if d.IsDir() || !IsSupported(d.Name()) {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if selection != nil && !selection[rel] {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// selectionSet normalises a selection list; nil means "everything".
func selectionSet(selection []string) map[string]bool {
	if len(selection) == 0 {
		return nil
	}
	set := make(map[string]bool, len(selection))
	for _, s := range selection {
		if s = NormalizeRel(s); s != "" {
			set[s] = true
		}
	}
	return set
}

// NormalizeRel cleans a user-supplied relative document path into the
// slash-separated form used as fingerprint key and chunk source.
func NormalizeRel(rel string) string {
	rel = strings.TrimSpace(filepath.ToSlash(rel))
	if rel == "" {
		return ""
	}
	rel = path.Clean(rel)
	return strings.TrimPrefix(rel, "./")
}
