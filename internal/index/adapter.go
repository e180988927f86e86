// Package index owns the persisted chunk index: creating it, appending to it
// under the single-writer lock, loading it for queries, and running the
// incremental indexing pipeline over a documents root.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Aman-CERP/storyrag/internal/document"
	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/store"
)

// embedBatch is how many chunks are embedded between progress reports.
const embedBatch = 64

// Adapter creates, extends, and reloads the index in one directory. Every
// call goes to disk; nothing is cached between calls.
type Adapter struct {
	dir      string
	embedder embed.Embedder
	lock     *FileLock
	mu       sync.Mutex // in-process writers
	logger   *slog.Logger
}

// NewAdapter returns an adapter for the index stored in dir.
func NewAdapter(dir string, embedder embed.Embedder) *Adapter {
	return &Adapter{
		dir:      dir,
		embedder: embedder,
		lock:     NewFileLock(dir),
		logger:   slog.Default(),
	}
}

// Dir returns the index directory.
func (a *Adapter) Dir() string {
	return a.dir
}

// Embedder returns the embedder used for chunks and queries.
func (a *Adapter) Embedder() embed.Embedder {
	return a.embedder
}

// WithLock runs fn while holding both the in-process mutex and the file lock.
func (a *Adapter) WithLock(ctx context.Context, fn func() error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.lock.Lock(ctx); err != nil {
		return err
	}
	defer func() {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("index_unlock_failed", slog.String("lock", a.lock.Path()), slog.String("error", err.Error()))
		}
	}()
	return fn()
}

type appendOptions struct {
	progress      func(done, total int)
	beforePersist func()
	afterPersist  func() error
}

// AppendOption customises CreateOrAppend.
type AppendOption func(*appendOptions)

// WithEmbedProgress reports embedding progress in chunks.
func WithEmbedProgress(fn func(done, total int)) AppendOption {
	return func(o *appendOptions) { o.progress = fn }
}

// BeforePersist runs after embedding, just before the index is written.
func BeforePersist(fn func()) AppendOption {
	return func(o *appendOptions) { o.beforePersist = fn }
}

// AfterPersist runs under the writer lock once the index is on disk. The
// indexing pipeline commits fingerprints here.
func AfterPersist(fn func() error) AppendOption {
	return func(o *appendOptions) { o.afterPersist = fn }
}

// CreateOrAppend embeds chunks and adds them to the index, creating it when
// none exists, then persists it. With no chunks it only loads the index, so
// the bytes on disk are untouched and a missing index is an error.
func (a *Adapter) CreateOrAppend(ctx context.Context, chunks []document.Chunk, opts ...AppendOption) (*Handle, error) {
	if len(chunks) == 0 {
		return a.Load(ctx)
	}

	var h *Handle
	err := a.WithLock(ctx, func() error {
		var err error
		h, err = a.appendLocked(ctx, chunks, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

// appendLocked is CreateOrAppend for a caller that already holds the writer
// lock. A failing afterPersist closes the new handle.
func (a *Adapter) appendLocked(ctx context.Context, chunks []document.Chunk, opts ...AppendOption) (*Handle, error) {
	var o appendOptions
	for _, opt := range opts {
		opt(&o)
	}
	h, err := a.createOrAppend(ctx, chunks, o)
	if err != nil {
		return nil, err
	}
	if o.afterPersist != nil {
		if err := o.afterPersist(); err != nil {
			_ = h.Close()
			return nil, err
		}
	}
	return h, nil
}

func (a *Adapter) createOrAppend(ctx context.Context, chunks []document.Chunk, o appendOptions) (*Handle, error) {
	start := time.Now()

	var (
		s       *store.HNSWStore
		err     error
		created bool
	)
	if store.Exists(a.dir) {
		s, err = a.open()
	} else {
		s, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(a.embedder.Dimensions(), a.embedder.ModelName()))
		created = true
	}
	if err != nil {
		return nil, err
	}

	vectors, err := a.embedChunks(ctx, chunks, o.progress)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Add(ctx, chunks, vectors); err != nil {
		_ = s.Close()
		return nil, err
	}

	if o.beforePersist != nil {
		o.beforePersist()
	}
	if err := s.Save(a.dir); err != nil {
		_ = s.Close()
		return nil, err
	}

	a.logger.Info("index_persisted",
		slog.String("dir", a.dir),
		slog.Bool("created", created),
		slog.Int("appended", len(chunks)),
		slog.Int("total", s.Count()),
		slog.Duration("duration", time.Since(start)))

	return &Handle{store: s, embedder: a.embedder}, nil
}

func (a *Adapter) embedChunks(ctx context.Context, chunks []document.Chunk, progress func(done, total int)) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for lo := 0; lo < len(chunks); lo += embedBatch {
		hi := min(lo+embedBatch, len(chunks))
		texts := make([]string, hi-lo)
		for i, c := range chunks[lo:hi] {
			texts[i] = c.Text
		}

		batch, err := a.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			if _, ok := serrors.As(err); ok {
				return nil, err
			}
			return nil, serrors.New(serrors.ErrCodeEmbeddingFailed, "failed to embed chunks", err)
		}
		if len(batch) != len(texts) {
			return nil, serrors.New(serrors.ErrCodeEmbeddingFailed,
				fmt.Sprintf("embedder returned %d vectors for %d chunks", len(batch), len(texts)), nil)
		}
		vectors = append(vectors, batch...)

		if progress != nil {
			progress(hi, len(chunks))
		}
	}
	return vectors, nil
}

// Load reads the persisted index. A missing index is ERR_207, an undecodable
// one ERR_205, and one built with vectors of another size ERR_402.
func (a *Adapter) Load(ctx context.Context) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := a.open()
	if err != nil {
		return nil, err
	}
	return &Handle{store: s, embedder: a.embedder}, nil
}

func (a *Adapter) open() (*store.HNSWStore, error) {
	s, err := store.LoadHNSWStore(a.dir)
	if err != nil {
		return nil, err
	}

	cfg := s.Config()
	if cfg.Dimensions != a.embedder.Dimensions() {
		_ = s.Close()
		return nil, serrors.New(serrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with %d-dimensional vectors (%s) but the embedder produces %d (%s)",
				cfg.Dimensions, cfg.Model, a.embedder.Dimensions(), a.embedder.ModelName()), nil).
			WithDetail("index_dir", a.dir).
			WithSuggestion("Use the embedder the index was built with, or delete the index directory and re-index")
	}
	if cfg.Model != a.embedder.ModelName() {
		a.logger.Warn("index_model_differs",
			slog.String("index_model", cfg.Model),
			slog.String("embedder_model", a.embedder.ModelName()))
	}
	return s, nil
}
