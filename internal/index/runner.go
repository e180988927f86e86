package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/storyrag/internal/chunk"
	"github.com/Aman-CERP/storyrag/internal/document"
	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/loader"
	"github.com/Aman-CERP/storyrag/internal/ui"
)

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// DocsDir is the documents root.
	DocsDir string

	// Selection restricts the run to these relative paths. Empty means all.
	Selection []string
}

// RunnerResult contains the outcome of an indexing run.
type RunnerResult struct {
	// Loaded and Skipped are relative paths in walk order.
	Loaded  []string
	Skipped []string

	// Chunks is the number of chunks appended.
	Chunks int

	// Total is the number of chunks in the index afterwards.
	Total int

	Duration time.Duration
	Timings  ui.StageTimings

	// Handle is the index after the run, nil when no index exists yet.
	// The caller closes it.
	Handle *Handle
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Adapter owns the index (required).
	Adapter *Adapter

	// Fingerprints is the content fingerprint store (required).
	Fingerprints *fingerprint.Store

	// Chunker splits loaded text (required).
	Chunker *chunk.Chunker

	// Renderer displays progress. Defaults to ui.NopRenderer.
	Renderer ui.Renderer

	// Workers bounds parallel file loading. Zero means one per CPU.
	Workers int
}

// Runner is the incremental indexing pipeline, run under the writer lock:
// scan → chunk → embed and persist → commit fingerprints.
//
// Fingerprints are committed only after the index is on disk, so a crash in
// between re-indexes the changed files on the next run instead of losing them.
type Runner struct {
	adapter      *Adapter
	fingerprints *fingerprint.Store
	chunker      *chunk.Chunker
	renderer     ui.Renderer
	workers      int
	logger       *slog.Logger
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Adapter == nil {
		return nil, fmt.Errorf("adapter is required")
	}
	if deps.Fingerprints == nil {
		return nil, fmt.Errorf("fingerprint store is required")
	}
	if deps.Chunker == nil {
		return nil, fmt.Errorf("chunker is required")
	}
	renderer := deps.Renderer
	if renderer == nil {
		renderer = ui.NopRenderer{}
	}

	return &Runner{
		adapter:      deps.Adapter,
		fingerprints: deps.Fingerprints,
		chunker:      deps.Chunker,
		renderer:     renderer,
		workers:      deps.Workers,
		logger:       slog.Default(),
	}, nil
}

// Adapter returns the index adapter the runner writes through.
func (r *Runner) Adapter() *Adapter {
	return r.adapter
}

// Run indexes the new and changed documents under cfg.DocsDir.
func (r *Runner) Run(ctx context.Context, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	res := &RunnerResult{}

	if err := r.renderer.Start(ctx); err != nil {
		return nil, err
	}
	defer func() { _ = r.renderer.Stop() }()

	r.logger.Info("index_started",
		slog.String("docs_dir", cfg.DocsDir),
		slog.Int("selection", len(cfg.Selection)))

	// The writer lock spans scan to commit, so a concurrent run sees the
	// fingerprints this one commits and never embeds the same file twice.
	var stageStart time.Time
	var persistStart time.Time
	empty := false
	err := r.adapter.WithLock(ctx, func() error {
		// Load
		opts := []loader.Option{loader.WithProgress(func(done, total int, rel string) {
			r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageLoading, Current: done, Total: total, CurrentFile: rel})
		})}
		if r.workers > 0 {
			opts = append(opts, loader.WithWorkers(r.workers))
		}
		ld := loader.New(r.fingerprints, opts...)

		stageStart = time.Now()
		scan, err := ld.Scan(ctx, cfg.DocsDir, cfg.Selection)
		if err != nil {
			return err
		}
		res.Loaded, res.Skipped = scan.Loaded, scan.Skipped
		res.Timings.Load = time.Since(stageStart)

		// Chunk
		stageStart = time.Now()
		r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageChunking, Message: fmt.Sprintf("splitting %d text units", len(scan.Units))})
		chunks, err := r.chunker.Split(scan.Units)
		if err != nil {
			return err
		}
		res.Chunks = len(chunks)
		res.Timings.Chunk = time.Since(stageStart)

		// Embed, persist, commit
		stageStart = time.Now()
		commit := func() error { return ld.Commit(scan) }
		if len(chunks) == 0 {
			// Nothing to embed, but whitespace-only files still get fingerprints.
			empty = true
			return commit()
		}
		h, err := r.adapter.appendLocked(ctx, chunks,
			WithEmbedProgress(func(done, total int) {
				r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Current: done, Total: total})
			}),
			BeforePersist(func() {
				persistStart = time.Now()
				res.Timings.Embed = persistStart.Sub(stageStart)
				r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageSaving, Message: "writing index"})
			}),
			AfterPersist(commit),
		)
		if err != nil {
			return err
		}
		res.Handle = h
		return nil
	})
	if err != nil {
		r.fail(err)
		return nil, err
	}

	if empty {
		h, err := r.adapter.Load(ctx)
		switch {
		case err == nil:
			res.Handle = h
			res.Total = h.Count()
		case !serrors.HasCode(err, serrors.ErrCodeIndexNotFound):
			r.fail(err)
			return nil, err
		}
	} else {
		res.Timings.Save = time.Since(persistStart)
		res.Total = res.Handle.Count()
	}

	res.Duration = time.Since(start)
	r.renderer.Complete(ui.CompletionStats{
		Files:    len(res.Loaded),
		Skipped:  len(res.Skipped),
		Chunks:   res.Chunks,
		Total:    res.Total,
		Duration: res.Duration,
		Stages:   res.Timings,
		Embedder: embedderInfo(r.adapter.Embedder()),
	})

	r.logger.Info("index_completed",
		slog.Int("files", len(res.Loaded)),
		slog.Int("skipped", len(res.Skipped)),
		slog.Int("chunks", res.Chunks),
		slog.Int("total", res.Total),
		slog.Duration("duration", res.Duration))

	return res, nil
}

// AppendUnits chunks text that did not come from a scan (such as a memory
// story), appends it, and records the given fingerprints under the same lock.
func (r *Runner) AppendUnits(ctx context.Context, units []document.TextUnit, fingerprints map[string]string) (*Handle, error) {
	chunks, err := r.chunker.Split(units)
	if err != nil {
		return nil, err
	}
	return r.adapter.CreateOrAppend(ctx, chunks, AfterPersist(func() error {
		if len(fingerprints) == 0 {
			return nil
		}
		return r.fingerprints.Update(fingerprints)
	}))
}

// Prune drops fingerprints of files that no longer exist under docsDir.
// Indexed chunks of deleted files stay in the index.
func (r *Runner) Prune(ctx context.Context, docsDir string) ([]string, error) {
	var removed []string
	err := r.adapter.WithLock(ctx, func() error {
		var err error
		removed, err = r.fingerprints.Prune(func(rel string) bool {
			_, statErr := os.Stat(filepath.Join(docsDir, filepath.FromSlash(rel)))
			return !errors.Is(statErr, os.ErrNotExist)
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(removed) > 0 {
		r.logger.Info("fingerprints_pruned", slog.Int("removed", len(removed)))
	}
	return removed, nil
}

func (r *Runner) fail(err error) {
	r.renderer.AddError(ui.ErrorEvent{Err: err})
	r.logger.Error("index_failed", serrors.LogAttrs(err)...)
}

func embedderInfo(e embed.Embedder) ui.EmbedderInfo {
	backend := "custom"
	inner := e
	if c, ok := e.(*embed.CachedEmbedder); ok {
		inner = c.Unwrap()
	}
	switch inner.(type) {
	case *embed.OllamaEmbedder:
		backend = string(embed.ProviderOllama)
	case *embed.OpenAIEmbedder:
		backend = string(embed.ProviderOpenAI)
	case *embed.StaticEmbedder:
		backend = string(embed.ProviderStatic)
	}
	return ui.EmbedderInfo{Backend: backend, Model: e.ModelName(), Dimensions: e.Dimensions()}
}
