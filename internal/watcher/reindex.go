package watcher

import (
	"context"
	"log/slog"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/index"
)

// Indexer runs an incremental index pass.
type Indexer interface {
	Run(ctx context.Context, cfg index.RunnerConfig) (*index.RunnerResult, error)
}

// BatchResult is the outcome of handling one batch of changes.
type BatchResult struct {
	Changed []string
	Removed []string
	Result  *index.RunnerResult
	Err     error
}

// Reindexer feeds watch batches into an Indexer.
type Reindexer struct {
	indexer Indexer
	docsDir string
	notify  func(BatchResult)
}

// NewReindexer creates a Reindexer. notify, if non-nil, sees every batch.
func NewReindexer(indexer Indexer, docsDir string, notify func(BatchResult)) *Reindexer {
	return &Reindexer{indexer: indexer, docsDir: docsDir, notify: notify}
}

// Consume handles batches until events is closed or ctx is done. Index
// failures are reported and watching continues.
func (r *Reindexer) Consume(ctx context.Context, events <-chan []FileEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-events:
			if !ok {
				return nil
			}
			r.handle(ctx, batch)
		}
	}
}

func (r *Reindexer) handle(ctx context.Context, batch []FileEvent) {
	var br BatchResult
	for _, ev := range batch {
		switch ev.Operation {
		case OpCreate, OpModify:
			br.Changed = append(br.Changed, ev.Path)
		default:
			br.Removed = append(br.Removed, ev.Path)
		}
	}

	if len(br.Removed) > 0 {
		// Their chunks stay in the index; fingerprints go with 'index prune'.
		slog.Info("documents_removed", slog.Any("paths", br.Removed))
	}

	if len(br.Changed) > 0 {
		res, err := r.indexer.Run(ctx, index.RunnerConfig{DocsDir: r.docsDir, Selection: br.Changed})
		if err != nil {
			slog.Error("watch_reindex_failed", serrors.LogAttrs(err)...)
			br.Err = err
		} else {
			if res.Handle != nil {
				_ = res.Handle.Close()
				res.Handle = nil
			}
			slog.Info("watch_reindexed",
				slog.Int("files", len(res.Loaded)),
				slog.Int("chunks", res.Chunks),
				slog.Int("total", res.Total))
			br.Result = res
		}
	}

	if r.notify != nil {
		r.notify(br)
	}
}
