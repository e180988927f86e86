package index

import (
	"context"

	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/store"
)

// Handle is a loaded index paired with the embedder that queries it.
type Handle struct {
	store    *store.HNSWStore
	embedder embed.Embedder
}

// Search embeds text and returns up to k nearest chunks, closest first.
func (h *Handle) Search(ctx context.Context, text string, k int) ([]*store.SearchResult, error) {
	vec, err := h.embedder.Embed(ctx, text)
	if err != nil {
		if _, ok := serrors.As(err); ok {
			return nil, err
		}
		return nil, serrors.New(serrors.ErrCodeEmbeddingFailed, "failed to embed query", err)
	}

	results, err := h.store.Search(ctx, vec, k)
	if err != nil {
		if _, ok := serrors.As(err); ok {
			return nil, err
		}
		return nil, serrors.New(serrors.ErrCodeSearchFailed, "index search failed", err)
	}
	return results, nil
}

// Count returns the number of chunks in the index.
func (h *Handle) Count() int {
	return h.store.Count()
}

// Info summarises the loaded index.
func (h *Handle) Info() store.Info {
	return h.store.Info()
}

// SourceCounts returns chunks per source.
func (h *Handle) SourceCounts() map[string]int {
	return h.store.SourceCounts()
}

// Close releases the in-memory index. The embedder is not closed.
func (h *Handle) Close() error {
	return h.store.Close()
}
