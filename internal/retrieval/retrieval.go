// Package retrieval answers questions against a loaded index: top-k chunks by
// cosine similarity, each with the source it came from.
//
// Ties between equally similar chunks come back in no guaranteed order.
package retrieval

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/store"
)

// DefaultK is the number of chunks returned when k <= 0.
const DefaultK = 3

// Searcher is the part of an index handle retrieval needs.
type Searcher interface {
	Search(ctx context.Context, text string, k int) ([]*store.SearchResult, error)
}

// Hit is one retrieved chunk and how close it was.
type Hit struct {
	Chunk document.Chunk `json:"chunk"`
	Score float32        `json:"score"`
}

// Search returns up to k hits for question, best first.
func Search(ctx context.Context, s Searcher, question string, k int) ([]Hit, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, serrors.New(serrors.ErrCodeQueryEmpty, "question is empty", nil).
			WithSuggestion("Ask a question with at least one word")
	}
	if k <= 0 {
		k = DefaultK
	}

	start := time.Now()
	results, err := s.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{Chunk: r.Chunk, Score: r.Score}
	}

	slog.Debug("retrieval_completed",
		slog.Int("k", k),
		slog.Int("hits", len(hits)),
		slog.Duration("duration", time.Since(start)))
	return hits, nil
}

// Query returns the top-k chunks for question and, index aligned, the source
// of each chunk.
func Query(ctx context.Context, s Searcher, question string, k int) ([]document.Chunk, []string, error) {
	hits, err := Search(ctx, s, question, k)
	if err != nil {
		return nil, nil, err
	}
	chunks := Chunks(hits)
	return chunks, document.Sources(chunks), nil
}

// Chunks strips scores from hits.
func Chunks(hits []Hit) []document.Chunk {
	out := make([]document.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out
}
