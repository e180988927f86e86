// Package store persists the chunk vector index: an HNSW graph over chunk
// embeddings plus the chunk payloads and the embedder identity it was built
// with.
package store

import (
	"fmt"
	"time"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// On-disk layout inside the index directory.
const (
	GraphFile = "vectors.hnsw"
	MetaFile  = "vectors.meta"
)

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	// Dimensions is the vector dimension (384 for all-minilm, 256 for static)
	Dimensions int

	// Model is the embedder that produced the vectors
	Model string

	// Metric is the distance metric: "cos" (cosine), "l2" (euclidean) (default: "cos")
	Metric string

	// M is HNSW max connections per layer (default: 16)
	M int

	// EfSearch is HNSW query-time search width (default: 20)
	EfSearch int
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int, model string) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Model:      model,
		Metric:     "cos",
		M:          16,
		EfSearch:   20,
	}
}

// SearchResult is one nearest-neighbour hit.
type SearchResult struct {
	Chunk    document.Chunk
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// Info summarises a store for status reporting.
type Info struct {
	Model      string
	Dimensions int
	Chunks     int
	Sources    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// dimensionMismatch reports vectors that do not fit the index.
func dimensionMismatch(expected, got int, model string) error {
	return serrors.New(serrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("dimension mismatch: index expects %d, got %d", expected, got), nil).
		WithDetail("index_model", model).
		WithSuggestion("The embedder changed since the index was built. Delete the index directory and run 'storyrag index'")
}
