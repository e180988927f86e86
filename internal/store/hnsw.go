package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// HNSWStore holds chunk embeddings in a coder/hnsw graph. Graph keys are
// dense uint64s assigned in insertion order; the chunk payload for each key
// lives beside the graph.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	chunks  map[uint64]document.Chunk
	nextKey uint64

	createdAt time.Time
	updatedAt time.Time

	closed bool
}

// storedChunk is one payload entry; entries are persisted sorted by key so
// that encoding the same store twice yields the same bytes.
type storedChunk struct {
	Key   uint64
	Chunk document.Chunk
}

// hnswMetadata is everything besides the graph itself.
type hnswMetadata struct {
	Config    VectorStoreConfig
	Chunks    []storedChunk
	NextKey   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewHNSWStore creates an empty store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, serrors.ValidationError(fmt.Sprintf("vector dimensions must be positive, got %d", cfg.Dimensions), nil)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 20
	}

	now := time.Now().UTC()
	return &HNSWStore{
		graph:     newGraph(cfg),
		config:    cfg,
		chunks:    make(map[uint64]document.Chunk),
		createdAt: now,
		updatedAt: now,
	}, nil
}

func newGraph(cfg VectorStoreConfig) *hnsw.Graph[uint64] {
	graph := hnsw.NewGraph[uint64]()
	switch cfg.Metric {
	case "l2":
		graph.Distance = hnsw.EuclideanDistance
	default:
		graph.Distance = hnsw.CosineDistance
	}
	graph.M = cfg.M
	graph.EfSearch = cfg.EfSearch
	graph.Ml = 0.25
	return graph
}

// Add appends chunks with their embeddings. Every vector must match the
// store's dimension.
func (s *HNSWStore) Add(_ context.Context, chunks []document.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return serrors.InternalError(fmt.Sprintf("chunks and vectors length mismatch: %d vs %d", len(chunks), len(vectors)), nil)
	}
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return dimensionMismatch(s.config.Dimensions, len(v), s.config.Model)
		}
	}

	nodes := make([]hnsw.Node[uint64], len(chunks))
	for i := range chunks {
		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		if s.config.Metric == "cos" {
			normalizeVectorInPlace(vec)
		}
		key := s.nextKey
		s.nextKey++
		nodes[i] = hnsw.MakeNode(key, vec)
		s.chunks[key] = chunks[i]
	}
	s.graph.Add(nodes...)
	s.updatedAt = time.Now().UTC()

	return nil
}

// Search finds the k chunks nearest to query, best first. Fewer than k are
// returned when the store holds fewer chunks.
func (s *HNSWStore) Search(_ context.Context, query []float32, k int) ([]*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, fmt.Errorf("store is closed")
	}
	if len(query) != s.config.Dimensions {
		return nil, dimensionMismatch(s.config.Dimensions, len(query), s.config.Model)
	}
	if s.graph.Len() == 0 || k <= 0 {
		return []*SearchResult{}, nil
	}

	q := make([]float32, len(query))
	copy(q, query)
	if s.config.Metric == "cos" {
		normalizeVectorInPlace(q)
	}

	nodes := s.graph.Search(q, k)

	results := make([]*SearchResult, 0, len(nodes))
	for _, node := range nodes {
		chunk, ok := s.chunks[node.Key]
		if !ok {
			continue
		}
		distance := s.graph.Distance(q, node.Value)
		results = append(results, &SearchResult{
			Chunk:    chunk,
			Distance: distance,
			Score:    distanceToScore(distance, s.config.Metric),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Distance < results[j].Distance
	})
	return results, nil
}

// Count returns number of chunks.
func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks)
}

// Config returns the store configuration.
func (s *HNSWStore) Config() VectorStoreConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config
}

// SourceCounts returns the number of chunks held per source path.
func (s *HNSWStore) SourceCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int)
	for _, c := range s.chunks {
		counts[c.Source]++
	}
	return counts
}

// Info summarises the store.
func (s *HNSWStore) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sources := make(map[string]struct{})
	for _, c := range s.chunks {
		sources[c.Source] = struct{}{}
	}
	return Info{
		Model:      s.config.Model,
		Dimensions: s.config.Dimensions,
		Chunks:     len(s.chunks),
		Sources:    len(sources),
		CreatedAt:  s.createdAt,
		UpdatedAt:  s.updatedAt,
	}
}

// Save persists the store into dir. The graph and the metadata are each
// written to a temp file and renamed into place.
func (s *HNSWStore) Save(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return fmt.Errorf("store is closed")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return serrors.New(serrors.ErrCodeFilePermission, fmt.Sprintf("failed to create index directory %s", dir), err)
	}

	if err := writeAtomic(filepath.Join(dir, GraphFile), func(f *os.File) error {
		return s.graph.Export(f)
	}); err != nil {
		return serrors.New(serrors.ErrCodeIndexFailed, "failed to write index graph", err)
	}

	meta := hnswMetadata{
		Config:    s.config,
		NextKey:   s.nextKey,
		CreatedAt: s.createdAt,
		UpdatedAt: s.updatedAt,
		Chunks:    make([]storedChunk, 0, len(s.chunks)),
	}
	for k, c := range s.chunks {
		meta.Chunks = append(meta.Chunks, storedChunk{Key: k, Chunk: c})
	}
	sort.Slice(meta.Chunks, func(i, j int) bool { return meta.Chunks[i].Key < meta.Chunks[j].Key })

	if err := writeAtomic(filepath.Join(dir, MetaFile), func(f *os.File) error {
		return gob.NewEncoder(f).Encode(meta)
	}); err != nil {
		return serrors.New(serrors.ErrCodeIndexFailed, "failed to write index metadata", err)
	}
	return nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		if closeErr := f.Close(); closeErr != nil {
			slog.Warn("failed to close temp file during cleanup", slog.String("error", closeErr.Error()))
		}
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Exists reports whether dir holds a persisted store.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, MetaFile))
	return err == nil
}

// LoadHNSWStore reads a store saved by Save. A missing index yields
// ERR_207; anything that cannot be decoded yields ERR_205.
func LoadHNSWStore(dir string) (*HNSWStore, error) {
	metaPath := filepath.Join(dir, MetaFile)
	mf, err := os.Open(metaPath)
	if os.IsNotExist(err) {
		return nil, serrors.New(serrors.ErrCodeIndexNotFound, fmt.Sprintf("no index found at %s", dir), err).
			WithDetail("index_dir", dir).
			WithSuggestion("Run: storyrag index")
	}
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeFileUnreadable, fmt.Sprintf("cannot open index metadata %s", metaPath), err)
	}
	defer func() { _ = mf.Close() }()

	var meta hnswMetadata
	if err := gob.NewDecoder(mf).Decode(&meta); err != nil {
		return nil, corruptIndex(dir, "decode metadata", err)
	}

	s, err := NewHNSWStore(meta.Config)
	if err != nil {
		return nil, corruptIndex(dir, "invalid config", err)
	}
	s.nextKey = meta.NextKey
	s.createdAt = meta.CreatedAt
	s.updatedAt = meta.UpdatedAt
	for _, sc := range meta.Chunks {
		s.chunks[sc.Key] = sc.Chunk
	}

	gf, err := os.Open(filepath.Join(dir, GraphFile))
	if err != nil {
		return nil, corruptIndex(dir, "open graph", err)
	}
	defer func() { _ = gf.Close() }()

	// coder/hnsw Import requires an io.ByteReader.
	if err := s.graph.Import(bufio.NewReader(gf)); err != nil {
		return nil, corruptIndex(dir, "import graph", err)
	}
	if s.graph.Len() != len(s.chunks) {
		return nil, corruptIndex(dir, "graph and metadata disagree",
			fmt.Errorf("%d nodes, %d chunks", s.graph.Len(), len(s.chunks)))
	}

	return s, nil
}

func corruptIndex(dir, what string, err error) error {
	return serrors.New(serrors.ErrCodeCorruptIndex, fmt.Sprintf("index at %s is corrupt: %s", dir, what), err).
		WithDetail("index_dir", dir).
		WithSuggestion("Delete the index directory and the fingerprint file, then run 'storyrag index'")
}

// Close releases resources.
func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// normalizeVectorInPlace normalizes a vector to unit length in place.
func normalizeVectorInPlace(v []float32) {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	if sumSquares == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sumSquares))
	for i := range v {
		v[i] *= inv
	}
}

// distanceToScore converts a distance to a 0-1 similarity score.
func distanceToScore(distance float32, metric string) float32 {
	if metric == "l2" {
		return 1.0 / (1.0 + distance)
	}
	return 1.0 - distance/2.0
}
