package embed

import (
	"context"
	"crypto/sha256"
	"log/slog"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of vectors kept when Options.CacheSize is
// unset but caching was requested.
const DefaultCacheSize = 256

type cacheKey [sha256.Size]byte

// CacheStats counts lookups served by a CachedEmbedder.
type CacheStats struct {
	Hits   int64
	Misses int64
}

// CachedEmbedder memoizes vectors per (model, text). Retrieval embeds the
// same prompt again whenever a story is regenerated or an MCP client retries,
// and the watcher re-embeds unchanged chunks of an edited document.
type CachedEmbedder struct {
	next   Embedder
	model  string
	vecs   *lru.Cache[cacheKey, []float32]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCachedEmbedder wraps next with an LRU of size entries.
func NewCachedEmbedder(next Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultCacheSize
	}
	vecs, err := lru.New[cacheKey, []float32](size)
	if err != nil {
		// lru.New only fails on a non-positive size.
		panic(err)
	}
	return &CachedEmbedder{next: next, model: next.ModelName(), vecs: vecs}
}

func (c *CachedEmbedder) key(text string) cacheKey {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	var k cacheKey
	copy(k[:], h.Sum(nil))
	return k
}

func (c *CachedEmbedder) lookup(k cacheKey) ([]float32, bool) {
	v, ok := c.vecs.Get(k)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Embed serves text from the cache or asks the wrapped embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	k := c.key(text)
	if v, ok := c.lookup(k); ok {
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.vecs.Add(k, v)
	return v, nil
}

// EmbedBatch sends only the cache misses downstream, in one batch, and
// stitches the answers back into input order.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]cacheKey, len(texts))
	var pending []int
	for i, text := range texts {
		keys[i] = c.key(text)
		if v, ok := c.lookup(keys[i]); ok {
			out[i] = v
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return out, nil
	}

	missing := make([]string, len(pending))
	for j, i := range pending {
		missing[j] = texts[i]
	}
	vecs, err := c.next.EmbedBatch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, i := range pending {
		out[i] = vecs[j]
		c.vecs.Add(keys[i], vecs[j])
	}
	return out, nil
}

// Stats reports hit and miss counts since construction.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

func (c *CachedEmbedder) Dimensions() int                    { return c.next.Dimensions() }
func (c *CachedEmbedder) ModelName() string                  { return c.model }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.next.Available(ctx) }

// Unwrap returns the embedder behind the cache.
func (c *CachedEmbedder) Unwrap() Embedder { return c.next }

// Close logs the cache counters and closes the wrapped embedder.
func (c *CachedEmbedder) Close() error {
	s := c.Stats()
	slog.Debug("embed_cache_closed",
		slog.String("model", c.model),
		slog.Int64("hits", s.Hits),
		slog.Int64("misses", s.Misses))
	return c.next.Close()
}
