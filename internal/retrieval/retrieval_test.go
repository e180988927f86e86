package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/store"
)

type fakeSearcher struct {
	results []*store.SearchResult
	err     error
	gotK    int
	gotText string
}

func (f *fakeSearcher) Search(_ context.Context, text string, k int) ([]*store.SearchResult, error) {
	f.gotK, f.gotText = k, text
	if f.err != nil {
		return nil, f.err
	}
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

func results(sources ...string) []*store.SearchResult {
	out := make([]*store.SearchResult, len(sources))
	for i, s := range sources {
		out[i] = &store.SearchResult{Chunk: document.Chunk{Text: "chunk " + s, Source: s}, Score: 1 - float32(i)/10}
	}
	return out
}

func TestQuery_SourcesAlignWithChunks(t *testing.T) {
	// Given: an index returning chunks from two sources, one repeated
	s := &fakeSearcher{results: results("a.txt", "b.pdf", "a.txt")}

	// When: querying
	chunks, sources, err := Query(context.Background(), s, "  dragons  ", 3)

	// Then: sources[i] is chunks[i].Source and the question is trimmed
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, []string{"a.txt", "b.pdf", "a.txt"}, sources)
	for i := range chunks {
		assert.Equal(t, chunks[i].Source, sources[i])
	}
	assert.Equal(t, []string{"a.txt", "b.pdf"}, document.UniqueSources(chunks))
	assert.Equal(t, "dragons", s.gotText)
}

func TestQuery_DefaultK(t *testing.T) {
	for _, k := range []int{0, -1} {
		s := &fakeSearcher{results: results("a", "b", "c", "d")}
		chunks, _, err := Query(context.Background(), s, "q", k)
		require.NoError(t, err)
		assert.Equal(t, DefaultK, s.gotK)
		assert.Len(t, chunks, DefaultK)
	}
}

func TestQuery_EmptyQuestion(t *testing.T) {
	for _, q := range []string{"", "   ", "\n\t"} {
		s := &fakeSearcher{}
		_, _, err := Query(context.Background(), s, q, 3)
		require.Error(t, err)
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeQueryEmpty))
		assert.Equal(t, serrors.CategoryValidation, serrors.GetCategory(err))
		assert.Zero(t, s.gotK, "index must not be searched")
	}
}

func TestQuery_FewerThanK(t *testing.T) {
	s := &fakeSearcher{results: results("only.txt")}
	chunks, sources, err := Query(context.Background(), s, "q", 5)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
	assert.Equal(t, []string{"only.txt"}, sources)
}

func TestSearch_PropagatesErrors(t *testing.T) {
	s := &fakeSearcher{err: errors.New("boom")}
	_, err := Search(context.Background(), s, "q", 1)
	assert.EqualError(t, err, "boom")
}

func TestSearch_KeepsScores(t *testing.T) {
	s := &fakeSearcher{results: results("a", "b")}
	hits, err := Search(context.Background(), s, "q", 2)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)
	assert.InDelta(t, 0.9, hits[1].Score, 0.001)
}
