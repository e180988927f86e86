package index

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/storyrag/internal/chunk"
	"github.com/Aman-CERP/storyrag/internal/document"
	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/store"
)

// fakeEmbedder returns fixed vectors of dims size, or err.
type fakeEmbedder struct {
	dims  int
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	v, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return v[0], nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[i%f.dims] = 1
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int                { return f.dims }
func (f *fakeEmbedder) ModelName() string              { return "fake" }
func (f *fakeEmbedder) Available(context.Context) bool { return f.err == nil }
func (f *fakeEmbedder) Close() error                   { return nil }

type fixture struct {
	docs    string
	index   string
	fps     *fingerprint.Store
	adapter *Adapter
	runner  *Runner
}

func newFixture(t *testing.T, e embed.Embedder) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		docs:  filepath.Join(root, "docs"),
		index: filepath.Join(root, "vector_index"),
		fps:   fingerprint.New(filepath.Join(root, "hash_index.json")),
	}
	require.NoError(t, os.MkdirAll(f.docs, 0o755))
	f.adapter = NewAdapter(f.index, e)

	chunker, err := chunk.New(chunk.DefaultOptions())
	require.NoError(t, err)
	f.runner, err = NewRunner(RunnerDependencies{Adapter: f.adapter, Fingerprints: f.fps, Chunker: chunker, Workers: 2})
	require.NoError(t, err)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.docs, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestAdapter_EmptyAppendWithoutIndexFails(t *testing.T) {
	// Given: no index on disk
	f := newFixture(t, embed.NewStaticEmbedder())

	// When: appending nothing
	_, err := f.adapter.CreateOrAppend(context.Background(), nil)

	// Then: the missing index is reported
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeIndexNotFound))
	assert.False(t, store.Exists(f.index))
}

func TestAdapter_EmptyAppendLeavesBytesUnchanged(t *testing.T) {
	// Given: an index with two chunks
	f := newFixture(t, embed.NewStaticEmbedder())
	ctx := context.Background()
	h, err := f.adapter.CreateOrAppend(ctx, []document.Chunk{
		{Text: "a dragon slept", Source: "a.txt"},
		{Text: "a knight woke", Source: "b.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	read := func() ([]byte, []byte) {
		g, err := os.ReadFile(filepath.Join(f.index, store.GraphFile))
		require.NoError(t, err)
		m, err := os.ReadFile(filepath.Join(f.index, store.MetaFile))
		require.NoError(t, err)
		return g, m
	}
	g0, m0 := read()

	// When: appending nothing twice
	for range 2 {
		h, err := f.adapter.CreateOrAppend(ctx, []document.Chunk{})
		require.NoError(t, err)
		assert.Equal(t, 2, h.Count())
		require.NoError(t, h.Close())
	}

	// Then: the files are byte-for-byte identical
	g1, m1 := read()
	assert.Equal(t, g0, g1)
	assert.Equal(t, m0, m1)
}

func TestAdapter_AppendGrowsIndex(t *testing.T) {
	f := newFixture(t, embed.NewStaticEmbedder())
	ctx := context.Background()

	h, err := f.adapter.CreateOrAppend(ctx, []document.Chunk{{Text: "first", Source: "a.txt"}})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h, err = f.adapter.CreateOrAppend(ctx, []document.Chunk{{Text: "second", Source: "b.txt"}})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 2, h.Count())
	assert.Equal(t, map[string]int{"a.txt": 1, "b.txt": 1}, h.SourceCounts())
}

func TestAdapter_LoadErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing", func(t *testing.T) {
		f := newFixture(t, embed.NewStaticEmbedder())
		_, err := f.adapter.Load(ctx)
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeIndexNotFound))
	})

	t.Run("corrupt", func(t *testing.T) {
		f := newFixture(t, embed.NewStaticEmbedder())
		require.NoError(t, os.MkdirAll(f.index, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(f.index, store.MetaFile), []byte("not gob"), 0o644))
		_, err := f.adapter.Load(ctx)
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeCorruptIndex))
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		f := newFixture(t, embed.NewStaticEmbedder())
		h, err := f.adapter.CreateOrAppend(ctx, []document.Chunk{{Text: "x", Source: "a.txt"}})
		require.NoError(t, err)
		require.NoError(t, h.Close())

		other := NewAdapter(f.index, &fakeEmbedder{dims: 4})
		_, err = other.Load(ctx)
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeDimensionMismatch))

		_, err = other.CreateOrAppend(ctx, []document.Chunk{{Text: "y", Source: "b.txt"}})
		assert.True(t, serrors.HasCode(err, serrors.ErrCodeDimensionMismatch))
	})
}

func TestAdapter_EmbedFailureLeavesNoIndex(t *testing.T) {
	// Given: an embedder that is down
	e := &fakeEmbedder{dims: 4, err: errors.New("connection refused")}
	f := newFixture(t, e)

	// When: creating the index
	_, err := f.adapter.CreateOrAppend(context.Background(), []document.Chunk{{Text: "x", Source: "a.txt"}})

	// Then: one attempt, a structured error, nothing on disk
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeEmbeddingFailed))
	assert.Equal(t, 1, e.calls)
	assert.False(t, store.Exists(f.index))
}

func TestAdapter_Status(t *testing.T) {
	f := newFixture(t, embed.NewStaticEmbedder())
	ctx := context.Background()

	st, err := f.adapter.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Exists)

	h, err := f.adapter.CreateOrAppend(ctx, []document.Chunk{
		{Text: "one", Source: "a.txt"},
		{Text: "two", Source: "a.txt"},
	})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	st, err = f.adapter.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, 2, st.Chunks)
	assert.Equal(t, 1, st.Sources)
	assert.Equal(t, embed.StaticDimensions, st.Dimensions)
	assert.Equal(t, "static", st.Model)
	assert.Positive(t, st.SizeBytes)
	assert.False(t, st.ModifiedAt.IsZero())
}

func TestRunner_EmptyDocsDir(t *testing.T) {
	// Given: an empty documents root and no index
	f := newFixture(t, embed.NewStaticEmbedder())

	// When: indexing
	res, err := f.runner.Run(context.Background(), RunnerConfig{DocsDir: f.docs})

	// Then: nothing loaded, no index created
	require.NoError(t, err)
	assert.Empty(t, res.Loaded)
	assert.Nil(t, res.Handle)
	assert.False(t, store.Exists(f.index))
}

func TestRunner_IncrementalIndexAndQuery(t *testing.T) {
	// Given: a.txt = "hello world"
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "a.txt", "hello world")
	ctx := context.Background()

	// When: indexing twice
	first, err := f.runner.Run(ctx, RunnerConfig{DocsDir: f.docs})
	require.NoError(t, err)
	require.NotNil(t, first.Handle)
	require.NoError(t, first.Handle.Close())

	second, err := f.runner.Run(ctx, RunnerConfig{DocsDir: f.docs})
	require.NoError(t, err)
	defer second.Handle.Close()

	// Then: the first run loaded a.txt and the second skipped it
	assert.Equal(t, []string{"a.txt"}, first.Loaded)
	assert.Equal(t, 1, first.Chunks)
	assert.Empty(t, second.Loaded)
	assert.Equal(t, []string{"a.txt"}, second.Skipped)
	assert.Equal(t, 1, second.Total)

	// And: the fingerprint was committed
	fps, err := f.fps.Load()
	require.NoError(t, err)
	assert.Contains(t, fps, "a.txt")

	// And: querying "hello" finds exactly the one chunk
	results, err := second.Handle.Search(ctx, "hello", 3)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a.txt", results[0].Chunk.Source)
}

func TestRunner_ChangedFileIsAppended(t *testing.T) {
	f := newFixture(t, embed.NewStaticEmbedder())
	ctx := context.Background()
	f.write(t, "a.txt", "the first tale")

	res, err := f.runner.Run(ctx, RunnerConfig{DocsDir: f.docs})
	require.NoError(t, err)
	require.NoError(t, res.Handle.Close())

	f.write(t, "a.txt", "the second tale")
	f.write(t, "b.txt", "another tale")

	res, err = f.runner.Run(ctx, RunnerConfig{DocsDir: f.docs})
	require.NoError(t, err)
	defer res.Handle.Close()

	assert.Equal(t, []string{"a.txt", "b.txt"}, res.Loaded)
	assert.Equal(t, 3, res.Total)
}

func TestRunner_Selection(t *testing.T) {
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "a.txt", "alpha")
	f.write(t, "b.txt", "beta")

	res, err := f.runner.Run(context.Background(), RunnerConfig{DocsDir: f.docs, Selection: []string{"b.txt"}})
	require.NoError(t, err)
	defer res.Handle.Close()

	assert.Equal(t, []string{"b.txt"}, res.Loaded)
	fps, err := f.fps.Load()
	require.NoError(t, err)
	assert.NotContains(t, fps, "a.txt")
}

func TestRunner_FailedEmbedDoesNotCommitFingerprints(t *testing.T) {
	// Given: a document and an embedder that fails
	f := newFixture(t, &fakeEmbedder{dims: 4, err: errors.New("down")})
	f.write(t, "a.txt", "hello")

	// When: indexing
	_, err := f.runner.Run(context.Background(), RunnerConfig{DocsDir: f.docs})

	// Then: the error surfaces and a.txt will be retried next run
	require.Error(t, err)
	fps, err := f.fps.Load()
	require.NoError(t, err)
	assert.Empty(t, fps)
}

func TestRunner_WhitespaceFileCommitsWithoutIndex(t *testing.T) {
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "blank.txt", "   \n\t")

	res, err := f.runner.Run(context.Background(), RunnerConfig{DocsDir: f.docs})
	require.NoError(t, err)
	assert.Equal(t, []string{"blank.txt"}, res.Loaded)
	assert.Zero(t, res.Chunks)
	assert.Nil(t, res.Handle)

	fps, err := f.fps.Load()
	require.NoError(t, err)
	assert.Contains(t, fps, "blank.txt")
}

func TestRunner_AppendUnitsRecordsFingerprint(t *testing.T) {
	f := newFixture(t, embed.NewStaticEmbedder())

	h, err := f.runner.AppendUnits(context.Background(),
		[]document.TextUnit{{Text: "A tale.", Source: "memory_stories/story_x.txt"}},
		map[string]string{"memory_stories/story_x.txt": "abc"})
	require.NoError(t, err)
	defer h.Close()

	assert.Equal(t, 1, h.Count())
	fps, err := f.fps.Load()
	require.NoError(t, err)
	assert.Equal(t, "abc", fps["memory_stories/story_x.txt"])
}

func TestRunner_Prune(t *testing.T) {
	// Given: fingerprints for one existing and one deleted file
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "keep.txt", "x")
	require.NoError(t, f.fps.Update(map[string]string{"keep.txt": "1", "gone.txt": "2"}))

	// When: pruning
	removed, err := f.runner.Prune(context.Background(), f.docs)

	// Then: only the deleted file is dropped
	require.NoError(t, err)
	assert.Equal(t, []string{"gone.txt"}, removed)
	fps, err := f.fps.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"keep.txt": "1"}, fps)
}

func TestNewRunner_RequiresDependencies(t *testing.T) {
	_, err := NewRunner(RunnerDependencies{})
	assert.Error(t, err)
}

func TestFileLock_Contention(t *testing.T) {
	// Given: one holder of the index lock
	dir := filepath.Join(t.TempDir(), "vector_index")
	holder := NewFileLock(dir)
	require.NoError(t, holder.Lock(context.Background()))
	defer holder.Unlock()
	assert.Equal(t, dir+".lock", holder.Path())
	assert.True(t, holder.locked)

	// When: a second writer tries with a short deadline
	other := NewFileLock(dir)
	ok, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	err = other.Lock(ctx)

	// Then: it gets a retryable locked error
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeIndexLocked))
	assert.True(t, serrors.IsRetryable(err))

	// And: after release it succeeds
	require.NoError(t, holder.Unlock())
	require.NoError(t, other.Lock(context.Background()))
	require.NoError(t, other.Unlock())
	require.NoError(t, other.Unlock())
}

// slowEmbedder is the static embedder with a pause per batch and a count of
// embedded texts.
type slowEmbedder struct {
	*embed.StaticEmbedder
	delay time.Duration
	texts atomic.Int64
}

func (s *slowEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	time.Sleep(s.delay)
	s.texts.Add(int64(len(texts)))
	return s.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestRunner_ConcurrentRunsEmbedFileOnce(t *testing.T) {
	// Given: one new file and two runners over the same index, one of them
	// with its own adapter and fingerprint store as a second process would have
	e := &slowEmbedder{StaticEmbedder: embed.NewStaticEmbedder(), delay: 100 * time.Millisecond}
	f := newFixture(t, e)
	f.write(t, "a.txt", "the lantern drifted past the reef")

	chunker, err := chunk.New(chunk.DefaultOptions())
	require.NoError(t, err)
	other, err := NewRunner(RunnerDependencies{
		Adapter:      NewAdapter(f.index, e),
		Fingerprints: fingerprint.New(f.fps.Path()),
		Chunker:      chunker,
	})
	require.NoError(t, err)

	// When: both index at the same time, twice over
	ctx := context.Background()
	var wg sync.WaitGroup
	for _, r := range []*Runner{f.runner, other, f.runner, other} {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			res, err := r.Run(ctx, RunnerConfig{DocsDir: f.docs})
			if assert.NoError(t, err) && res.Handle != nil {
				_ = res.Handle.Close()
			}
		}(r)
	}
	wg.Wait()

	// Then: the file was embedded and stored exactly once
	assert.Equal(t, int64(1), e.texts.Load())
	h, err := f.adapter.Load(ctx)
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 1, h.Count())
}

func TestAdapter_AfterPersistFailureClosesHandle(t *testing.T) {
	// Given: a commit step that fails
	f := newFixture(t, embed.NewStaticEmbedder())
	boom := errors.New("disk full")

	// When: appending
	h, err := f.adapter.CreateOrAppend(context.Background(),
		[]document.Chunk{{Text: "a dragon slept", Source: "a.txt"}},
		AfterPersist(func() error { return boom }))

	// Then: the error is returned with no handle, and the lock is free again
	require.ErrorIs(t, err, boom)
	assert.Nil(t, h)
	assert.False(t, f.adapter.lock.locked)

	h, err = f.adapter.Load(context.Background())
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 1, h.Count())
}

func TestRunner_FailureReleasesLock(t *testing.T) {
	// Given: a fingerprint path that is a directory
	f := newFixture(t, embed.NewStaticEmbedder())
	f.write(t, "a.txt", "hello world")
	require.NoError(t, os.MkdirAll(f.fps.Path(), 0o755))

	// When: indexing
	_, err := f.runner.Run(context.Background(), RunnerConfig{DocsDir: f.docs})

	// Then: the run fails and the adapter can be locked again
	require.Error(t, err)
	ok, err := f.adapter.lock.TryLock()
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, f.adapter.lock.Unlock())
}
