package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/storyrag/internal/index"
)

func TestRelevant(t *testing.T) {
	assert.True(t, relevant("a.txt"))
	assert.True(t, relevant("lore/crew.PDF"))
	assert.True(t, relevant("notes.docx"))
	assert.False(t, relevant("main.go"))
	assert.False(t, relevant(".hidden.txt"))
	assert.False(t, relevant(".git/notes.txt"))
	assert.False(t, relevant("."))
}

func TestPoller_Diff(t *testing.T) {
	// Given: a snapshot with two documents and an ignored file
	root := t.TempDir()
	write := func(rel, content string) {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	write("keep.txt", "one")
	write("gone.txt", "two")
	write("code.go", "package x")
	p := newPoller(root)
	require.NoError(t, p.snapshot())

	// When: one is changed, one removed, and one added
	write("keep.txt", "one, longer now")
	require.NoError(t, os.Remove(filepath.Join(root, "gone.txt")))
	write("sub/new.docx", "x")
	events, err := p.diff()

	// Then: exactly those changes come back, in path order
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, FileEvent{Path: "gone.txt", Operation: OpDelete}, FileEvent{Path: events[0].Path, Operation: events[0].Operation})
	assert.Equal(t, "keep.txt", events[1].Path)
	assert.Equal(t, OpModify, events[1].Operation)
	assert.Equal(t, "sub/new.docx", events[2].Path)
	assert.Equal(t, OpCreate, events[2].Operation)

	// And: a second diff is quiet
	events, err = p.diff()
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestWatcher_PollingDetectsNewDocument(t *testing.T) {
	// Given: a polling watcher over an empty directory
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 10 * time.Millisecond, PollInterval: 20 * time.Millisecond, ForcePolling: true})
	require.NoError(t, err)
	assert.Equal(t, "polling", w.Mode())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	// When: a document appears
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0o644))

	// Then: a batch names it
	select {
	case batch := <-w.Events():
		require.Len(t, batch, 1)
		assert.Equal(t, "a.txt", batch[0].Path)
		assert.Equal(t, OpCreate, batch[0].Operation)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestWatcher_FsnotifyDetectsChange(t *testing.T) {
	root := t.TempDir()
	w, err := New(root, Options{Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	if w.Mode() != "fsnotify" {
		t.Skip("fsnotify unavailable")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.go"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("x"), 0o644))

	select {
	case batch := <-w.Events():
		require.NotEmpty(t, batch)
		for _, ev := range batch {
			assert.Equal(t, "b.txt", ev.Path)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for batch")
	}
	require.NoError(t, w.Stop())
}

type fakeIndexer struct {
	mu    sync.Mutex
	calls []index.RunnerConfig
	err   error
}

func (f *fakeIndexer) Run(_ context.Context, cfg index.RunnerConfig) (*index.RunnerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cfg)
	if f.err != nil {
		return nil, f.err
	}
	return &index.RunnerResult{Loaded: cfg.Selection, Chunks: len(cfg.Selection)}, nil
}

func TestReindexer_IndexesChangedDocuments(t *testing.T) {
	// Given: a batch with a change, a creation, and a removal
	idx := &fakeIndexer{}
	var results []BatchResult
	r := NewReindexer(idx, "/docs", func(br BatchResult) { results = append(results, br) })

	events := make(chan []FileEvent, 1)
	events <- []FileEvent{
		{Path: "a.txt", Operation: OpModify},
		{Path: "b.pdf", Operation: OpCreate},
		{Path: "c.txt", Operation: OpDelete},
	}
	close(events)

	// When: consuming
	require.NoError(t, r.Consume(context.Background(), events))

	// Then: one run covers the changed documents only
	require.Len(t, idx.calls, 1)
	assert.Equal(t, "/docs", idx.calls[0].DocsDir)
	assert.Equal(t, []string{"a.txt", "b.pdf"}, idx.calls[0].Selection)
	require.Len(t, results, 1)
	assert.Equal(t, []string{"c.txt"}, results[0].Removed)
	assert.Equal(t, 2, results[0].Result.Chunks)
}

func TestReindexer_FailureKeepsWatching(t *testing.T) {
	// Given: an indexer that always fails
	idx := &fakeIndexer{err: errors.New("embedder down")}
	var results []BatchResult
	r := NewReindexer(idx, "/docs", func(br BatchResult) { results = append(results, br) })

	events := make(chan []FileEvent, 2)
	events <- []FileEvent{{Path: "a.txt", Operation: OpModify}}
	events <- []FileEvent{{Path: "b.txt", Operation: OpModify}}
	close(events)

	// When: consuming
	require.NoError(t, r.Consume(context.Background(), events))

	// Then: both batches were attempted and both errors reported
	assert.Len(t, idx.calls, 2)
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.Error(t, results[1].Err)
}

func TestReindexer_DeletesOnlySkipIndexing(t *testing.T) {
	idx := &fakeIndexer{}
	r := NewReindexer(idx, "/docs", nil)

	events := make(chan []FileEvent, 1)
	events <- []FileEvent{{Path: "a.txt", Operation: OpDelete}}
	close(events)

	require.NoError(t, r.Consume(context.Background(), events))
	assert.Empty(t, idx.calls)
}
