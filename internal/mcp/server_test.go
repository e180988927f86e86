package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/storyrag/internal/chunk"
	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/records"
	"github.com/Aman-CERP/storyrag/internal/story"
)

type fakeGenerator struct {
	got story.Request
	err error
}

func (f *fakeGenerator) Generate(_ context.Context, req story.Request) (*story.Result, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &story.Result{ID: 7, Story: "The end.", Sources: req.Documents, Timestamp: "2024-01-01T12:00:00.000000"}, nil
}

type fakeStories struct {
	called string
	list   []*records.Story
}

func (f *fakeStories) ListStories(_ context.Context, limit, offset int) ([]*records.Story, error) {
	f.called = "list"
	return f.list, nil
}

func (f *fakeStories) StoriesByStyle(_ context.Context, style string, limit, offset int) ([]*records.Story, error) {
	f.called = "style:" + style
	return f.list, nil
}

func (f *fakeStories) SearchStories(_ context.Context, q string, limit, offset int) ([]*records.Story, error) {
	f.called = "search:" + q
	return f.list, nil
}

type fixture struct {
	docs    string
	adapter *index.Adapter
	runner  *index.Runner
	gen     *fakeGenerator
	stories *fakeStories
	srv     *Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		docs:    filepath.Join(root, "docs"),
		gen:     &fakeGenerator{},
		stories: &fakeStories{},
	}
	require.NoError(t, os.MkdirAll(f.docs, 0o755))
	f.adapter = index.NewAdapter(filepath.Join(root, "vector_index"), embed.NewStaticEmbedder())

	chunker, err := chunk.New(chunk.DefaultOptions())
	require.NoError(t, err)
	f.runner, err = index.NewRunner(index.RunnerDependencies{
		Adapter:      f.adapter,
		Fingerprints: fingerprint.New(filepath.Join(root, "hash_index.json")),
		Chunker:      chunker,
	})
	require.NoError(t, err)

	f.srv, err = NewServer(Dependencies{Adapter: f.adapter, Generator: f.gen, Stories: f.stories, DocsDir: f.docs, Version: "test"})
	require.NoError(t, err)
	return f
}

func (f *fixture) index(t *testing.T, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(f.docs, rel), []byte(content), 0o644))
	}
	res, err := f.runner.Run(context.Background(), index.RunnerConfig{DocsDir: f.docs})
	require.NoError(t, err)
	if res.Handle != nil {
		res.Handle.Close()
	}
}

func mcpCode(t *testing.T, err error) int {
	t.Helper()
	require.Error(t, err)
	me, ok := err.(*MCPError)
	require.True(t, ok, "expected *MCPError, got %T", err)
	return me.Code
}

func TestNewServer_RequiresAdapter(t *testing.T) {
	_, err := NewServer(Dependencies{})
	assert.Error(t, err)
}

func TestServer_ListTools(t *testing.T) {
	f := newFixture(t)

	var names []string
	for _, tool := range f.srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{"search_documents", "generate_story", "list_stories", "index_status"}, names)
}

func TestServer_CallTool_UnknownTool(t *testing.T) {
	f := newFixture(t)
	_, err := f.srv.CallTool(context.Background(), "search_code", nil)
	assert.Equal(t, ErrCodeMethodNotFound, mcpCode(t, err))
}

func TestServer_SearchDocuments_RequiresQuery(t *testing.T) {
	f := newFixture(t)
	_, err := f.srv.CallTool(context.Background(), "search_documents", map[string]any{"query": "  "})
	assert.Equal(t, ErrCodeInvalidParams, mcpCode(t, err))
}

func TestServer_SearchDocuments_WithoutIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.srv.CallTool(context.Background(), "search_documents", map[string]any{"query": "hello"})
	assert.Equal(t, ErrCodeIndexNotFound, mcpCode(t, err))
}

func TestServer_SearchDocuments_ReturnsExcerpts(t *testing.T) {
	// Given: an index over one document
	f := newFixture(t)
	f.index(t, map[string]string{"a.txt": "hello world"})

	// When: searching
	out, err := f.srv.CallTool(context.Background(), "search_documents", map[string]any{"query": "hello", "k": 2})

	// Then: the excerpt and its source come back
	require.NoError(t, err)
	res := out.(*SearchDocumentsOutput)
	require.Len(t, res.Excerpts, 1)
	assert.Equal(t, "a.txt", res.Excerpts[0].Source)
	assert.Equal(t, "hello world", res.Excerpts[0].Text)
	assert.Equal(t, []string{"a.txt"}, res.Sources)
}

func TestServer_GenerateStory_PassesRequest(t *testing.T) {
	f := newFixture(t)

	out, err := f.srv.CallTool(context.Background(), "generate_story", map[string]any{
		"prompt":    "a duel",
		"mode":      "rag",
		"documents": []any{"a.txt"},
		"style":     story.StyleOnePiece,
		"remember":  true,
	})

	require.NoError(t, err)
	res := out.(*GenerateStoryOutput)
	assert.Equal(t, int64(7), res.ID)
	assert.Equal(t, "The end.", res.Story)
	assert.Equal(t, story.Request{Prompt: "a duel", Mode: "rag", Documents: []string{"a.txt"}, Style: story.StyleOnePiece, Remember: true}, f.gen.got)
}

func TestServer_GenerateStory_ValidationIsInvalidParams(t *testing.T) {
	f := newFixture(t)
	f.gen.err = serrors.New(serrors.ErrCodeNoDocumentsSelected, "RAG mode needs at least one document", nil)

	_, err := f.srv.CallTool(context.Background(), "generate_story", map[string]any{"prompt": "x", "mode": "rag"})

	assert.Equal(t, ErrCodeInvalidParams, mcpCode(t, err))
}

func TestServer_GenerateStory_NotConfigured(t *testing.T) {
	f := newFixture(t)
	srv, err := NewServer(Dependencies{Adapter: f.adapter})
	require.NoError(t, err)

	_, err = srv.CallTool(context.Background(), "generate_story", map[string]any{"prompt": "x"})
	assert.Equal(t, ErrCodeUnavailable, mcpCode(t, err))
}

func TestServer_ListStories_Routing(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"recent", nil, "list"},
		{"by style", map[string]any{"style": "One Piece Writer"}, "style:One Piece Writer"},
		{"by text", map[string]any{"query": "dragon", "style": "ignored"}, "search:dragon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
			f.stories.list = []*records.Story{{ID: 1, Prompt: "p", Response: "r", Style: "s", Mode: "Direct Generation", CreatedAt: created}}

			out, err := f.srv.CallTool(context.Background(), "list_stories", tt.args)

			require.NoError(t, err)
			assert.Equal(t, tt.want, f.stories.called)
			res := out.(*ListStoriesOutput)
			require.Len(t, res.Stories, 1)
			assert.Equal(t, "r", res.Stories[0].Story)
			assert.Equal(t, "2024-01-01T12:00:00Z", res.Stories[0].CreatedAt)
		})
	}
}

func TestServer_IndexStatus(t *testing.T) {
	// Given: no index yet
	f := newFixture(t)

	out, err := f.srv.CallTool(context.Background(), "index_status", nil)
	require.NoError(t, err)
	res := out.(*IndexStatusOutput)
	assert.False(t, res.Index.Exists)
	assert.Equal(t, "static", res.Embedder.Model)
	assert.Equal(t, "ready", res.Embedder.Status)

	// When: two documents are indexed
	f.index(t, map[string]string{"a.txt": "hello world", "b.txt": "goodbye moon"})

	// Then: the status reflects them
	out, err = f.srv.CallTool(context.Background(), "index_status", nil)
	require.NoError(t, err)
	res = out.(*IndexStatusOutput)
	assert.True(t, res.Index.Exists)
	assert.Equal(t, 2, res.Index.Chunks)
	assert.Equal(t, 2, res.Index.Sources)
	assert.Equal(t, 2, res.Documents)
	assert.NotEmpty(t, res.Index.ModifiedAt)
}
