package story

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/storyrag/internal/chunk"
	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/llm"
	"github.com/Aman-CERP/storyrag/internal/records"
)

type fakeModel struct {
	probeErr   error
	reply      string
	probes     int
	generates  int
	lastSystem string
	lastUser   string
}

func (m *fakeModel) Probe(context.Context) ([]string, error) {
	m.probes++
	if m.probeErr != nil {
		return nil, m.probeErr
	}
	return []string{"Qwen3-30B"}, nil
}

func (m *fakeModel) Generate(_ context.Context, system, user string) (string, error) {
	m.generates++
	m.lastSystem, m.lastUser = system, user
	return m.reply, nil
}

type fakeRecorder struct {
	stories []*records.Story
	docs    map[string]string
	links   [][2]int64
}

func (r *fakeRecorder) AddStory(_ context.Context, st *records.Story) (int64, error) {
	r.stories = append(r.stories, st)
	return int64(len(r.stories)), nil
}

func (r *fakeRecorder) AddDocument(_ context.Context, filename, hash string) (int64, error) {
	if r.docs == nil {
		r.docs = map[string]string{}
	}
	r.docs[filename] = hash
	return int64(len(r.docs)), nil
}

func (r *fakeRecorder) LinkStoryDocument(_ context.Context, storyID, docID int64) error {
	r.links = append(r.links, [2]int64{storyID, docID})
	return nil
}

type fixture struct {
	docs    string
	memory  string
	fps     *fingerprint.Store
	adapter *index.Adapter
	rec     *fakeRecorder
	gen     *Generator
}

func newFixture(t *testing.T, model Model) *fixture {
	t.Helper()
	root := t.TempDir()
	f := &fixture{
		docs: filepath.Join(root, "docs"),
		fps:  fingerprint.New(filepath.Join(root, "hash_index.json")),
		rec:  &fakeRecorder{},
	}
	f.memory = filepath.Join(f.docs, "memory_stories")
	require.NoError(t, os.MkdirAll(f.docs, 0o755))
	f.adapter = index.NewAdapter(filepath.Join(root, "vector_index"), embed.NewStaticEmbedder())

	chunker, err := chunk.New(chunk.DefaultOptions())
	require.NoError(t, err)
	runner, err := index.NewRunner(index.RunnerDependencies{Adapter: f.adapter, Fingerprints: f.fps, Chunker: chunker})
	require.NoError(t, err)

	f.gen, err = NewGenerator(Dependencies{
		Model:     model,
		Runner:    runner,
		Records:   f.rec,
		DocsDir:   f.docs,
		MemoryDir: f.memory,
		Now:       func() time.Time { return time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local) },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.docs, rel), []byte(content), 0o644))
}

func TestStoreToMemory(t *testing.T) {
	// Given: a story and a timestamp
	dir := filepath.Join(t.TempDir(), "memory_stories")

	// When: storing it
	path, err := StoreToMemory(dir, "A tale.", "2024-01-01T12:00:00")

	// Then: the file name is the sanitised timestamp and both appear in it
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "story_2024-01-01_12-00-00.txt"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[Time: 2024-01-01T12:00:00]\n\nA tale.\n", string(data))
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
		err  bool
	}{
		{"", ModeDirect, false},
		{"direct", ModeDirect, false},
		{"Direct Generation", ModeDirect, false},
		{"RAG", ModeRAG, false},
		{"rag with documents", ModeRAG, false},
		{"summarize", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if tt.err {
				assert.True(t, serrors.HasCode(err, serrors.ErrCodeInvalidMode))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSystemPrompt(t *testing.T) {
	assert.Equal(t, "be brief", SystemPrompt(StyleOnePiece, "be brief"))
	assert.Equal(t, Styles[StyleOnePiece], SystemPrompt(StyleOnePiece, ""))
	assert.Equal(t, Styles[DefaultStyle], SystemPrompt("Noir", ""))
	assert.Equal(t, []string{StyleCreative, StyleOnePiece}, StyleNames())
}

func TestGenerate_RAGEmptySelectionMakesNoNetworkCall(t *testing.T) {
	// Given: a model server that counts every request
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	client := llm.New(llm.Config{BaseURL: srv.URL + "/v1", Model: "Qwen3-30B", Timeout: time.Second, ProbeTimeout: time.Second})
	f := newFixture(t, client)

	// When: asking for RAG with nothing selected
	_, err := f.gen.Generate(context.Background(), Request{Prompt: "a duel at dawn", Mode: "RAG with Documents"})

	// Then: validation fails and the server never hears about it
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeNoDocumentsSelected))
	assert.Zero(t, hits.Load())
	assert.Empty(t, f.rec.stories)
}

func TestGenerate_EmptyPromptSkipsProbe(t *testing.T) {
	m := &fakeModel{reply: "x"}
	f := newFixture(t, m)

	_, err := f.gen.Generate(context.Background(), Request{Prompt: "   "})

	assert.True(t, serrors.HasCode(err, serrors.ErrCodePromptEmpty))
	assert.Zero(t, m.probes)
}

func TestGenerate_ProbeFailureStopsBeforeGeneration(t *testing.T) {
	// Given: a model server without the configured model
	m := &fakeModel{probeErr: serrors.New(serrors.ErrCodeModelNotFound, "model Qwen3-30B not found", nil)}
	f := newFixture(t, m)

	// When: generating
	_, err := f.gen.Generate(context.Background(), Request{Prompt: "a storm"})

	// Then: the connectivity error surfaces and nothing is generated or recorded
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeModelNotFound))
	assert.Zero(t, m.generates)
	assert.Empty(t, f.rec.stories)
}

func TestGenerate_Direct(t *testing.T) {
	// Given: a working model
	m := &fakeModel{reply: "Once upon a time."}
	f := newFixture(t, m)

	// When: generating directly with a preset style
	res, err := f.gen.Generate(context.Background(), Request{Prompt: "a lighthouse keeper", Style: StyleOnePiece})

	// Then: the prompt is sent as is and the story is recorded
	require.NoError(t, err)
	assert.Equal(t, "Once upon a time.", res.Story)
	assert.Equal(t, "a lighthouse keeper", m.lastUser)
	assert.Equal(t, Styles[StyleOnePiece], m.lastSystem)
	assert.Equal(t, "2024-01-01T12:00:00.000000", res.Timestamp)
	assert.Empty(t, res.Sources)
	assert.Empty(t, res.MemoryPath)

	require.Len(t, f.rec.stories, 1)
	st := f.rec.stories[0]
	assert.Equal(t, int64(1), res.ID)
	assert.Equal(t, "Direct Generation", st.Mode)
	assert.Equal(t, StyleOnePiece, st.Style)
	assert.False(t, st.MemoryAdded)
}

func TestGenerate_RAGUsesRetrievedExcerpts(t *testing.T) {
	// Given: one document on disk
	m := &fakeModel{reply: "The island remembered."}
	f := newFixture(t, m)
	f.write(t, "a.txt", "hello world")

	// When: generating with it selected
	res, err := f.gen.Generate(context.Background(), Request{Prompt: "hello", Mode: "rag", Documents: []string{"a.txt"}})

	// Then: the excerpt reaches the model and the document is linked
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, res.Sources)
	require.Len(t, res.Chunks, 1)
	assert.Contains(t, m.lastUser, "Source: a.txt")
	assert.Contains(t, m.lastUser, "hello world")
	assert.Contains(t, m.lastUser, "Request: hello")

	hash, err := fingerprint.HashFile(filepath.Join(f.docs, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": hash}, f.rec.docs)
	assert.Equal(t, [][2]int64{{1, 1}}, f.rec.links)
	assert.Equal(t, "RAG with Documents", f.rec.stories[0].Mode)
}

func TestGenerate_RAGUnknownDocuments(t *testing.T) {
	// Given: a selection that names nothing on disk
	m := &fakeModel{reply: "x"}
	f := newFixture(t, m)

	// When: generating
	_, err := f.gen.Generate(context.Background(), Request{Prompt: "p", Mode: "rag", Documents: []string{"missing.pdf"}})

	// Then: no documents are available and nothing is generated
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeNoDocumentsAvailable))
	assert.Equal(t, 1, m.probes)
	assert.Zero(t, m.generates)
}

func TestGenerate_RememberIndexesTheStory(t *testing.T) {
	// Given: a working model
	m := &fakeModel{reply: "A tale."}
	f := newFixture(t, m)

	// When: generating with remember set
	res, err := f.gen.Generate(context.Background(), Request{Prompt: "a tale", Remember: true})

	// Then: the memory file exists, is indexed, and is fingerprinted
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.memory, "story_2024-01-01_12-00-00.000000.txt"), res.MemoryPath)
	data, err := os.ReadFile(res.MemoryPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "A tale.")

	h, err := f.adapter.Load(context.Background())
	require.NoError(t, err)
	defer h.Close()
	assert.Equal(t, 1, h.Count())

	fps, err := f.fps.Load()
	require.NoError(t, err)
	onDisk, err := fingerprint.HashFile(res.MemoryPath)
	require.NoError(t, err)
	assert.Equal(t, onDisk, fps["memory_stories/story_2024-01-01_12-00-00.000000.txt"])
	assert.True(t, f.rec.stories[0].MemoryAdded)
}

func TestNewGenerator_RequiresDependencies(t *testing.T) {
	_, err := NewGenerator(Dependencies{})
	assert.Error(t, err)
	_, err = NewGenerator(Dependencies{Model: &fakeModel{}})
	assert.Error(t, err)
}

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name string
		req  Request
		code string
		mode Mode
	}{
		{name: "direct", req: Request{Prompt: "a harbor"}, mode: ModeDirect},
		{name: "rag with docs", req: Request{Prompt: "a harbor", Mode: "rag", Documents: []string{"a.txt"}}, mode: ModeRAG},
		{name: "blank prompt", req: Request{Prompt: "  \n"}, code: serrors.ErrCodePromptEmpty},
		{name: "bad mode", req: Request{Prompt: "a harbor", Mode: "poem"}, code: serrors.ErrCodeInvalidMode},
		{name: "rag without docs", req: Request{Prompt: "a harbor", Mode: "rag"}, code: serrors.ErrCodeNoDocumentsSelected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mode, err := tt.req.Validate()
			if tt.code != "" {
				assert.True(t, serrors.HasCode(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.mode, mode)
		})
	}
}

func TestGenerate_OpenRunnerOnlyForRAG(t *testing.T) {
	// Given: a generator whose runner is built on demand
	m := &fakeModel{reply: "A story."}
	f := newFixture(t, m)
	opened := 0
	chunker, err := chunk.New(chunk.DefaultOptions())
	require.NoError(t, err)
	gen, err := NewGenerator(Dependencies{
		Model: m,
		OpenRunner: func(context.Context) (*index.Runner, error) {
			opened++
			return index.NewRunner(index.RunnerDependencies{Adapter: f.adapter, Fingerprints: f.fps, Chunker: chunker})
		},
		DocsDir:   f.docs,
		MemoryDir: f.memory,
	})
	require.NoError(t, err)
	f.write(t, "a.txt", "hello world")
	ctx := context.Background()

	// When: generating directly
	_, err = gen.Generate(ctx, Request{Prompt: "hello"})
	require.NoError(t, err)

	// Then: no runner was built
	assert.Zero(t, opened)

	// When: generating twice with documents
	for i := 0; i < 2; i++ {
		_, err = gen.Generate(ctx, Request{Prompt: "hello", Mode: "rag", Documents: []string{"a.txt"}})
		require.NoError(t, err)
	}

	// Then: the runner was built once and reused
	assert.Equal(t, 1, opened)
}

func TestGenerate_RAGCitesEachDocumentOnce(t *testing.T) {
	// Given: one document that splits into several chunks
	m := &fakeModel{reply: "The reef."}
	f := newFixture(t, m)
	var b strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&b, "On night %d the tide carried the lantern past the northern reef. ", i)
	}
	f.write(t, "saga.txt", b.String())

	// When: retrieving three excerpts from it
	res, err := f.gen.Generate(context.Background(), Request{Prompt: "lantern", Mode: "rag", Documents: []string{"saga.txt"}, K: 3})

	// Then: every excerpt is passed on but the source is listed once
	require.NoError(t, err)
	assert.Len(t, res.Chunks, 3)
	assert.Equal(t, []string{"saga.txt"}, res.Sources)
}
