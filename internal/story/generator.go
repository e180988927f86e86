// Package story turns prompts into stories, either directly or grounded on
// excerpts retrieved from selected documents.
package story

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Aman-CERP/storyrag/internal/document"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/fingerprint"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/loader"
	"github.com/Aman-CERP/storyrag/internal/records"
	"github.com/Aman-CERP/storyrag/internal/retrieval"
)

// Mode selects how a story is generated.
type Mode string

const (
	ModeDirect Mode = "direct"
	ModeRAG    Mode = "rag"
)

// Label is the human-facing mode name stored with each record.
func (m Mode) Label() string {
	switch m {
	case ModeDirect:
		return "Direct Generation"
	case ModeRAG:
		return "RAG with Documents"
	default:
		return string(m)
	}
}

// ParseMode accepts "direct", "rag" or their labels, ignoring case.
// An empty string means direct generation.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "direct", "direct generation":
		return ModeDirect, nil
	case "rag", "rag with documents":
		return ModeRAG, nil
	}
	return "", serrors.New(serrors.ErrCodeInvalidMode, fmt.Sprintf("unknown generation mode %q", s), nil).
		WithSuggestion("Use 'direct' or 'rag'")
}

// Model is the language model the generator talks to.
type Model interface {
	// Probe checks that the server is up and serves the configured model.
	Probe(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, system, user string) (string, error)
}

// Recorder persists completed generations.
type Recorder interface {
	AddStory(ctx context.Context, st *records.Story) (int64, error)
	AddDocument(ctx context.Context, filename, fileHash string) (int64, error)
	LinkStoryDocument(ctx context.Context, storyID, documentID int64) error
}

// Request is one generation request.
type Request struct {
	Prompt string `json:"prompt"`
	// Style names a preset; SystemPrompt overrides it when set.
	Style        string   `json:"style,omitempty"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Mode         string   `json:"mode,omitempty"`
	Documents    []string `json:"documents,omitempty"`
	// Remember writes the story to the memory directory and indexes it.
	Remember bool `json:"remember,omitempty"`
	// K overrides the configured number of retrieved chunks.
	K int `json:"k,omitempty"`
}

// Validate checks the request without touching the network and returns
// the parsed mode.
func (r Request) Validate() (Mode, error) {
	if strings.TrimSpace(r.Prompt) == "" {
		return "", serrors.New(serrors.ErrCodePromptEmpty, "prompt is empty", nil).
			WithSuggestion("Describe the scene or story you want")
	}
	mode, err := ParseMode(r.Mode)
	if err != nil {
		return "", err
	}
	if mode == ModeRAG && len(r.Documents) == 0 {
		return "", serrors.New(serrors.ErrCodeNoDocumentsSelected, "RAG mode needs at least one document", nil).
			WithSuggestion("Select documents with --docs, or use direct mode")
	}
	return mode, nil
}

// Result is a generated story.
type Result struct {
	ID           int64            `json:"id"`
	RequestID    string           `json:"request_id"`
	Story        string           `json:"story"`
	Mode         Mode             `json:"mode"`
	Style        string           `json:"style"`
	Sources      []string         `json:"sources,omitempty"`
	Chunks       []document.Chunk `json:"chunks,omitempty"`
	Timestamp    string           `json:"timestamp"`
	SystemPrompt string           `json:"system_prompt"`
	MemoryPath   string           `json:"memory_path,omitempty"`
}

// Dependencies contains the injected dependencies for Generator.
type Dependencies struct {
	// Model is the chat model (required).
	Model Model

	// Runner indexes selected documents and memory stories. Either Runner
	// or OpenRunner is required.
	Runner *index.Runner

	// OpenRunner builds the runner on first use, so direct generation
	// never constructs an embedder.
	OpenRunner func(ctx context.Context) (*index.Runner, error)

	// Records stores completed stories. Nil disables recording.
	Records Recorder

	// DocsDir is the documents root RAG selections are relative to.
	DocsDir string

	// MemoryDir receives remembered stories.
	MemoryDir string

	// K is the default number of retrieved chunks.
	K int

	// Now defaults to time.Now.
	Now func() time.Time
}

// Generator produces stories.
type Generator struct {
	model      Model
	mu         sync.Mutex
	runner     *index.Runner
	openRunner func(ctx context.Context) (*index.Runner, error)
	records   Recorder
	docsDir   string
	memoryDir string
	k         int
	now       func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(deps Dependencies) (*Generator, error) {
	if deps.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if deps.Runner == nil && deps.OpenRunner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if deps.K <= 0 {
		deps.K = retrieval.DefaultK
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Generator{
		model:     deps.Model,
		runner:     deps.Runner,
		openRunner: deps.OpenRunner,
		records:    deps.Records,
		docsDir:    deps.DocsDir,
		memoryDir:  deps.MemoryDir,
		k:          deps.K,
		now:        deps.Now,
	}, nil
}

func (g *Generator) indexRunner(ctx context.Context) (*index.Runner, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.runner == nil {
		r, err := g.openRunner(ctx)
		if err != nil {
			return nil, err
		}
		g.runner = r
	}
	return g.runner, nil
}

// Generate validates req, checks the model server, and produces a story.
// Nothing touches the network until the request is valid.
func (g *Generator) Generate(ctx context.Context, req Request) (*Result, error) {
	mode, err := req.Validate()
	if err != nil {
		return nil, err
	}
	prompt := strings.TrimSpace(req.Prompt)

	requestID := uuid.NewString()
	logger := slog.With(slog.String("request_id", requestID))
	start := time.Now()
	style := req.Style
	if _, ok := Styles[style]; !ok {
		style = DefaultStyle
	}
	system := SystemPrompt(req.Style, req.SystemPrompt)

	logger.Info("generation_started",
		slog.String("mode", string(mode)),
		slog.String("style", style),
		slog.Int("documents", len(req.Documents)))

	if _, err := g.model.Probe(ctx); err != nil {
		logger.Error("model_unavailable", serrors.LogAttrs(err)...)
		return nil, err
	}

	res := &Result{
		RequestID:    requestID,
		Mode:         mode,
		Style:        style,
		SystemPrompt: system,
	}

	user := prompt
	var used []string
	if mode == ModeRAG {
		k := req.K
		if k <= 0 {
			k = g.k
		}
		used, err = g.retrieve(ctx, logger, prompt, req.Documents, k, res)
		if err != nil {
			return nil, err
		}
		user = composeUserMessage(prompt, res.Chunks)
	}

	text, err := g.model.Generate(ctx, system, user)
	if err != nil {
		logger.Error("generation_failed", serrors.LogAttrs(err)...)
		return nil, err
	}
	res.Story = text
	res.Timestamp = Timestamp(g.now())

	var memErr error
	if req.Remember {
		res.MemoryPath, memErr = g.remember(ctx, text, res.Timestamp)
		if memErr != nil {
			logger.Error("memory_store_failed", serrors.LogAttrs(memErr)...)
		}
	}

	if g.records != nil {
		res.ID, err = g.record(ctx, req, res, used, req.Remember && memErr == nil)
		if err != nil {
			logger.Error("record_failed", serrors.LogAttrs(err)...)
			return nil, err
		}
	}
	if memErr != nil {
		return nil, memErr
	}

	logger.Info("generation_completed",
		slog.Int64("story_id", res.ID),
		slog.Int("chunks", len(res.Chunks)),
		slog.Int("length", len(text)),
		slog.Duration("duration", time.Since(start)))
	return res, nil
}

// retrieve indexes the selected documents, queries the index, and fills
// res.Chunks and res.Sources. It returns the selection that resolved.
func (g *Generator) retrieve(ctx context.Context, logger *slog.Logger, prompt string, selection []string, k int, res *Result) ([]string, error) {
	found, missing, err := loader.ResolveSelection(g.docsDir, selection)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		logger.Warn("documents_not_found", slog.Any("missing", missing))
	}
	if len(found) == 0 {
		return nil, serrors.New(serrors.ErrCodeNoDocumentsAvailable, "none of the selected documents could be found", nil).
			WithDetail("docs_dir", g.docsDir).
			WithDetail("missing", strings.Join(missing, ", ")).
			WithSuggestion("Run 'storyrag docs' to list available documents")
	}

	runner, err := g.indexRunner(ctx)
	if err != nil {
		return nil, err
	}
	run, err := runner.Run(ctx, index.RunnerConfig{DocsDir: g.docsDir, Selection: found})
	if err != nil {
		return nil, err
	}
	if run.Handle == nil {
		return nil, serrors.New(serrors.ErrCodeNoDocumentsAvailable, "the selected documents contain no text", nil).
			WithDetail("documents", strings.Join(found, ", "))
	}
	defer run.Handle.Close()

	res.Chunks, _, err = retrieval.Query(ctx, run.Handle, prompt, k)
	if err != nil {
		return nil, err
	}
	res.Sources = document.UniqueSources(res.Chunks)
	logger.Info("context_retrieved",
		slog.Int("new_chunks", run.Chunks),
		slog.Int("retrieved", len(res.Chunks)),
		slog.Any("sources", res.Sources))
	return found, nil
}

// remember writes the story to the memory directory and appends it to the
// index. Its fingerprint is recorded when it lives under the documents root
// so a later full index skips it.
func (g *Generator) remember(ctx context.Context, text, ts string) (string, error) {
	path, err := StoreToMemory(g.memoryDir, text, ts)
	if err != nil {
		return "", err
	}

	source := filepath.Base(path)
	fps := map[string]string{}
	if rel, err := filepath.Rel(g.docsDir, path); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		source = filepath.ToSlash(rel)
		fps[source] = fingerprint.HashBytes([]byte(memoryContent(text, ts)))
	}

	runner, err := g.indexRunner(ctx)
	if err != nil {
		return path, err
	}
	h, err := runner.AppendUnits(ctx, []document.TextUnit{{Text: memoryContent(text, ts), Source: source}}, fps)
	if err != nil {
		return path, err
	}
	h.Close()
	return path, nil
}

func (g *Generator) record(ctx context.Context, req Request, res *Result, used []string, memory bool) (int64, error) {
	id, err := g.records.AddStory(ctx, &records.Story{
		Prompt:       req.Prompt,
		Response:     res.Story,
		SystemPrompt: res.SystemPrompt,
		Style:        res.Style,
		Mode:         res.Mode.Label(),
		MemoryAdded:  memory,
	})
	if err != nil {
		return 0, err
	}

	for _, rel := range used {
		hash, err := fingerprint.HashFile(filepath.Join(g.docsDir, filepath.FromSlash(rel)))
		if err != nil {
			return id, err
		}
		docID, err := g.records.AddDocument(ctx, rel, hash)
		if err != nil {
			return id, err
		}
		if err := g.records.LinkStoryDocument(ctx, id, docID); err != nil {
			return id, err
		}
	}
	return id, nil
}

func composeUserMessage(prompt string, chunks []document.Chunk) string {
	if len(chunks) == 0 {
		return prompt
	}
	var b strings.Builder
	b.WriteString("Use the following excerpts from the selected documents as context for the story.\n\n")
	for i, c := range chunks {
		fmt.Fprintf(&b, "[%d] Source: %s\n%s\n\n", i+1, c.Source, strings.TrimSpace(c.Text))
	}
	b.WriteString("Request: ")
	b.WriteString(prompt)
	return b.String()
}
