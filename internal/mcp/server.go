package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/storyrag/internal/document"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/loader"
	"github.com/Aman-CERP/storyrag/internal/records"
	"github.com/Aman-CERP/storyrag/internal/retrieval"
	"github.com/Aman-CERP/storyrag/internal/story"
)

// Generator writes stories.
type Generator interface {
	Generate(ctx context.Context, req story.Request) (*story.Result, error)
}

// StoryLister reads story history.
type StoryLister interface {
	ListStories(ctx context.Context, limit, offset int) ([]*records.Story, error)
	StoriesByStyle(ctx context.Context, style string, limit, offset int) ([]*records.Story, error)
	SearchStories(ctx context.Context, q string, limit, offset int) ([]*records.Story, error)
}

// Dependencies contains the injected dependencies for Server.
type Dependencies struct {
	// Adapter owns the document index (required).
	Adapter *index.Adapter

	// Generator backs generate_story. Nil makes the tool report unavailable.
	Generator Generator

	// Stories backs list_stories. Nil makes the tool report unavailable.
	Stories StoryLister

	DocsDir string
	K       int
	Version string
}

// Server is the storyrag MCP server.
type Server struct {
	mcp       *mcp.Server
	adapter   *index.Adapter
	generator Generator
	stories   StoryLister
	docsDir   string
	k         int
	logger    *slog.Logger
}

// ToolInfo names a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name:        "search_documents",
		Description: "Find the passages of the indexed documents closest in meaning to a query. Returns excerpts with the document they came from.",
	},
	{
		Name:        "generate_story",
		Description: "Write a story from a prompt, either directly or grounded on excerpts from selected documents (mode rag). The story is saved to the history.",
	},
	{
		Name:        "list_stories",
		Description: "List previously generated stories, newest first, optionally filtered by style or by text in the prompt or story.",
	},
	{
		Name:        "index_status",
		Description: "Report whether the document index exists, how many chunks and documents it holds, and which embedder is active.",
	},
}

// NewServer creates a server and registers its tools.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Adapter == nil {
		return nil, errors.New("index adapter is required")
	}
	if deps.K <= 0 {
		deps.K = retrieval.DefaultK
	}
	if deps.Version == "" {
		deps.Version = "dev"
	}

	s := &Server{
		adapter:   deps.Adapter,
		generator: deps.Generator,
		stories:   deps.Stories,
		docsDir:   deps.DocsDir,
		k:         deps.K,
		logger:    slog.Default(),
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "storyrag", Version: deps.Version}, nil)

	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchDocuments)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpGenerateStory)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpListStories)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[3].Name, Description: tools[3].Description}, s.mcpIndexStatus)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with JSON-shaped arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search_documents":
		var in SearchDocumentsInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.searchDocuments(ctx, in)
	case "generate_story":
		var in GenerateStoryInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.generateStory(ctx, in)
	case "list_stories":
		var in ListStoriesInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.listStories(ctx, in)
	case "index_status":
		return s.indexStatus(ctx)
	}
	return nil, NewMethodNotFoundError(name)
}

func decodeArgs(args map[string]any, v any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewInvalidParamsError(err.Error())
	}
	return nil
}

func (s *Server) searchDocuments(ctx context.Context, in SearchDocumentsInput) (*SearchDocumentsOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, NewInvalidParamsError("query parameter is required")
	}
	k := in.K
	if k <= 0 {
		k = s.k
	}

	log := s.requestLogger("search_documents")
	start := time.Now()

	h, err := s.adapter.Load(ctx)
	if err != nil {
		log.Error("tool_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}
	defer h.Close()

	hits, err := retrieval.Search(ctx, h, in.Query, k)
	if err != nil {
		log.Error("tool_failed", slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	out := &SearchDocumentsOutput{
		Excerpts: make([]Excerpt, len(hits)),
		Sources:  document.UniqueSources(retrieval.Chunks(hits)),
	}
	for i, hit := range hits {
		out.Excerpts[i] = Excerpt{
			Source: hit.Chunk.Source,
			Page:   hit.Chunk.Page,
			Text:   hit.Chunk.Text,
			Score:  float64(hit.Score),
		}
	}
	log.Info("tool_completed", slog.Int("hits", len(hits)), slog.Duration("duration", time.Since(start)))
	return out, nil
}

func (s *Server) generateStory(ctx context.Context, in GenerateStoryInput) (*GenerateStoryOutput, error) {
	if s.generator == nil {
		return nil, &MCPError{Code: ErrCodeUnavailable, Message: "story generation is not configured"}
	}
	res, err := s.generator.Generate(ctx, story.Request{
		Prompt:       in.Prompt,
		Mode:         in.Mode,
		Documents:    in.Documents,
		Style:        in.Style,
		SystemPrompt: in.SystemPrompt,
		Remember:     in.Remember,
	})
	if err != nil {
		return nil, MapError(err)
	}
	return &GenerateStoryOutput{
		ID:         res.ID,
		Story:      res.Story,
		Sources:    res.Sources,
		Timestamp:  res.Timestamp,
		MemoryPath: res.MemoryPath,
	}, nil
}

func (s *Server) listStories(ctx context.Context, in ListStoriesInput) (*ListStoriesOutput, error) {
	if s.stories == nil {
		return nil, &MCPError{Code: ErrCodeUnavailable, Message: "story history is not configured"}
	}
	limit := clampLimit(in.Limit, 20, 1, 100)
	offset := max(in.Offset, 0)

	var (
		list []*records.Story
		err  error
	)
	switch {
	case in.Query != "":
		list, err = s.stories.SearchStories(ctx, in.Query, limit, offset)
	case in.Style != "":
		list, err = s.stories.StoriesByStyle(ctx, in.Style, limit, offset)
	default:
		list, err = s.stories.ListStories(ctx, limit, offset)
	}
	if err != nil {
		return nil, MapError(err)
	}

	out := &ListStoriesOutput{Stories: make([]StorySummary, len(list))}
	for i, st := range list {
		out.Stories[i] = StorySummary{
			ID:          st.ID,
			Prompt:      st.Prompt,
			Story:       st.Response,
			Style:       st.Style,
			Mode:        st.Mode,
			MemoryAdded: st.MemoryAdded,
			CreatedAt:   st.CreatedAt.Format(time.RFC3339),
		}
	}
	return out, nil
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	st, err := s.adapter.Status(ctx)
	if err != nil {
		return nil, MapError(err)
	}
	out := &IndexStatusOutput{
		Index: IndexInfo{
			Exists:     st.Exists,
			Chunks:     st.Chunks,
			Sources:    st.Sources,
			Dimensions: st.Dimensions,
			Model:      st.Model,
			SizeBytes:  st.SizeBytes,
		},
	}
	if !st.ModifiedAt.IsZero() {
		out.Index.ModifiedAt = st.ModifiedAt.Format(time.RFC3339)
	}
	if docs, err := loader.ListDocuments(s.docsDir); err == nil {
		out.Documents = len(docs)
	}

	e := s.adapter.Embedder()
	out.Embedder = EmbedderInfo{Model: e.ModelName(), Dimensions: e.Dimensions(), Status: "unavailable"}
	if e.Available(ctx) {
		out.Embedder.Status = "ready"
	}
	return out, nil
}

func (s *Server) mcpSearchDocuments(ctx context.Context, _ *mcp.CallToolRequest, in SearchDocumentsInput) (*mcp.CallToolResult, *SearchDocumentsOutput, error) {
	out, err := s.searchDocuments(ctx, in)
	return nil, out, err
}

func (s *Server) mcpGenerateStory(ctx context.Context, _ *mcp.CallToolRequest, in GenerateStoryInput) (*mcp.CallToolResult, *GenerateStoryOutput, error) {
	out, err := s.generateStory(ctx, in)
	return nil, out, err
}

func (s *Server) mcpListStories(ctx context.Context, _ *mcp.CallToolRequest, in ListStoriesInput) (*mcp.CallToolResult, *ListStoriesOutput, error) {
	out, err := s.listStories(ctx, in)
	return nil, out, err
}

func (s *Server) mcpIndexStatus(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, *IndexStatusOutput, error) {
	out, err := s.indexStatus(ctx)
	return nil, out, err
}

// Serve runs the server over stdio until ctx is done or the client hangs up.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("mcp_server_started", slog.String("transport", "stdio"))
	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("mcp_server_stopped")
	return nil
}

func (s *Server) requestLogger(tool string) *slog.Logger {
	return s.logger.With(slog.String("tool", tool), slog.String("request_id", uuid.NewString()))
}

func clampLimit(v, def, lo, hi int) int {
	if v <= 0 {
		return def
	}
	return min(max(v, lo), hi)
}
