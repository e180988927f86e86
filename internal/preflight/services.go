package preflight

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Aman-CERP/storyrag/internal/embed"
	serrors "github.com/Aman-CERP/storyrag/internal/errors"
	"github.com/Aman-CERP/storyrag/internal/index"
	"github.com/Aman-CERP/storyrag/internal/records"
)

// IndexInspector reports on the persisted index.
type IndexInspector interface {
	Status(ctx context.Context) (*index.Status, error)
}

// CheckModelServer probes the chat model server.
func (c *Checker) CheckModelServer(ctx context.Context, m ModelProber) CheckResult {
	result := CheckResult{Name: "model_server", Required: true}
	if m == nil {
		return skipped(result)
	}

	if _, err := m.Probe(ctx); err != nil {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s unavailable at %s", m.Model(), m.BaseURL())
		result.Details = failureDetail(err)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s at %s", m.Model(), m.BaseURL())
	return result
}

// CheckEmbedder verifies the embedder was created and answers.
func (c *Checker) CheckEmbedder(ctx context.Context, e embed.Embedder, initErr error) CheckResult {
	result := CheckResult{Name: "embedder", Required: true}
	if initErr != nil {
		result.Status = StatusFail
		result.Message = "not available"
		result.Details = failureDetail(initErr)
		return result
	}
	if e == nil {
		return skipped(result)
	}

	info := embed.GetInfo(ctx, e)
	if !info.Available {
		result.Status = StatusFail
		result.Message = fmt.Sprintf("%s not responding", info.Model)
		result.Details = "Start the embedding server, or set embeddings.provider"
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%s (%s, %d dims)", info.Model, info.Provider, info.Dimensions)
	return result
}

// CheckIndex reports whether the index exists and can be read.
// A missing index is only a warning: the first 'index' run creates it.
func (c *Checker) CheckIndex(ctx context.Context, idx IndexInspector) CheckResult {
	result := CheckResult{Name: "index"}
	if idx == nil {
		return skipped(result)
	}

	st, err := idx.Status(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Required = true
		result.Message = "unreadable"
		result.Details = failureDetail(err)
		return result
	}
	if !st.Exists {
		result.Status = StatusWarn
		result.Message = "not built yet"
		result.Details = "Run 'storyrag index'"
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d chunks from %d documents (%s)", st.Chunks, st.Sources, st.Model)
	return result
}

// CheckRecords opens the story database if it exists.
func (c *Checker) CheckRecords(ctx context.Context, path string) CheckResult {
	result := CheckResult{Name: "story_database", Required: true}
	if path == "" {
		return skipped(result)
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		result.Status = StatusPass
		result.Message = "not created yet (created with the first story)"
		return result
	}

	st, err := records.Open(path)
	if err != nil {
		result.Status = StatusFail
		result.Message = "cannot open"
		result.Details = failureDetail(err)
		return result
	}
	defer func() { _ = st.Close() }()

	stats, err := st.Statistics(ctx)
	if err != nil {
		result.Status = StatusFail
		result.Message = "cannot read"
		result.Details = failureDetail(err)
		return result
	}
	result.Status = StatusPass
	result.Message = fmt.Sprintf("%d stories", stats.TotalStories)
	return result
}

func skipped(r CheckResult) CheckResult {
	r.Status = StatusWarn
	r.Required = false
	r.Message = "skipped"
	return r
}

// failureDetail prefers the structured suggestion over the raw error.
func failureDetail(err error) string {
	if e, ok := serrors.As(err); ok && e.Suggestion != "" {
		return e.Message + ". " + e.Suggestion
	}
	return err.Error()
}
