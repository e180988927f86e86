package mcp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/storyrag/internal/loader"
)

// MaxResourceSize is the largest document served as a resource.
const MaxResourceSize = 10 * 1024 * 1024

// RegisterResources registers every supported document under the documents
// root as a resource. Returns the number registered.
func (s *Server) RegisterResources(_ context.Context) (int, error) {
	docs, err := loader.ListDocuments(s.docsDir)
	if err != nil {
		return 0, err
	}
	for _, rel := range docs {
		s.mcp.AddResource(&mcp.Resource{
			Name:     filepath.Base(rel),
			URI:      documentURI(rel),
			MIMEType: MimeTypeForPath(rel),
		}, s.documentHandler(rel))
	}
	s.logger.Info("mcp_resources_registered", "count", len(docs))
	return len(docs), nil
}

func documentURI(rel string) string {
	return "doc:///" + rel
}

func (s *Server) documentHandler(rel string) mcp.ResourceHandler {
	return func(ctx context.Context, _ *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		return s.readDocument(ctx, rel)
	}
}

// readDocument returns a document's bytes, as text for plain text files.
func (s *Server) readDocument(_ context.Context, rel string) (*mcp.ReadResourceResult, error) {
	if !validRelPath(rel) {
		return nil, NewInvalidParamsError(fmt.Sprintf("invalid path: %s", rel))
	}
	full := filepath.Join(s.docsDir, filepath.FromSlash(rel))

	info, err := os.Stat(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &MCPError{Code: ErrCodeNotFound, Message: fmt.Sprintf("document not found: %s", rel)}
		}
		return nil, MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return nil, NewInvalidParamsError(fmt.Sprintf("document too large: %d bytes (max %d)", info.Size(), MaxResourceSize))
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return nil, MapError(err)
	}

	contents := &mcp.ResourceContents{URI: documentURI(rel), MIMEType: MimeTypeForPath(rel)}
	if isText(rel) {
		contents.Text = string(data)
	} else {
		contents.Blob = data
	}
	return &mcp.ReadResourceResult{Contents: []*mcp.ResourceContents{contents}}, nil
}

// validRelPath rejects absolute paths and anything escaping the root.
func validRelPath(rel string) bool {
	if rel == "" || filepath.IsAbs(rel) || strings.HasPrefix(rel, "/") {
		return false
	}
	if len(rel) >= 2 && rel[1] == ':' {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(filepath.Clean(rel)), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
