package records

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// lastIDKey is the bleve internal key holding the highest synced story id.
var lastIDKey = []byte("last_story_id")

// Archive is a BM25 full-text index over recorded stories. It is derived
// data: SQLite is the source of truth and a damaged archive is rebuilt.
type Archive struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// archiveDoc is the document shape indexed for each story.
type archiveDoc struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Style    string `json:"style"`
}

// RankedStory is a story with its relevance score.
type RankedStory struct {
	Story *Story  `json:"story"`
	Score float64 `json:"score"`
}

// OpenArchive opens or creates the archive at path. An empty path gives an
// in-memory archive.
func OpenArchive(path string) (*Archive, error) {
	m := newArchiveMapping()

	if path == "" {
		idx, err := bleve.NewMemOnly(m)
		if err != nil {
			return nil, fmt.Errorf("failed to create archive: %w", err)
		}
		return &Archive{index: idx}, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	if err := validateArchive(path); err != nil {
		slog.Warn("story_archive_corrupted", slog.String("path", path), slog.String("error", err.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, fmt.Errorf("story archive corrupted at %s and cannot remove: %w", path, err)
		}
	}

	idx, err := bleve.Open(path)
	switch {
	case errors.Is(err, bleve.ErrorIndexPathDoesNotExist):
		idx, err = bleve.New(path, m)
	case err != nil:
		slog.Warn("story_archive_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, fmt.Errorf("story archive unreadable, cannot clear: %w (original: %v)", rmErr, err)
		}
		idx, err = bleve.New(path, m)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open story archive: %w", err)
	}
	return &Archive{index: idx, path: path}, nil
}

func newArchiveMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	m.DefaultAnalyzer = en.AnalyzerName
	return m
}

// validateArchive checks the index metadata before opening.
func validateArchive(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return fmt.Errorf("index_meta.json unreadable: %w", err)
	}
	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// Sync indexes stories recorded since the last sync.
func (a *Archive) Sync(ctx context.Context, s *Store) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return 0, fmt.Errorf("archive is closed")
	}

	var last int64
	if raw, err := a.index.GetInternal(lastIDKey); err == nil && len(raw) > 0 {
		last, _ = strconv.ParseInt(string(raw), 10, 64)
	}

	stories, err := s.StoriesAfter(ctx, last)
	if err != nil {
		return 0, err
	}
	if len(stories) == 0 {
		return 0, nil
	}

	batch := a.index.NewBatch()
	for _, st := range stories {
		doc := archiveDoc{Prompt: st.Prompt, Response: st.Response, Style: st.Style}
		if err := batch.Index(strconv.FormatInt(st.ID, 10), doc); err != nil {
			return 0, fmt.Errorf("failed to index story %d: %w", st.ID, err)
		}
		last = max(last, st.ID)
	}
	batch.SetInternal(lastIDKey, []byte(strconv.FormatInt(last, 10)))
	if err := a.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to write archive batch: %w", err)
	}
	return len(stories), nil
}

// Search syncs from s and returns up to limit stories ranked by relevance.
func (a *Archive) Search(ctx context.Context, s *Store, q string, limit int) ([]RankedStory, error) {
	if strings.TrimSpace(q) == "" {
		return []RankedStory{}, nil
	}
	if _, err := a.Sync(ctx, s); err != nil {
		return nil, err
	}

	a.mu.RLock()
	req := bleve.NewSearchRequest(bleve.NewMatchQuery(q))
	req.Size = page(limit)
	res, err := a.index.SearchInContext(ctx, req)
	a.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("archive search failed: %w", err)
	}

	out := make([]RankedStory, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		st, err := s.GetStory(ctx, id)
		if err != nil {
			// Deleted from the database after it was archived.
			continue
		}
		out = append(out, RankedStory{Story: st, Score: hit.Score})
	}
	return out, nil
}

// Count returns the number of archived stories.
func (a *Archive) Count() (uint64, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.index.DocCount()
}

// Close closes the archive.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	return a.index.Close()
}
