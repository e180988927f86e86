package records

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

var csvHeader = []string{"id", "prompt", "response", "system_prompt", "style", "created_at", "mode", "memory_added"}

// ExportAll writes every story, newest first, as "json" or "csv".
func (s *Store) ExportAll(ctx context.Context, w io.Writer, format string) error {
	format = strings.ToLower(format)
	if format != "json" && format != "csv" {
		return unsupportedFormat(format, "json, csv")
	}

	stories, err := s.queryStories(ctx, `SELECT `+storyColumns+` FROM stories ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return err
	}

	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stories)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, st := range stories {
		if err := cw.Write(csvRow(st)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ExportStory writes one story as "json", "txt" or "csv".
func ExportStory(w io.Writer, st *Story, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "txt":
		_, err := fmt.Fprintf(w, "Story #%d\nCreated: %s\nStyle: %s\nMode: %s\nMemory Added: %t\n\nPROMPT:\n%s\n\nRESPONSE:\n%s\n",
			st.ID, st.CreatedAt.Format(time.DateTime), st.Style, st.Mode, st.MemoryAdded, st.Prompt, st.Response)
		return err
	case "csv":
		cw := csv.NewWriter(w)
		_ = cw.Write(csvHeader)
		_ = cw.Write(csvRow(st))
		cw.Flush()
		return cw.Error()
	default:
		return unsupportedFormat(format, "json, txt, csv")
	}
}

// ExportFileName is the default file name for a single-story export.
func ExportFileName(id int64, format string) string {
	return fmt.Sprintf("story_%d.%s", id, strings.ToLower(format))
}

func csvRow(st *Story) []string {
	return []string{
		strconv.FormatInt(st.ID, 10),
		st.Prompt,
		st.Response,
		st.SystemPrompt,
		st.Style,
		st.CreatedAt.Format(time.RFC3339),
		st.Mode,
		strconv.FormatBool(st.MemoryAdded),
	}
}

func unsupportedFormat(format, supported string) error {
	return serrors.FormatError(format).
		WithDetail("supported", supported).
		WithSuggestion("Use one of: " + supported)
}
