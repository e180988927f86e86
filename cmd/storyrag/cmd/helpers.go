package cmd

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

func formatBytes(b int64) string {
	if b < 0 {
		b = 0
	}
	return humanize.IBytes(uint64(b))
}

// oneLine collapses whitespace so a story fits a table row.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if max > 3 && len([]rune(s)) > max {
		return string([]rune(s)[:max-3]) + "..."
	}
	return s
}
