package story

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// TimestampLayout is the local timestamp written into memory stories and records.
const TimestampLayout = "2006-01-02T15:04:05.000000"

// MemoryFileName returns the file name for a story generated at ts.
func MemoryFileName(ts string) string {
	r := strings.NewReplacer(":", "-", "T", "_")
	return "story_" + r.Replace(ts) + ".txt"
}

// StoreToMemory writes text to dir as a memory story stamped with ts and
// returns the file path. The directory is created if needed.
func StoreToMemory(dir, text, ts string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", serrors.IOError("failed to create memory directory", err).
			WithDetail("path", dir)
	}

	path := filepath.Join(dir, MemoryFileName(ts))
	if err := os.WriteFile(path, []byte(memoryContent(text, ts)), 0o644); err != nil {
		return "", serrors.IOError("failed to write memory story", err).
			WithDetail("path", path)
	}

	slog.Info("memory_story_stored", slog.String("path", path))
	return path, nil
}

// Timestamp formats t the way memory stories are stamped.
func Timestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

func memoryContent(text, ts string) string {
	return fmt.Sprintf("[Time: %s]\n\n%s\n", ts, text)
}
