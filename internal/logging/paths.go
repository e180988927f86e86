package logging

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultLogDir returns ~/.storyrag/logs, or a temp-dir equivalent without a home.
func DefaultLogDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".storyrag", "logs")
	}
	return filepath.Join(home, ".storyrag", "logs")
}

// DefaultLogPath returns the shared log file for every storyrag command.
func DefaultLogPath() string {
	return filepath.Join(DefaultLogDir(), "storyrag.log")
}

// FindLogFile resolves the file the logs command should read.
// An explicit path wins; otherwise the default path must exist.
func FindLogFile(explicit string) (string, error) {
	path := explicit
	if path == "" {
		path = DefaultLogPath()
	}
	if _, err := os.Stat(path); err != nil {
		if explicit != "" {
			return "", fmt.Errorf("log file not found: %s", explicit)
		}
		return "", fmt.Errorf("no log file found at %s; run any storyrag command first", path)
	}
	return path, nil
}
