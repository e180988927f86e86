package preflight

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// MarkerFile lives in the state directory and records the last passing
// doctor run.
const MarkerFile = ".doctor-passed"

// Stamp is the content of MarkerFile.
type Stamp struct {
	PassedAt time.Time `json:"passed_at"`
	Version  string    `json:"version"`
	Checks   int       `json:"checks"`
}

// Age is the time since the run passed.
func (s Stamp) Age() time.Duration {
	return time.Since(s.PassedAt)
}

// MarkPassed writes a fresh stamp into stateDir, creating it if needed.
func MarkPassed(stateDir, version string, checks int) error {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	data, err := json.Marshal(Stamp{PassedAt: time.Now().UTC(), Version: version, Checks: checks})
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, MarkerFile), data, 0o644)
}

// LastPass reads the stamp. A missing or unreadable marker reports false.
func LastPass(stateDir string) (Stamp, bool) {
	data, err := os.ReadFile(filepath.Join(stateDir, MarkerFile))
	if err != nil {
		return Stamp{}, false
	}
	var s Stamp
	if err := json.Unmarshal(data, &s); err != nil || s.PassedAt.IsZero() {
		return Stamp{}, false
	}
	return s, true
}

// ClearMarker forgets the last pass. Clearing a missing marker is not an error.
func ClearMarker(stateDir string) error {
	err := os.Remove(filepath.Join(stateDir, MarkerFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove doctor marker: %w", err)
	}
	return nil
}
