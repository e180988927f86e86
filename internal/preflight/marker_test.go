package preflight

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarker_Lifecycle(t *testing.T) {
	// Given: a state directory that does not exist yet
	stateDir := filepath.Join(t.TempDir(), ".storyrag")
	_, ok := LastPass(stateDir)
	assert.False(t, ok)

	// When: a doctor run passes
	require.NoError(t, MarkPassed(stateDir, "1.2.0", 7))

	// Then: the stamp is readable and fresh
	stamp, ok := LastPass(stateDir)
	require.True(t, ok)
	assert.Equal(t, "1.2.0", stamp.Version)
	assert.Equal(t, 7, stamp.Checks)
	assert.Less(t, stamp.Age(), time.Minute)

	// When: a later run fails
	require.NoError(t, ClearMarker(stateDir))

	// Then: there is no previous pass, and clearing twice is fine
	_, ok = LastPass(stateDir)
	assert.False(t, ok)
	assert.NoError(t, ClearMarker(stateDir))
}

func TestLastPass_GarbageIsIgnored(t *testing.T) {
	for name, content := range map[string]string{
		"not json":  "yesterday",
		"no time":   `{"version":"1.0.0"}`,
		"bad field": `{"passed_at":"soon"}`,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, MarkerFile), []byte(content), 0o644))
			_, ok := LastPass(dir)
			assert.False(t, ok)
		})
	}
}
