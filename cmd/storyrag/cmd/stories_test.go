package cmd

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/storyrag/internal/records"
)

// seedStories generates n direct stories through the CLI.
func seedStories(t *testing.T, dir string, prompts ...string) {
	t.Helper()
	fakeModelServer(t, "A tale about the harbor and its keeper.")
	for _, p := range prompts {
		_, err := runCmd(t, dir, "generate", p)
		require.NoError(t, err)
	}
}

func TestStoriesCmd_SearchShowAndStats(t *testing.T) {
	dir := newTestProject(t)
	seedStories(t, dir, "lighthouse at dusk", "a fox in winter")

	// Substring search
	out, err := runCmd(t, dir, "stories", "search", "--json", "fox")
	require.NoError(t, err)
	var found []*records.Story
	decodeJSON(t, out, &found)
	require.Len(t, found, 1)
	assert.Equal(t, "a fox in winter", found[0].Prompt)

	// Ranked search goes through the archive
	out, err = runCmd(t, dir, "stories", "search", "--ranked", "--json", "lighthouse")
	require.NoError(t, err)
	var ranked []records.RankedStory
	decodeJSON(t, out, &ranked)
	require.NotEmpty(t, ranked)
	assert.Equal(t, "lighthouse at dusk", ranked[0].Story.Prompt)

	// Show with analytics
	out, err = runCmd(t, dir, "stories", "show", "--analytics", "--json", "1")
	require.NoError(t, err)
	var an records.Analytics
	decodeJSON(t, out, &an)
	assert.EqualValues(t, 1, an.Story.ID)
	assert.Positive(t, an.WordCount)

	// Stats
	out, err = runCmd(t, dir, "stories", "stats", "--enhanced", "--json")
	require.NoError(t, err)
	var stats records.EnhancedStatistics
	decodeJSON(t, out, &stats)
	assert.Equal(t, 2, stats.TotalStories)
	assert.Equal(t, 2, stats.StoriesByMode["Direct Generation"])
}

func TestStoriesCmd_ShowUnknownIsNotFound(t *testing.T) {
	dir := newTestProject(t)
	_, err := runCmd(t, dir, "stories", "show", "42")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_410")
}

func TestStoriesCmd_ShowRejectsBadID(t *testing.T) {
	dir := newTestProject(t)
	_, err := runCmd(t, dir, "stories", "show", "abc")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_401")
}

func TestStoriesExportCmd_WritesDefaultFile(t *testing.T) {
	dir := newTestProject(t)
	seedStories(t, dir, "one")

	// When: exporting with defaults
	_, err := runCmd(t, dir, "stories", "export")
	require.NoError(t, err)

	// Then: exported_qa.json holds the history
	data, err := os.ReadFile(filepath.Join(dir, "exported_qa.json"))
	require.NoError(t, err)
	var exported []map[string]any
	require.NoError(t, json.Unmarshal(data, &exported))
	assert.Len(t, exported, 1)
}

func TestStoriesExportCmd_UnsupportedFormatLeavesNoFile(t *testing.T) {
	dir := newTestProject(t)
	seedStories(t, dir, "one")
	dest := filepath.Join(dir, "out.xml")

	_, err := runCmd(t, dir, "stories", "export", "--format", "xml", "--out", dest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERR_601")
	assert.NoFileExists(t, dest)
}

func TestStoriesExportOneCmd_TextToStdout(t *testing.T) {
	dir := newTestProject(t)
	seedStories(t, dir, "one")

	out, err := runCmd(t, dir, "stories", "export-one", "--format", "txt", "--out", "-", "1")

	require.NoError(t, err)
	assert.Contains(t, out, "A tale about the harbor and its keeper.")
}
