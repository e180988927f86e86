package records

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchive_RankedSearch(t *testing.T) {
	// Given: stories in the database and an empty archive
	s := setupTestStore(t)
	ctx := context.Background()
	pirate := addStory(t, s, "pirates", "The pirate captain sailed. Pirates everywhere, pirate flags.", "A", "rag", false)
	addStory(t, s, "knights", "A knight met one pirate.", "A", "rag", false)
	addStory(t, s, "gardens", "Roses bloomed.", "A", "rag", false)

	a, err := OpenArchive("")
	require.NoError(t, err)
	defer a.Close()

	// When: searching
	got, err := a.Search(ctx, s, "pirate", 10)

	// Then: the archive syncs and ranks the pirate-heavy story first
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, pirate, got[0].Story.ID)
	assert.Greater(t, got[0].Score, got[1].Score)

	n, err := a.Count()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestArchive_SyncIsIncremental(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	addStory(t, s, "one", "first", "A", "direct", false)

	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.bleve"))
	require.NoError(t, err)
	defer a.Close()

	n, err := a.Sync(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = a.Sync(ctx, s)
	require.NoError(t, err)
	assert.Zero(t, n)

	addStory(t, s, "two", "second", "A", "direct", false)
	n, err = a.Sync(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestArchive_EmptyQuery(t *testing.T) {
	s := setupTestStore(t)
	a, err := OpenArchive("")
	require.NoError(t, err)
	defer a.Close()

	got, err := a.Search(context.Background(), s, "  ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestOpenArchive_RebuildsCorruptIndex(t *testing.T) {
	// Given: an archive directory with unreadable metadata
	path := filepath.Join(t.TempDir(), "archive.bleve")
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "index_meta.json"), []byte("{broken"), 0o644))

	// When: opening it
	a, err := OpenArchive(path)

	// Then: a fresh archive is created
	require.NoError(t, err)
	defer a.Close()
	n, err := a.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}
