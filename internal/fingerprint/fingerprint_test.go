package fingerprint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	// Given: a store whose file does not exist
	s := New(filepath.Join(t.TempDir(), "hash_index.json"))

	// When: loading
	got, err := s.Load()

	// Then: an empty map, no error
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdate_MergesLastWriteWins(t *testing.T) {
	// Given: a store with two entries
	s := New(filepath.Join(t.TempDir(), "hash_index.json"))
	require.NoError(t, s.Update(map[string]string{"a.txt": "1", "b.txt": "2"}))

	// When: updating one existing and one new key
	require.NoError(t, s.Update(map[string]string{"b.txt": "3", "c/d.pdf": "4"}))

	// Then: the merged view is persisted
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.txt": "1", "b.txt": "3", "c/d.pdf": "4"}, got)
}

func TestUpdate_EmptyDoesNotCreateFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hash_index.json")
	require.NoError(t, New(path).Update(nil))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestLoad_CorruptFileIsIOError(t *testing.T) {
	// Given: a fingerprint file that is not JSON
	path := filepath.Join(t.TempDir(), "hash_index.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	// When: loading
	_, err := New(path).Load()

	// Then: a fingerprint-store error surfaces
	require.Error(t, err)
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeFingerprintStore))
	assert.Equal(t, serrors.CategoryIO, serrors.GetCategory(err))
}

func TestPrune_RemovesRejectedEntries(t *testing.T) {
	// Given: three fingerprints, one for a deleted file
	s := New(filepath.Join(t.TempDir(), "hash_index.json"))
	require.NoError(t, s.Update(map[string]string{"keep.txt": "1", "gone.txt": "2", "also/gone.pdf": "3"}))

	// When: pruning everything except keep.txt
	removed, err := s.Prune(func(rel string) bool { return rel == "keep.txt" })

	// Then: the removed paths come back sorted and the rest survives
	require.NoError(t, err)
	assert.Equal(t, []string{"also/gone.pdf", "gone.txt"}, removed)
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"keep.txt": "1"}, got)
}

func TestHashFile_MatchesHashBytes(t *testing.T) {
	// Given: a file with known content
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	// When: hashing it
	got, err := HashFile(path)

	// Then: it is the MD5 of the bytes
	require.NoError(t, err)
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", got)
	assert.Equal(t, got, HashBytes([]byte("hello world")))
}

func TestHashFile_MissingFile(t *testing.T) {
	_, err := HashFile(filepath.Join(t.TempDir(), "nope.txt"))
	assert.True(t, serrors.HasCode(err, serrors.ErrCodeFileUnreadable))
}
