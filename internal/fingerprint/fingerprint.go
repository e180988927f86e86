// Package fingerprint persists content hashes of indexed documents so that
// unchanged files are skipped on the next indexing run.
//
// The store is a single JSON object mapping slash-separated paths relative to
// the documents root to the MD5 hex digest of the file's raw bytes. Entries
// are never removed implicitly; Prune is the only way to drop them.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// Store reads and writes the fingerprint file.
// It is safe for concurrent use within a process; cross-process exclusion is
// the caller's job (see index.Writer).
type Store struct {
	path string
	mu   sync.Mutex
}

// New returns a store backed by path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load returns the persisted mapping. A missing file yields an empty map.
func (s *Store) Load() (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Update merges entries into the persisted mapping; later values win.
func (s *Store) Update(entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return err
	}
	for rel, hash := range entries {
		current[filepath.ToSlash(rel)] = hash
	}
	return s.save(current)
}

// Prune removes entries for which keep returns false and returns the removed
// paths in sorted order. The file is rewritten only when something changed.
func (s *Store) Prune(keep func(rel string) bool) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load()
	if err != nil {
		return nil, err
	}

	var removed []string
	for rel := range current {
		if !keep(rel) {
			removed = append(removed, rel)
			delete(current, rel)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)
	return removed, s.save(current)
}

func (s *Store) load() (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeFingerprintStore,
			fmt.Sprintf("cannot read fingerprint store %s", s.path), err)
	}

	entries := map[string]string{}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, serrors.New(serrors.ErrCodeFingerprintStore,
			fmt.Sprintf("fingerprint store %s is not valid JSON", s.path), err).
			WithSuggestion("Delete the file to force a full re-index.")
	}
	return entries, nil
}

// save writes through a temp file and rename so readers never see a partial map.
func (s *Store) save(entries map[string]string) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return serrors.New(serrors.ErrCodeFingerprintStore, "cannot encode fingerprints", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return serrors.New(serrors.ErrCodeFingerprintStore, "cannot create fingerprint directory", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return serrors.New(serrors.ErrCodeFingerprintStore, "cannot write fingerprint store", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return serrors.New(serrors.ErrCodeFingerprintStore, "cannot replace fingerprint store", err)
	}
	return nil
}

// HashFile returns the MD5 hex digest of the file's raw bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", serrors.New(serrors.ErrCodeFileUnreadable, fmt.Sprintf("cannot open %s", path), err)
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", serrors.New(serrors.ErrCodeFileUnreadable, fmt.Sprintf("cannot read %s", path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes returns the MD5 hex digest of data.
func HashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
