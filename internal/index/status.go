package index

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/Aman-CERP/storyrag/internal/store"
)

// Status describes the persisted index without keeping it open.
type Status struct {
	Dir        string    `json:"dir"`
	Exists     bool      `json:"exists"`
	Chunks     int       `json:"chunks"`
	Sources    int       `json:"sources"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at,omitzero"`
	ModifiedAt time.Time `json:"modified_at,omitzero"`
}

// Status reports on the index on disk. A missing index is not an error.
func (a *Adapter) Status(ctx context.Context) (*Status, error) {
	st := &Status{Dir: a.dir}
	if !store.Exists(a.dir) {
		return st, nil
	}

	s, err := store.LoadHNSWStore(a.dir)
	if err != nil {
		return nil, err
	}
	defer func() { _ = s.Close() }()

	info := s.Info()
	st.Exists = true
	st.Chunks = info.Chunks
	st.Sources = info.Sources
	st.Dimensions = info.Dimensions
	st.Model = info.Model
	st.CreatedAt = info.CreatedAt

	err = filepath.WalkDir(a.dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		st.SizeBytes += fi.Size()
		if fi.ModTime().After(st.ModifiedAt) {
			st.ModifiedAt = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, ctx.Err()
}
