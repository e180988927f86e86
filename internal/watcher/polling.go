package watcher

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

type fileState struct {
	modTime time.Time
	size    int64
}

// poller detects document changes by comparing directory snapshots.
type poller struct {
	root  string
	state map[string]fileState
}

func newPoller(root string) *poller {
	return &poller{root: root, state: map[string]fileState{}}
}

func (p *poller) scan() (map[string]fileState, error) {
	files := map[string]fileState{}
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == p.root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if path != p.root && hiddenDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(p.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !relevant(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		files[rel] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if os.IsNotExist(err) {
		return files, nil
	}
	return files, err
}

func (p *poller) snapshot() error {
	files, err := p.scan()
	if err != nil {
		return err
	}
	p.state = files
	return nil
}

// diff rescans and returns the changes since the last snapshot, by path.
func (p *poller) diff() ([]FileEvent, error) {
	files, err := p.scan()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var events []FileEvent
	for rel, cur := range files {
		prev, ok := p.state[rel]
		switch {
		case !ok:
			events = append(events, FileEvent{Path: rel, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(cur.modTime) || prev.size != cur.size:
			events = append(events, FileEvent{Path: rel, Operation: OpModify, Timestamp: now})
		}
	}
	for rel := range p.state {
		if _, ok := files[rel]; !ok {
			events = append(events, FileEvent{Path: rel, Operation: OpDelete, Timestamp: now})
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })

	p.state = files
	return events, nil
}
