package watcher

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Aman-CERP/storyrag/internal/loader"
)

// Operation is the kind of change seen for a path.
type Operation int

const (
	OpCreate Operation = iota
	OpModify
	OpDelete
	OpRename
)

func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a document, relative to the watched root and
// slash separated.
type FileEvent struct {
	Path      string
	Operation Operation
	Timestamp time.Time
}

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before a batch is emitted. Default 500ms.
	Debounce time.Duration

	// PollInterval is used when fsnotify is unavailable. Default 5s.
	PollInterval time.Duration

	// ForcePolling skips fsnotify.
	ForcePolling bool

	// BufferSize bounds queued batches. Default 16.
	BufferSize int
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Debounce:     500 * time.Millisecond,
		PollInterval: 5 * time.Second,
		BufferSize:   16,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Debounce <= 0 {
		o.Debounce = d.Debounce
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.BufferSize <= 0 {
		o.BufferSize = d.BufferSize
	}
	return o
}

// relevant reports whether rel names a document the loader would read.
// Hidden files and anything under a hidden directory are ignored.
func relevant(rel string) bool {
	if rel == "" || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, "/") {
		if strings.HasPrefix(part, ".") {
			return false
		}
	}
	return loader.IsSupported(filepath.Base(rel))
}

// hiddenDir reports whether a directory below the root should not be watched.
func hiddenDir(name string) bool {
	return strings.HasPrefix(name, ".") && name != "."
}
