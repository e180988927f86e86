package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports debounced changes to supported documents under a root.
type Watcher struct {
	root      string
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	errs      chan error

	mu      sync.Mutex
	stopped bool
	stopCh  chan struct{}
}

// New creates a watcher for root. It falls back to polling when fsnotify
// cannot be initialised or opts.ForcePolling is set.
func New(root string, opts Options) (*Watcher, error) {
	opts = opts.withDefaults()
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}

	w := &Watcher{
		root:      abs,
		opts:      opts,
		debouncer: NewDebouncer(opts.Debounce, opts.BufferSize),
		errs:      make(chan error, 8),
		stopCh:    make(chan struct{}),
	}
	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify_unavailable", slog.String("error", err.Error()))
		} else {
			w.fsw = fsw
		}
	}
	return w, nil
}

// Mode returns "fsnotify" or "polling".
func (w *Watcher) Mode() string {
	if w.fsw != nil {
		return "fsnotify"
	}
	return "polling"
}

// Root returns the absolute watched directory.
func (w *Watcher) Root() string {
	return w.root
}

// Events delivers batches of changes. Closed by Stop.
func (w *Watcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors delivers non-fatal watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Run watches until ctx is cancelled or Stop is called.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Stop()

	slog.Info("watch_started", slog.String("root", w.root), slog.String("mode", w.Mode()))
	if w.fsw != nil {
		return w.runFsnotify(ctx)
	}
	return w.runPolling(ctx)
}

func (w *Watcher) runFsnotify(ctx context.Context) error {
	if err := w.watchTree(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.report(err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !hiddenDir(info.Name()) {
				if err := w.watchTree(ev.Name); err != nil {
					w.report(err)
				}
			}
			return
		}
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if !relevant(rel) {
		return
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: rel, Operation: op, Timestamp: time.Now()})
}

// watchTree adds dir and every non-hidden directory below it.
func (w *Watcher) watchTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hiddenDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) runPolling(ctx context.Context) error {
	p := newPoller(w.root)
	if err := p.snapshot(); err != nil {
		return fmt.Errorf("initial scan of %s: %w", w.root, err)
	}

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.stopCh:
			return nil
		case <-ticker.C:
			events, err := p.diff()
			if err != nil {
				w.report(err)
				continue
			}
			for _, ev := range events {
				w.debouncer.Add(ev)
			}
		}
	}
}

func (w *Watcher) report(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	select {
	case w.errs <- err:
	default:
		slog.Warn("watch_error_dropped", slog.String("error", err.Error()))
	}
}

// Stop releases the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()
	close(w.errs)

	var err error
	if w.fsw != nil {
		err = w.fsw.Close()
	}
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	return err
}
