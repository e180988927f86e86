package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	serrors "github.com/Aman-CERP/storyrag/internal/errors"
)

// lockRetryDelay is how often a blocked writer retries the file lock.
const lockRetryDelay = 100 * time.Millisecond

// FileLock is the cross-process half of the single-writer discipline. The
// lock file sits next to the index directory (<index_dir>.lock) so that
// replacing the directory never drops the lock.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewFileLock creates a lock guarding indexDir.
func NewFileLock(indexDir string) *FileLock {
	path := filepath.Clean(indexDir) + ".lock"
	return &FileLock{
		path:  path,
		flock: flock.New(path),
	}
}

// Lock blocks until the lock is held or ctx is done. A cancelled or expired
// context yields ERR_210_INDEX_LOCKED, which is retryable.
func (l *FileLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return serrors.New(serrors.ErrCodeFilePermission, "failed to create lock directory", err)
	}

	ok, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil && ctx.Err() == nil {
		return serrors.New(serrors.ErrCodeFilePermission, fmt.Sprintf("failed to acquire %s", l.path), err)
	}
	if !ok {
		return serrors.New(serrors.ErrCodeIndexLocked, "index is being written by another process", ctx.Err()).
			WithDetail("lock", l.path).
			WithSuggestion("Wait for the other storyrag process to finish, then retry")
	}

	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, serrors.New(serrors.ErrCodeFilePermission, "failed to create lock directory", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *FileLock) Path() string {
	return l.path
}
