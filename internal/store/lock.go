package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	docerrors "github.com/mythorath/DocAnalysisTool/internal/errors"
)

// WorkspaceLock is a cross-process lock on a workspace directory so two
// pipeline runs never write the same store at once.
type WorkspaceLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewWorkspaceLock creates a lock at <dir>/.docanalysis.lock.
func NewWorkspaceLock(dir string) *WorkspaceLock {
	p := filepath.Join(dir, ".docanalysis.lock")
	return &WorkspaceLock{path: p, flock: flock.New(p)}
}

// TryLock acquires the lock without blocking. A lock held by another
// process yields ErrCodeWorkspaceLocked.
func (l *WorkspaceLock) TryLock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	ok, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire workspace lock: %w", err)
	}
	if !ok {
		return docerrors.New(docerrors.ErrCodeWorkspaceLocked,
			"workspace is in use by another docanalysis process", nil).
			WithDetail("lock", l.path)
	}
	l.locked = true
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *WorkspaceLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release workspace lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *WorkspaceLock) Path() string { return l.path }
