package daemon

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/Aman-CERP/dirindex/internal/errors"
)

// DataDirLock is an exclusive cross-process lock on the data directory.
// Only one server may own an index and its pending-work file.
type DataDirLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewDataDirLock creates a lock backed by the file at path.
func NewDataDirLock(path string) *DataDirLock {
	return &DataDirLock{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. It fails with ERR_209_INDEX_LOCKED
// when another process holds it.
func (l *DataDirLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return errors.New(errors.ErrCodeIndexLocked, "failed to acquire data directory lock", err).
			WithDetail("path", l.path)
	}
	if !acquired {
		return errors.New(errors.ErrCodeIndexLocked, "data directory is in use by another dirindex process", nil).
			WithDetail("path", l.path).
			WithSuggestion("Stop the other server or point --config-dir at a different data_dir")
	}
	l.locked = true
	return nil
}

// Release drops the lock. Safe to call when not held.
func (l *DataDirLock) Release() error {
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
func (l *DataDirLock) Path() string {
	return l.path
}
