// Package lockfile provides an advisory, single-process exclusive lock
// over a workspace directory, backed by gofrs/flock.
package lockfile

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
)

// ErrLocked is returned by Lock when another process already holds it.
var ErrLocked = errors.New("lockfile: workspace locked by another process")

// Lock wraps a single lock file path.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock bound to path (typically <data_dir>/.data/syftbox.lock).
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking, returning
// ErrLocked if another process holds it.
func (l *Lock) TryLock() error {
	locked, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lockfile: try lock %s: %w", l.path, err)
	}
	if !locked {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock and removes the lock file, if this process
// held it.
func (l *Lock) Unlock() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lockfile: unlock %s: %w", l.path, err)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lockfile: remove %s: %w", l.path, err)
	}
	return nil
}
