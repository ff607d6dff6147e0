package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked means another process already holds the lock file.
var ErrLocked = errors.New("another instance holds the lock")

// InstanceLock keeps a single writer attached to a store.
type InstanceLock struct {
	path string
	lock *flock.Flock
}

// Lock takes the lock file at path without blocking.
func Lock(path string) (*InstanceLock, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create lock dir: %w", err)
		}
	}
	l := flock.New(path)
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &InstanceLock{path: path, lock: l}, nil
}

func (l *InstanceLock) Path() string { return l.path }

// Unlock releases the lock. It is safe on a nil lock.
func (l *InstanceLock) Unlock() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
