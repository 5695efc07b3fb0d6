package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned by Lock when another process holds the store lock.
var ErrLocked = errors.New("results store is locked by another process")

// LockPath returns the path of the advisory lock file.
func (s *Store) LockPath() string {
	return s.path + ".lock"
}

// Lock takes an exclusive advisory lock on the store. It does not block:
// if the lock is held elsewhere ErrLocked is returned.
//
// The returned function releases the lock.
func (s *Store) Lock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}

	f, err := os.OpenFile(s.LockPath(), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}

	if err := lockFile(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, fmt.Errorf("%w (%s)", ErrLocked, s.LockPath())
		}
		return nil, fmt.Errorf("failed to lock %s: %w", s.LockPath(), err)
	}

	return func() {
		if err := unlockFile(f); err != nil {
			s.logger.Printf("Warning: failed to unlock %s: %v", s.LockPath(), err)
		}
		_ = f.Close()
	}, nil
}
