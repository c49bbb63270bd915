// Package lock provides the exclusive advisory lock that serializes writers
// of a realm's index.
package lock

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/starford/nous/internal/apperr"
)

// FileName is the lock file inside the metadata directory.
const FileName = "lock"

// pollInterval is how often a contended lock is retried.
const pollInterval = 25 * time.Millisecond

// Lock is an acquired lock. Release is idempotent.
type Lock struct {
	path string
	file *os.File
	once sync.Once
	err  error
}

// Acquire takes the exclusive lock in metaDir, polling until it is free,
// timeout elapses (ErrLocked) or ctx is done. A zero timeout tries once.
func Acquire(ctx context.Context, metaDir string, timeout time.Duration) (*Lock, error) {
	path := filepath.Join(metaDir, FileName)
	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		f, held, err := tryLock(path)
		if err != nil {
			return nil, apperr.IO("lock", path, err)
		}
		if !held {
			return &Lock{path: path, file: f}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w (waited %s)", apperr.ErrLocked, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	l.once.Do(func() { l.err = unlock(l.path, l.file) })
	return l.err
}
