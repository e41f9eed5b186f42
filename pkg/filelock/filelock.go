// Package filelock provides a scoped, cross-process exclusive lock backed by
// flock(2) on a lock file colocated with an index directory.
//
// The lock assumes every participant shares one local filesystem; network
// filesystems with weak lock semantics are not supported.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	apperrors "github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Index-Engine/pkg/metrics"
)

// FileName is the lock file created inside the guarded directory.
const FileName = "index.lock"

// Lock guards a directory against concurrent writers in other processes.
type Lock struct {
	fl *flock.Flock
}

// New prepares the lock file for dir, creating the directory if needed. The
// lock is not acquired until Do is called.
func New(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Lock("creating lock directory", err)
	}
	return &Lock{fl: flock.New(filepath.Join(dir, FileName))}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}

// Do blocks until the exclusive lock is held, runs fn and releases the lock
// on every return path, including a panic inside fn.
func (l *Lock) Do(fn func() error) (err error) {
	start := time.Now()
	if err := l.fl.Lock(); err != nil {
		return apperrors.Lock(fmt.Sprintf("acquiring %s", l.fl.Path()), err)
	}
	metrics.LockWait.Observe(time.Since(start).Seconds())
	defer func() {
		if uerr := l.fl.Unlock(); uerr != nil && err == nil {
			err = apperrors.Lock(fmt.Sprintf("releasing %s", l.fl.Path()), uerr)
		}
	}()
	return fn()
}

// Close releases the lock file handle.
func (l *Lock) Close() error {
	return l.fl.Close()
}
