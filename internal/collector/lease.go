package collector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/voxgate/voxgate/internal/flock"
)

// ErrLockHeld is returned when another collector instance owns the upstream
// session. Expected condition, not a bug: callers must exit immediately with
// a distinguishable status instead of retrying.
var ErrLockHeld = errors.New("collector already running (lock held)")

// Lease is exclusive ownership of the upstream source for the lifetime of
// this process. The kernel releases the underlying lock on process exit, so
// a crashed collector never wedges the next one.
type Lease struct {
	lock *flock.FileLock
}

// AcquireLease takes the singleton guard or fails with ErrLockHeld.
func AcquireLease(lockPath string) (*Lease, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire collector lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return &Lease{lock: lock}, nil
}

// Release gives the lease up explicitly (graceful shutdown path).
func (l *Lease) Release() {
	if l == nil || l.lock == nil {
		return
	}
	_ = l.lock.Unlock()
	l.lock = nil
}

// Held reports whether a live collector currently owns the lock artifact.
// Used by status tooling; queries the lock, never in-memory state.
func Held(lockPath string) (bool, error) {
	lock := flock.New(lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if !ok {
		return true, nil
	}
	_ = lock.Unlock()
	return false, nil
}
