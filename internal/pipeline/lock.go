package pipeline

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/gofrs/flock"

	"shroomdump/internal/logging"
	"shroomdump/internal/services"
)

// LockFileName is created in the download directory for the duration of a run.
const LockFileName = ".shroomdump.lock"

// ErrRunInProgress reports that another run holds the download directory.
var ErrRunInProgress = errors.New("another dump run is using the download directory")

// RunLock is an exclusive lock on a download directory.
type RunLock struct {
	path string
	lock *flock.Flock
}

// AcquireRunLock locks downloadDir without blocking. It fails with
// ErrRunInProgress when another process holds the lock.
func AcquireRunLock(downloadDir string) (*RunLock, error) {
	path := filepath.Join(downloadDir, LockFileName)
	lock := flock.New(path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.KindSetup, "acquire run lock", path, "", err)
	}
	if !ok {
		return nil, services.Wrap(services.KindSetup, "acquire run lock", path, "", ErrRunInProgress)
	}
	return &RunLock{path: path, lock: lock}, nil
}

// Release unlocks the download directory.
func (l *RunLock) Release(logger *slog.Logger) {
	if err := l.lock.Unlock(); err != nil {
		logging.WarnWithContext(logger, "failed to release run lock", "run_lock_release_failed",
			logging.String("lock", l.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "the lock is released when the process exits"),
		)
	}
}
