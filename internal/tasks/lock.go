package tasks

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	// LockFile is the lock file name inside the install directory.
	LockFile = "installer.lock"

	// StaleLockThreshold is the maximum age of a lock before it's considered stale.
	StaleLockThreshold = 10 * time.Minute
)

// ErrLockHeld is returned when another run holds the install directory.
var ErrLockHeld = errors.New("install directory is locked: another operation may be in progress")

// Lock is an exclusive lock on an install directory.
type Lock struct {
	path  string
	file  *os.File
	runID string
}

// AcquireLock takes the install directory lock. Uses O_CREATE|O_EXCL for
// atomic creation. A lock older than StaleLockThreshold is broken once.
func AcquireLock(ctx context.Context, dir string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create install directory: %w", err)
	}

	lockPath := filepath.Join(dir, LockFile)

	file, err := openExclusive(lockPath)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if stale, _ := isLockStale(lockPath); !stale {
			return nil, ErrLockHeld
		}
		os.Remove(lockPath)
		if file, err = openExclusive(lockPath); err != nil {
			return nil, ErrLockHeld
		}
	}

	runID := uuid.NewString()
	lockData := fmt.Sprintf("pid=%d\nrun_id=%s\ntimestamp=%s\n", os.Getpid(), runID, time.Now().UTC().Format(time.RFC3339))
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{path: lockPath, file: file, runID: runID}, nil
}

func openExclusive(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
}

// RunID identifies the run holding the lock.
func (l *Lock) RunID() string {
	return l.runID
}

// Release releases the lock.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		l.path = ""
	}

	return nil
}

// isLockStale checks if a lock file is older than the stale lock threshold.
func isLockStale(lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}
	return time.Since(info.ModTime()) > StaleLockThreshold, nil
}
