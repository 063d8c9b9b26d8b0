// Package lock provides a pid-based file lock so that only one sync run
// touches the store at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrHeld is returned when another live process holds the lock.
var ErrHeld = errors.New("lock already held")

// FileLock is an exclusive lock backed by a pid file.
type FileLock struct {
	path string
}

// New returns a lock at the given path. The lock is not acquired yet.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock, stealing it from a dead process if the pid in
// an existing lock file no longer runs.
func (l *FileLock) Acquire() error {
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil {
				return werr
			}
			return cerr
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		pid, rerr := l.readPid()
		if rerr == nil && processAlive(pid) {
			return fmt.Errorf("%w by pid %d", ErrHeld, pid)
		}

		// Stale or unreadable lock file, remove and retry once.
		if rerr := os.Remove(l.path); rerr != nil && !os.IsNotExist(rerr) {
			return fmt.Errorf("failed to remove stale lock file: %w", rerr)
		}
	}
	return ErrHeld
}

// Release removes the lock file.
func (l *FileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *FileLock) readPid() (int, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// processAlive reports whether a process with the given pid exists.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
