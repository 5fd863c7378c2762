package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// lockDirPermissions matches the data directory permissions.
const lockDirPermissions = 0o755

// errAlreadyRunning is returned by acquireLock when another daemon holds
// the lock.
var errAlreadyRunning = errors.New("another dirsync daemon is already running")

// acquireLock takes the single-instance daemon lock at path and records
// the current PID in it. The returned release func unlocks and removes the
// file. Two daemons sharing a control directory would steal each other's
// commands, so the second one must not start.
func acquireLock(path string) (release func(), err error) {
	if path == "" {
		return nil, errors.New("lock file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), lockDirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	lock := flock.New(path)

	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}

	if !ok {
		if pid, perr := readLockPID(path); perr == nil {
			return nil, fmt.Errorf("%w (pid %d, lock %s)", errAlreadyRunning, pid, path)
		}

		return nil, fmt.Errorf("%w (lock %s)", errAlreadyRunning, path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	return func() {
		os.Remove(path)
		_ = lock.Unlock()
	}, nil
}

// readLockPID returns the PID recorded in a lock file.
func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
