package wal

import (
	"fmt"
	"os"
)

// LockSuffix is appended to a log path to name its lock file
const LockSuffix = ".lock"

// FileLock is an exclusive advisory lock on a log, shared by every process
// that opens the same path. The lock lives in a sibling file so it survives
// Rewrite replacing the log.
type FileLock struct {
	f *os.File
}

// Lock blocks until the lock for the log at path is held
func Lock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path+LockSuffix, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	return &FileLock{f: f}, nil
}

// Unlock releases the lock
func (l *FileLock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
