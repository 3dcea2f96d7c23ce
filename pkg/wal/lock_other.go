//go:build !unix && !windows

package wal

import "os"

// No advisory locking on this platform; the in-process lock still applies.
func lockFile(f *os.File) error { return nil }

func unlockFile(f *os.File) error { return nil }
