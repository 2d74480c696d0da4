//go:build unix

package db

import (
	"os"

	"golang.org/x/sys/unix"
)

// tryLock takes a non-blocking flock on the open descriptor.
func (l *fileLock) tryLock() error {
	return unix.Flock(int(l.f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
}

func (l *fileLock) unlock() {
	if l.f != nil {
		unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	}
}

// isProcessAlive probes pid with signal 0.
func isProcessAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	return err == nil && p.Signal(unix.Signal(0)) == nil
}
