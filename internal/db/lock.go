package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Lock files kept in the data directory. db.lock guards each write
// transaction; sync.lock is held for a whole sync session.
const (
	writeLockName   = "db.lock"
	sessionLockName = "sync.lock"

	defaultTimeout = 2 * time.Second
	pollMin        = 5 * time.Millisecond
	pollMax        = 50 * time.Millisecond
)

// ErrSessionLocked means another process is running a sync session on this
// data directory.
var ErrSessionLocked = errors.New("sync session running in another process")

var errLockHeld = errors.New("lock held")

// fileLock is an OS advisory lock on one file. Every take opens a fresh
// descriptor, so two goroutines of one process exclude each other too, and
// the OS drops the lock if the process dies.
type fileLock struct {
	path string
	f    *os.File
}

func newFileLock(baseDir, name string) *fileLock {
	return &fileLock{path: filepath.Join(baseDir, name)}
}

// tryAcquire takes the lock without waiting. errLockHeld means someone else
// has it.
func (l *fileLock) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(l.path), err)
	}
	l.f = f
	if err := l.tryLock(); err != nil {
		f.Close()
		l.f = nil
		return errLockHeld
	}
	l.stamp()
	return nil
}

// acquire retries tryAcquire, doubling the pause up to pollMax, until timeout.
func (l *fileLock) acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	pause := pollMin
	for {
		err := l.tryAcquire()
		if !errors.Is(err, errLockHeld) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("store write lock timeout after %v (holder %s)", timeout, l.holder())
		}
		time.Sleep(pause)
		pause = min(pause*2, pollMax)
	}
}

// release unlocks and closes. Calling it on a released lock is a no-op.
func (l *fileLock) release() error {
	if l.f == nil {
		return nil
	}
	l.f.Truncate(0)
	l.unlock()
	err := l.f.Close()
	l.f = nil
	return err
}

func (l *fileLock) stamp() {
	l.f.Truncate(0)
	l.f.Seek(0, 0)
	fmt.Fprintf(l.f, "pid:%d\ntime:%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
}

// holder describes the process named in the lock file, for error messages.
func (l *fileLock) holder() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return "unknown"
	}
	fields := make(map[string]string, 2)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if k, v, ok := strings.Cut(line, ":"); ok {
			fields[k] = v
		}
	}
	pid := fields["pid"]
	if pid == "" {
		return "unknown"
	}
	desc := fmt.Sprintf("pid:%s since %s", pid, fields["time"])
	if n, err := strconv.Atoi(pid); err == nil && !isProcessAlive(n) {
		desc += ", stale"
	}
	return desc
}

// LockSession claims the data directory for one sync session. It never
// waits: when another process holds the claim the error wraps
// ErrSessionLocked. The returned func gives the claim back.
func (db *DB) LockSession() (func(), error) {
	l := newFileLock(db.baseDir, sessionLockName)
	err := l.tryAcquire()
	if errors.Is(err, errLockHeld) {
		return nil, fmt.Errorf("%w (holder %s)", ErrSessionLocked, l.holder())
	}
	if err != nil {
		return nil, err
	}
	return func() { l.release() }, nil
}
