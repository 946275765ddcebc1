package core

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const lockTimeLayout = time.RFC3339

// FileLock is a non-blocking leader token backed by a single shared file.
// Acquisition is atomic create-exclusive; the winner writes its PID and an
// ISO-8601 UTC timestamp and keeps the handle until release. A lock left
// behind by a dead process, or one older than staleAfter, is reclaimed.
type FileLock struct {
	path       string
	staleAfter time.Duration // zero disables age-based staleness
	clock      Clock
	logger     Logger

	mu   sync.Mutex
	file *os.File
}

type lockInfo struct {
	pid int
	at  time.Time
}

func NewFileLock(path string, staleAfter time.Duration, logger Logger) *FileLock {
	return &FileLock{
		path:       path,
		staleAfter: staleAfter,
		clock:      defaultClock,
		logger:     logger,
	}
}

// Acquire attempts to take the lock without blocking. It returns true when
// this process becomes the owner and false when another live process holds
// the lock. Callers treat false as "I am a follower".
func (l *FileLock) Acquire() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return true, nil
	}

	ok, err := l.tryCreate()
	if err != nil || ok {
		return ok, err
	}

	info, err := l.readInfo()
	if err != nil {
		// Unreadable or malformed content proves no live owner. Reclaim it.
		l.logger.Warningf("Reclaiming unreadable scheduler lock %q: %v", l.path, err)
	} else if !l.isStale(info) {
		return false, nil
	} else {
		l.logger.Warningf("Removing stale scheduler lock %q (pid=%d, written=%s)",
			l.path, info.pid, info.at.Format(lockTimeLayout))
	}

	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("remove stale lock %q: %w", l.path, err)
	}

	// Single retry; losing the race here means another process won the lock.
	return l.tryCreate()
}

// Release closes the handle and deletes the lock file. Both steps are best
// effort and Release on a non-owner is a no-op.
func (l *FileLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	name := l.file.Name()
	if err := l.file.Close(); err != nil {
		l.logger.Debugf("Closing scheduler lock %q: %v", name, err)
	}
	l.file = nil

	if err := os.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove lock %q: %w", name, err)
	}
	return nil
}

// Held reports whether this process currently owns the lock.
func (l *FileLock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file != nil
}

func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) tryCreate() (bool, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("create lock %q: %w", l.path, err)
	}

	_, werr := fmt.Fprintf(f, "%d %s\n", os.Getpid(), l.clock.Now().UTC().Format(lockTimeLayout))
	if werr != nil {
		f.Close()
		os.Remove(l.path)
		return false, fmt.Errorf("write lock %q: %w", l.path, werr)
	}

	l.file = f
	return true, nil
}

func (l *FileLock) readInfo() (lockInfo, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return lockInfo{}, fmt.Errorf("read lock: %w", err)
	}

	fields := strings.Fields(string(raw))
	if len(fields) != 2 {
		return lockInfo{}, fmt.Errorf("malformed lock content %q", strings.TrimSpace(string(raw)))
	}

	pid, err := strconv.Atoi(fields[0])
	if err != nil {
		return lockInfo{}, fmt.Errorf("malformed lock pid %q", fields[0])
	}

	at, err := time.Parse(lockTimeLayout, fields[1])
	if err != nil {
		return lockInfo{}, fmt.Errorf("malformed lock timestamp %q", fields[1])
	}

	return lockInfo{pid: pid, at: at}, nil
}

func (l *FileLock) isStale(info lockInfo) bool {
	if !processAlive(info.pid) {
		return true
	}
	if l.staleAfter > 0 && l.clock.Now().Sub(info.at) > l.staleAfter {
		return true
	}
	return false
}
