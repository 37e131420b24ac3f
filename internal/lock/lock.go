package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Info is what a daemon records in the lock file it holds.
type Info struct {
	PID       int
	StartedAt time.Time
}

// LockHeldError is returned when another process holds the session lock.
type LockHeldError struct {
	Info
	Path string
}

func (e *LockHeldError) Error() string {
	if e.StartedAt.IsZero() {
		return fmt.Sprintf("session lock held by PID %d (%s)", e.PID, e.Path)
	}
	return fmt.Sprintf("session lock held by PID %d since %s (%s)", e.PID, e.StartedAt.Format(time.RFC3339), e.Path)
}

// Lock represents an acquired session lock file.
type Lock struct {
	file *os.File
	path string
	info Info
}

// Acquire takes an exclusive lock on the session directory.
// Returns LockHeldError if another process already holds it.
func Acquire(sessionDir string) (*Lock, error) {
	lockPath := filepath.Join(sessionDir, fileName)

	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(lockPath)
		_ = f.Close()
		return nil, &LockHeldError{Info: parse(string(data)), Path: lockPath}
	}

	info := Info{PID: os.Getpid(), StartedAt: time.Now().UTC().Truncate(time.Second)}
	if err := f.Truncate(0); err != nil {
		_ = f.Close()
		return nil, err
	}
	if _, err := f.WriteAt([]byte(format(info)), 0); err != nil {
		_ = f.Close()
		return nil, err
	}

	return &Lock{file: f, path: lockPath, info: info}, nil
}

// Info returns what this lock recorded.
func (l *Lock) Info() Info { return l.info }

// Release releases the lock. Safe to call on nil receiver.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove lock file before closing to avoid stale files.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// Read returns the holder recorded in sessionDir's lock file. It reports
// false when no daemon holds the lock.
func Read(sessionDir string) (Info, bool, error) {
	lockPath := filepath.Join(sessionDir, fileName)
	f, err := os.Open(lockPath)
	if errors.Is(err, fs.ErrNotExist) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, err
	}
	defer func() { _ = f.Close() }()

	// A lock we can take ourselves is stale.
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_SH|syscall.LOCK_NB); err == nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		return Info{}, false, nil
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return Info{}, false, err
	}
	return parse(string(data)), true, nil
}

func format(i Info) string {
	return fmt.Sprintf("pid=%d\ntime=%s\n", i.PID, i.StartedAt.Format(time.RFC3339))
}

func parse(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		if after, ok := strings.CutPrefix(line, "pid="); ok {
			info.PID, _ = strconv.Atoi(after)
		}
		if after, ok := strings.CutPrefix(line, "time="); ok {
			info.StartedAt, _ = time.Parse(time.RFC3339, after)
		}
	}
	return info
}
