// Package lockfile keeps two servers from sharing one state directory.
//
// The lock is an flock on a file inside the directory, so the kernel drops it
// when the holding process exits for any reason.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created in the state directory.
const FileName = "contentpilot.lock"

// ErrLocked is matched by a LockError.
var ErrLocked = errors.New("state directory is locked by another process")

// Holder describes the process recorded in a lock file.
type Holder struct {
	PID     int
	Started time.Time
	Addr    string
}

// Running reports whether the recorded process still exists.
func (h Holder) Running() bool {
	if h.PID <= 0 {
		return false
	}
	proc, err := os.FindProcess(h.PID)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func (h Holder) String() string {
	state := "not running"
	if h.Running() {
		state = "running"
	}
	s := fmt.Sprintf("pid %d (%s)", h.PID, state)
	if !h.Started.IsZero() {
		s += ", started " + h.Started.Format(time.RFC3339)
	}
	if h.Addr != "" {
		s += ", serving " + h.Addr
	}
	return s
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the lock for stateDir, recording addr for diagnostics. It
// fails with a *LockError when another process holds it.
func Acquire(stateDir, addr string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}
	path := filepath.Join(stateDir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		lockErr := &LockError{Path: path, Cause: err}
		if h, readErr := readHolder(path); readErr == nil {
			lockErr.Holder = &h
		}
		slog.Error("lockfile.Acquire: state directory in use", "path", path, "error", err)
		return nil, lockErr
	}

	// Only truncate once the lock is ours so a losing process never wipes the holder's record.
	holder := Holder{PID: os.Getpid(), Started: time.Now().UTC(), Addr: addr}
	if err := writeHolder(f, holder); err != nil {
		syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		f.Close()
		return nil, fmt.Errorf("failed to record lock holder in %s: %w", path, err)
	}

	slog.Info("lockfile.Acquire: state directory locked", "path", path, "pid", holder.PID)
	return &Lock{file: f, path: path}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the file. Calling it twice is harmless.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before unlocking so a new holder never loses its fresh file.
	removeErr := os.Remove(l.path)
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if err := errors.Join(unlockErr, closeErr); err != nil {
		slog.Error("lockfile.Release: failed to release lock", "path", l.path, "error", err)
		return err
	}
	if removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
		slog.Warn("lockfile.Release: lock file not removed", "path", l.path, "error", removeErr)
	}
	slog.Debug("lockfile.Release: state directory unlocked", "path", l.path)
	return nil
}

// LockError reports a state directory held by another process.
type LockError struct {
	Path   string
	Holder *Holder
	Cause  error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another ContentPilot server is using this state directory (lock file %s)", e.Path)
	if e.Holder != nil {
		fmt.Fprintf(&b, "; holder: %s", e.Holder)
		if !e.Holder.Running() {
			fmt.Fprintf(&b, "; if that process is gone, delete %s and retry", e.Path)
		}
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func (e *LockError) Is(target error) bool {
	return target == ErrLocked
}

func writeHolder(f *os.File, h Holder) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nstarted=%s\naddr=%s\n", h.PID, h.Started.Format(time.RFC3339), h.Addr)
	if _, err := f.WriteString(content); err != nil {
		return err
	}
	return f.Sync()
}

// readHolder parses the key=value lines written by writeHolder.
func readHolder(path string) (Holder, error) {
	f, err := os.Open(path)
	if err != nil {
		return Holder{}, err
	}
	defer f.Close()

	var h Holder
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			h.PID, _ = strconv.Atoi(value)
		case "started":
			h.Started, _ = time.Parse(time.RFC3339, value)
		case "addr":
			h.Addr = value
		}
	}
	if err := sc.Err(); err != nil {
		return Holder{}, err
	}
	if h.PID == 0 {
		return Holder{}, fmt.Errorf("lock file %s has no pid", path)
	}
	return h, nil
}
