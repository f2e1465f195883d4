// Package lockfile keeps a second bot process from running on the same state
// directory. Two processes sharing one database would send every reminder twice.
//
// The lock is a flock(2) on a file inside the directory, so the kernel drops it
// when the process dies.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "flowerbot.lock"

// Info is what a running bot writes into its lock file.
type Info struct {
	PID     int
	Gateway string
	Started time.Time
}

func (i Info) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", i.PID)
	if i.Gateway != "" {
		fmt.Fprintf(&b, "gateway=%s\n", i.Gateway)
	}
	if !i.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", i.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// ParseInfo reads the key=value lines of a lock file. Unknown keys and
// malformed values are ignored.
func ParseInfo(content string) Info {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil && pid > 0 {
				info.PID = pid
			}
		case "gateway":
			info.Gateway = value
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				info.Started = t
			}
		}
	}
	return info
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
	info Info
}

// AcquireLock takes the exclusive lock on stateDir, creating the directory if
// needed. gateway is recorded in the lock file for the error message a second
// instance prints.
func AcquireLock(stateDir, gateway string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("lockfile.AcquireLock: acquiring", "lockPath", lockPath)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC would wipe the owner's info before we know whether we win the lock
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Existing: describeOwner(lockPath), Cause: err}
		slog.Error("lockfile.AcquireLock: state directory is locked", "lockPath", lockPath, "owner", lockErr.Existing)
		return nil, lockErr
	}

	info := Info{PID: os.Getpid(), Gateway: gateway, Started: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: lock acquired", "lockPath", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

func writeInfo(file *os.File, info Info) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(info.String()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("lockfile.writeInfo: sync failed", "error", err, "path", file.Name())
	}
	return nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }

// Info returns what this process wrote into the lock file.
func (l *Lock) Info() Info { return l.info }

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// remove before unlocking so a waiting instance never sees our stale info
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lockPath", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to unlock", "error", err, "lockPath", l.path)
	}
	err := l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("failed to close lock file %s: %w", l.path, err)
	}
	slog.Info("Lock.Release: lock released", "lockPath", l.path)
	return nil
}

// LockError reports a state directory already held by another bot.
type LockError struct {
	LockPath string
	Existing string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another flowerbot instance is already using this state directory (lock file %s)", e.LockPath)
	if e.Existing != "" {
		msg += ": " + e.Existing
	}
	return msg + fmt.Sprintf("; if no other instance is running, remove %s and start again", e.LockPath)
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeOwner summarizes the lock file of the current owner.
func describeOwner(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil || len(data) == 0 {
		return ""
	}
	info := ParseInfo(string(data))
	if info.PID == 0 {
		return ""
	}
	parts := []string{"pid " + strconv.Itoa(info.PID)}
	if !isProcessRunning(info.PID) {
		parts = append(parts, "not running")
	}
	if info.Gateway != "" {
		parts = append(parts, "gateway "+info.Gateway)
	}
	if !info.Started.IsZero() {
		parts = append(parts, "started "+info.Started.Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}

// isProcessRunning sends signal 0, which only checks that the process exists.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
