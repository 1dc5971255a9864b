package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/Iron-Ham/webpair/internal/logging"
)

// LockFileName is the lock file written into a probe directory while a
// process drives it.
const LockFileName = "webpair.lock"

// ErrLocked is returned when another live process already drives the
// directory.
var ErrLocked = errors.New("probe directory is driven by another process")

// Lock records the process that owns a probe directory.
type Lock struct {
	SessionID string    `json:"session_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path   string
	logger *logging.Logger
}

// AcquireLock takes exclusive ownership of dir for sessionID. A lock left
// behind by a dead process is removed first. logger may be nil.
func AcquireLock(dir, sessionID string, logger *logging.Logger) (*Lock, error) {
	if logger == nil {
		logger = logging.NopLogger()
	}
	path := filepath.Join(dir, LockFileName)

	if existing, err := ReadLock(path); err == nil {
		if isProcessAlive(existing.PID) {
			logger.Error("failed to acquire lock", "holder_session", existing.SessionID, "holder_pid", existing.PID)
			return nil, fmt.Errorf("%w: PID %d on %s", ErrLocked, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove stale lock: %w", err)
		}
		logger.Warn("stale lock cleaned", "old_pid", existing.PID)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		SessionID: sessionID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
		logger:    logger,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	// O_EXCL loses the race cleanly when two processes start together.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			if existing, readErr := ReadLock(path); readErr == nil {
				return nil, fmt.Errorf("%w: PID %d on %s", ErrLocked, existing.PID, existing.Hostname)
			}
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write lock file: %w", err)
	}

	logger.Info("lock acquired", "pid", lock.PID, "dir", dir)
	return lock, nil
}

// Release removes the lock file if this process still owns it. It is safe
// to call on a nil Lock and more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := ReadLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil {
		return err
	}
	l.logger.Info("lock released")
	return nil
}

// ReadLock parses the lock file at path.
func ReadLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	lock.path = path
	lock.logger = logging.NopLogger()
	return &lock, nil
}

// IsLocked reports whether a live process holds the lock on dir. The lock
// is returned even when stale.
func IsLocked(dir string) (*Lock, bool) {
	lock, err := ReadLock(filepath.Join(dir, LockFileName))
	if err != nil {
		return nil, false
	}
	return lock, isProcessAlive(lock.PID)
}

// isProcessAlive sends signal 0, which checks existence without delivering
// anything.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
