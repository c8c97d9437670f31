// Package lockfile marks a session as owned by one running process so two
// terminals cannot drive the same session at once.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrLocked is returned when another live process holds the lock
var ErrLocked = errors.New("session is in use by another process")

type owner struct {
	PID        int       `json:"pid"`
	SessionID  string    `json:"session_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is an exclusive lock file for one session
type Lock struct {
	path      string
	sessionID string
	file      *os.File
}

// ForSession returns the lock for sessionID under dir
func ForSession(dir, sessionID string) *Lock {
	return &Lock{path: filepath.Join(dir, sessionID+".lock"), sessionID: sessionID}
}

// Path returns the lock file path
func (l *Lock) Path() string { return l.path }

// Held reports whether this process holds the lock
func (l *Lock) Held() bool { return l.file != nil }

// TryAcquire creates the lock file. A lock left behind by a process that
// is no longer running is taken over.
func (l *Lock) TryAcquire() error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if os.IsExist(err) {
		if holder, live := l.holder(); live {
			return fmt.Errorf("%w (pid %d since %s)", ErrLocked, holder.PID, holder.AcquiredAt.Format(time.RFC3339))
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale lock: %w", err)
		}
		file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	}
	if err != nil {
		return fmt.Errorf("create lock: %w", err)
	}

	data, _ := json.Marshal(owner{PID: os.Getpid(), SessionID: l.sessionID, AcquiredAt: time.Now()})
	if _, err := file.Write(data); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("write lock: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("sync lock: %w", err)
	}
	l.file = file
	return nil
}

// holder reads the current owner. Unreadable files count as stale.
func (l *Lock) holder() (owner, bool) {
	var o owner
	data, err := os.ReadFile(l.path)
	if err != nil || json.Unmarshal(data, &o) != nil || o.PID <= 0 {
		return o, false
	}
	if o.PID == os.Getpid() {
		return o, true
	}
	return o, isProcessRunning(o.PID)
}

// Release removes the lock file if this process holds it
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	if rmErr := os.Remove(l.path); rmErr != nil && !os.IsNotExist(rmErr) {
		return errors.Join(err, rmErr)
	}
	return err
}
