// Package lockfile makes sure only one server runs per project directory.
//
// The lock is a file created exclusively next to the server socket. It records
// the owning process and the address it serves, so a second server can report
// who holds the lock and a crashed server's lock can be taken over.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var (
	ErrLocked = errors.New("server is already running")
)

// Owner describes the process holding a lock.
type Owner struct {
	PID     int
	Started time.Time
	Address string
}

// Lockfile represents a file-based lock
type Lockfile struct {
	path   string
	file   *os.File
	owner  Owner
	locked bool
}

// New creates a new lockfile instance
func New(path string) *Lockfile {
	return &Lockfile{
		path: path,
	}
}

// TryAcquire takes the lock for a server serving address. A lock left behind by
// a process that is no longer running is taken over.
func (l *Lockfile) TryAcquire(address string) error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0700); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if errors.Is(err, os.ErrExist) {
		owner, stale, reason := l.checkStale()
		if !stale {
			return fmt.Errorf("%w: pid %d serving %s", ErrLocked, owner.PID, owner.Address)
		}
		if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
			return fmt.Errorf("failed to remove stale lockfile (%s): %w", reason, removeErr)
		}
		file, err = os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	}
	if err != nil {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	l.file = file
	l.owner = Owner{PID: os.Getpid(), Started: time.Now(), Address: address}
	l.locked = true

	content := fmt.Sprintf("%d\n%s\n%s\n", l.owner.PID, l.owner.Started.Format(time.RFC3339), address)
	if _, err := l.file.WriteString(content); err != nil {
		l.Release()
		return fmt.Errorf("failed to write to lockfile: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		l.Release()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	return nil
}

// ReadOwner returns the owner recorded in the lockfile at path.
func ReadOwner(path string) (Owner, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Owner{}, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return Owner{}, fmt.Errorf("invalid PID in lockfile: %w", err)
	}

	owner := Owner{PID: pid}
	if len(lines) >= 2 {
		if started, err := time.Parse(time.RFC3339, strings.TrimSpace(lines[1])); err == nil {
			owner.Started = started
		}
	}
	if len(lines) >= 3 {
		owner.Address = strings.TrimSpace(lines[2])
	}
	return owner, nil
}

// checkStale reports whether the existing lock may be taken over.
func (l *Lockfile) checkStale() (Owner, bool, string) {
	owner, err := ReadOwner(l.path)
	if err != nil {
		return owner, true, err.Error()
	}
	if running, reason := isProcessRunning(owner.PID); !running {
		return owner, true, reason
	}
	return owner, false, ""
}

// Release releases the lock
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}

	var err error
	if l.file != nil {
		err = l.file.Close()
		l.file = nil
	}
	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		err = errors.Join(err, fmt.Errorf("failed to remove lockfile: %w", removeErr))
	}

	l.locked = false
	return err
}

// Owner returns the owner written by TryAcquire.
func (l *Lockfile) Owner() Owner {
	return l.owner
}

// Locked returns true if the lock is held
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path
func (l *Lockfile) Path() string {
	return l.path
}
