// Package lock enforces at-most-one concurrent backup run per machine.
//
// The lock is a plain file holding the PID of the run that owns it.
// A lock whose PID no longer names a running process is stale and is
// silently taken over, so a run that was killed can never wedge future
// runs.
//
// The liveness check only asks whether *some* process with the recorded
// PID exists. After a reboot the PID may belong to an unrelated process,
// in which case the run backs off until that process exits. This is a
// known limitation that we keep for predictability.
package lock

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/luiz158/backup.sh/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// ErrAlreadyRunning is returned by Acquire when another live run owns
// the lock. It's a signal to exit cleanly, not a failure.
var ErrAlreadyRunning = errors.New("another backup run is already running")

// Manager owns the lock file for a run.
type Manager struct {
	// Path is where the lock record lives.
	Path string

	// Pid identifies the current process. It's written into the lock
	// record so that other runs can check whether we're still alive.
	Pid int

	// IsAlive reports whether a process with the given PID is running.
	IsAlive func(pid int) bool
}

// New returns a Manager for the current process.
func New(path string) *Manager {
	return &Manager{
		Path:    path,
		Pid:     os.Getpid(),
		IsAlive: isProcessAlive,
	}
}

// Acquire takes the lock for the current process.
//
// If the lock file doesn't exist, it's created. If it exists but its
// owner is dead (or the record is unreadable), the lock is stale and is
// taken over. If a live process owns it, Acquire returns
// ErrAlreadyRunning and the caller must abort without any teardown.
func (m *Manager) Acquire() error {
	recordBytes, err := afero.ReadFile(fs, m.Path)
	if err == nil {
		ownerPid, parseErr := strconv.Atoi(strings.TrimSpace(string(recordBytes)))
		if parseErr == nil && ownerPid > 0 && m.IsAlive(ownerPid) {
			return ErrAlreadyRunning
		}

		// The record is corrupt, empty, or names a dead process. Either
		// way nobody can still be using the lock.
		log.WithField("path", m.Path).Info(
			"Recovering lock left behind by a dead backup run")
	} else if !os.IsNotExist(err) {
		return errors.WithContext(err, "read lock file")
	}

	record := []byte(strconv.Itoa(m.Pid) + "\n")
	if err := afero.WriteFile(fs, m.Path, record, 0644); err != nil {
		return errors.WithContext(err, "write lock file")
	}
	return nil
}

// Release removes the lock record. It must run on every teardown path,
// so it tolerates the record already being gone.
func (m *Manager) Release() {
	if err := fs.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		log.WithError(err).WithField("path", m.Path).Warn(
			"Failed to remove lock file. The next run will recover it as stale.")
	}
}

// isProcessAlive reports whether a process with the given PID exists.
// Signal 0 performs the permission and existence checks without
// delivering anything.
func isProcessAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	return err == nil || err == syscall.EPERM
}
