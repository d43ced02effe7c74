// Package mount manages the mount state of the backup volume.
//
// The volume is expected to have an fstab entry, so mounting and
// unmounting work by path alone. Mount state is always read from the
// live mount table rather than tracked internally, so a run that was
// killed partway through can't confuse a later one.
package mount

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"

	"github.com/luiz158/backup.sh/pkg/errors"
)

// settleDelay gives the kernel time to finish writing out dirty pages
// between the flush and the unmount.
const settleDelay = 5 * time.Second

// Table reports the live mount state of a path. It's backed by the
// kernel mount table in production and mocked out in tests.
type Table interface {
	Mounted(path string) (bool, error)
}

// Commander issues the mount-related system commands.
type Commander interface {
	Mount(path string) error
	Unmount(path string) error
	Flush()
}

// FailedError indicates that the backup volume couldn't be mounted.
// It's the only fatal condition in a run.
type FailedError struct {
	Volume string
	Err    error
}

func (err FailedError) Error() string {
	if err.Err != nil {
		return fmt.Sprintf("failed to mount %q: %s", err.Volume, err.Err)
	}
	return fmt.Sprintf("%q is not mounted after mounting it", err.Volume)
}

// Manager queries and changes the mount state of the backup volume.
type Manager struct {
	table Table
	cmd   Commander
	clock clockwork.Clock
}

// New returns a Manager backed by the real mount table and the mount(8)
// and umount(8) commands.
func New() *Manager {
	return &Manager{
		table: osTable{},
		cmd:   execCommander{},
		clock: clockwork.NewRealClock(),
	}
}

// IsMounted reports whether the volume is currently mounted. The mount
// table is consulted on every call, never cached.
func (m *Manager) IsMounted(volume string) (bool, error) {
	mounted, err := m.table.Mounted(volume)
	if err != nil {
		return false, errors.WithContext(err, "query mount table")
	}
	return mounted, nil
}

// EnsureMounted makes sure the volume is mounted. It returns whether
// the volume was already mounted before the call, which the caller must
// pass back to ReleaseIfOwned.
func (m *Manager) EnsureMounted(volume string) (bool, error) {
	mounted, err := m.IsMounted(volume)
	if err != nil {
		return false, err
	}
	if mounted {
		log.WithField("volume", volume).Debug("Backup volume is already mounted")
		return true, nil
	}

	// The mount command's exit status isn't authoritative (e.g. the
	// volume may race in via an automounter), so the decision below is
	// made by re-reading the mount table.
	mountErr := m.cmd.Mount(volume)
	if mountErr != nil {
		log.WithError(mountErr).WithField("volume", volume).Error(
			"Mount command failed")
	}

	mounted, err = m.IsMounted(volume)
	if err != nil {
		return false, err
	}
	if !mounted {
		return false, FailedError{Volume: volume, Err: mountErr}
	}

	log.WithField("volume", volume).Info("Mounted backup volume")
	return false, nil
}

// ReleaseIfOwned unmounts the volume, but only if this run mounted it.
// A volume that was already mounted when the run started belongs to
// someone else and is left alone.
//
// Unmount failures are logged and swallowed: a volume left mounted is
// recovered by the next run, and nothing here may block the lock
// release that follows.
func (m *Manager) ReleaseIfOwned(volume string, wasAlreadyMounted bool) {
	if wasAlreadyMounted {
		// Still flush what we wrote, but leave the mount alone.
		m.cmd.Flush()
		log.WithField("volume", volume).Debug(
			"Leaving backup volume mounted since this run didn't mount it")
		return
	}

	m.cmd.Flush()
	m.clock.Sleep(settleDelay)

	if err := m.cmd.Unmount(volume); err != nil {
		log.WithError(err).WithField("volume", volume).Warn(
			"Failed to unmount backup volume. It will stay mounted until " +
				"the next run.")
	}
	m.cmd.Flush()
}
