package lock

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
)

const lockPath = "/var/run/backup.pid"

func newTestManager(pid int, alive map[int]bool) *Manager {
	return &Manager{
		Path: lockPath,
		Pid:  pid,
		IsAlive: func(pid int) bool {
			return alive[pid]
		},
	}
}

func readRecord(t *testing.T) string {
	record, err := afero.ReadFile(fs, lockPath)
	assert.NoError(t, err)
	return string(record)
}

func TestAcquireWhenUnlocked(t *testing.T) {
	fs = afero.NewMemMapFs()

	manager := newTestManager(100, map[int]bool{100: true})
	assert.NoError(t, manager.Acquire())
	assert.Equal(t, "100\n", readRecord(t))
}

func TestAcquireWhenOwnerAlive(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, lockPath, []byte("100\n"), 0644))

	manager := newTestManager(200, map[int]bool{100: true})
	assert.Equal(t, ErrAlreadyRunning, manager.Acquire())

	// The record still names the original owner.
	assert.Equal(t, "100\n", readRecord(t))
}

func TestAcquireRecoversStaleLock(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, lockPath, []byte("100\n"), 0644))

	manager := newTestManager(200, map[int]bool{})
	assert.NoError(t, manager.Acquire())
	assert.Equal(t, "200\n", readRecord(t))
}

func TestAcquireRecoversCorruptLock(t *testing.T) {
	tests := []struct {
		name   string
		record string
	}{
		{name: "Empty", record: ""},
		{name: "Garbage", record: "not-a-pid"},
		{name: "Negative", record: "-5"},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			fs = afero.NewMemMapFs()
			assert.NoError(t, afero.WriteFile(fs, lockPath, []byte(test.record), 0644))

			// Every PID is alive, so only the corrupt record lets the
			// acquire go through.
			manager := newTestManager(200, map[int]bool{100: true, 200: true})
			assert.NoError(t, manager.Acquire())
			assert.Equal(t, "200\n", readRecord(t))
		})
	}
}

func TestRelease(t *testing.T) {
	fs = afero.NewMemMapFs()

	manager := newTestManager(100, map[int]bool{})
	assert.NoError(t, manager.Acquire())

	manager.Release()
	exists, err := afero.Exists(fs, lockPath)
	assert.NoError(t, err)
	assert.False(t, exists)

	// Releasing an already-released lock is fine.
	manager.Release()
}

func TestAcquireReleaseCycle(t *testing.T) {
	fs = afero.NewMemMapFs()

	first := newTestManager(100, map[int]bool{100: true})
	assert.NoError(t, first.Acquire())

	// A second run against a live owner is rejected.
	second := newTestManager(200, map[int]bool{100: true, 200: true})
	assert.Equal(t, ErrAlreadyRunning, second.Acquire())

	first.Release()
	assert.NoError(t, second.Acquire())
	assert.Equal(t, "200\n", readRecord(t))
}
