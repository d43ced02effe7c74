package run

import (
	"testing"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"

	"github.com/luiz158/backup.sh/pkg/config"
	"github.com/luiz158/backup.sh/pkg/errors"
	"github.com/luiz158/backup.sh/pkg/lock"
	"github.com/luiz158/backup.sh/pkg/mount"
	"github.com/luiz158/backup.sh/pkg/sources"
	"github.com/luiz158/backup.sh/pkg/sync"
)

type fakeLock struct {
	acquireErr error
	acquired   int
	released   int
}

func (l *fakeLock) Acquire() error {
	if l.acquireErr != nil {
		return l.acquireErr
	}
	l.acquired++
	return nil
}

func (l *fakeLock) Release() {
	l.released++
}

type fakeMount struct {
	alreadyMounted bool
	ensureErr      error

	ensures  int
	releases int
	// releasedOwned records the wasAlreadyMounted value passed to
	// ReleaseIfOwned.
	releasedOwned bool
}

func (m *fakeMount) EnsureMounted(_ string) (bool, error) {
	m.ensures++
	if m.ensureErr != nil {
		return false, m.ensureErr
	}
	return m.alreadyMounted, nil
}

func (m *fakeMount) ReleaseIfOwned(_ string, wasAlreadyMounted bool) {
	m.releases++
	m.releasedOwned = wasAlreadyMounted
}

type fakeSyncer struct {
	failures map[string]error

	calls []syncCall
}

type syncCall struct {
	source, destRoot, snapshotDir, excludeFile string
}

func (s *fakeSyncer) Sync(source, destRoot, snapshotDir, excludeFile string) error {
	s.calls = append(s.calls, syncCall{source, destRoot, snapshotDir, excludeFile})
	return s.failures[source]
}

func testConfig() config.Config {
	return config.Config{
		Volume:            "/backup",
		Sources:           []string{"/etc"},
		HomeRoot:          "none",
		UnavailableMarker: ".backup-unavailable",
		ExcludeFile:       "/etc/backup/exclude.list",
		SkipFile:          "/etc/backup/skip",
		LockFile:          "/var/run/backup.pid",
		LogFile:           "/var/log/backup.log",
	}
}

func newTestController(cfg config.Config, l *fakeLock, m *fakeMount, s *fakeSyncer) *Controller {
	return &Controller{
		cfg:   cfg,
		lock:  l,
		mount: m,
		sync:  s,
		clock: clockwork.NewFakeClock(),
		destinationRoot: func(volume string) (string, error) {
			return volume + "/myhost_ubuntu_22.04", nil
		},
		listSources: sources.List,
		state:       StateIdle,
	}
}

func TestRunHappyPath(t *testing.T) {
	fs = afero.NewMemMapFs()

	lockMgr := &fakeLock{}
	mountMgr := &fakeMount{}
	syncer := &fakeSyncer{}
	ctrl := newTestController(testConfig(), lockMgr, mountMgr, syncer)

	result, err := ctrl.Run()
	assert.NoError(t, err)
	assert.Equal(t, Result{Synced: []string{"/etc"}}, result)

	assert.Equal(t, 1, lockMgr.acquired)
	assert.Equal(t, 1, lockMgr.released)
	assert.Equal(t, 1, mountMgr.releases)
	assert.False(t, mountMgr.releasedOwned)
	assert.Equal(t, StateTornDown, ctrl.state)

	// All sources share the destination root and the day's snapshot dir.
	assert.Len(t, syncer.calls, 1)
	call := syncer.calls[0]
	assert.Equal(t, "/backup/myhost_ubuntu_22.04", call.destRoot)
	assert.Contains(t, call.snapshotDir, "/backup/myhost_ubuntu_22.04/backups/")
	assert.Equal(t, "/etc/backup/exclude.list", call.excludeFile)

	// The exclusion list was created empty since it didn't exist.
	exists, err := afero.Exists(fs, "/etc/backup/exclude.list")
	assert.NoError(t, err)
	assert.True(t, exists)
}

func TestRunSkipMarker(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs, "/etc/backup/skip", nil, 0644))

	lockMgr := &fakeLock{}
	mountMgr := &fakeMount{}
	syncer := &fakeSyncer{}
	ctrl := newTestController(testConfig(), lockMgr, mountMgr, syncer)

	result, err := ctrl.Run()
	assert.NoError(t, err)
	assert.True(t, result.Skipped)

	// No lock, no mount, no sync.
	assert.Zero(t, lockMgr.acquired)
	assert.Zero(t, mountMgr.ensures)
	assert.Empty(t, syncer.calls)
}

func TestRunAlreadyRunning(t *testing.T) {
	fs = afero.NewMemMapFs()

	lockMgr := &fakeLock{acquireErr: lock.ErrAlreadyRunning}
	mountMgr := &fakeMount{}
	syncer := &fakeSyncer{}
	ctrl := newTestController(testConfig(), lockMgr, mountMgr, syncer)

	result, err := ctrl.Run()
	assert.NoError(t, err)
	assert.True(t, result.Skipped)

	// The lock was never acquired, so nothing may be released either.
	assert.Zero(t, lockMgr.released)
	assert.Zero(t, mountMgr.ensures)
	assert.Zero(t, mountMgr.releases)
	assert.Empty(t, syncer.calls)
}

func TestRunMountFailure(t *testing.T) {
	fs = afero.NewMemMapFs()

	mountErr := mount.FailedError{Volume: "/backup"}
	lockMgr := &fakeLock{}
	mountMgr := &fakeMount{ensureErr: mountErr}
	syncer := &fakeSyncer{}
	ctrl := newTestController(testConfig(), lockMgr, mountMgr, syncer)

	_, err := ctrl.Run()
	assert.Equal(t, mountErr, err)

	// The lock is still released, no unmount is attempted, and no sync
	// ever started.
	assert.Equal(t, 1, lockMgr.released)
	assert.Zero(t, mountMgr.releases)
	assert.Empty(t, syncer.calls)
	assert.Equal(t, StateTornDown, ctrl.state)
}

func TestRunVolumeAlreadyMounted(t *testing.T) {
	fs = afero.NewMemMapFs()

	lockMgr := &fakeLock{}
	mountMgr := &fakeMount{alreadyMounted: true}
	syncer := &fakeSyncer{}
	ctrl := newTestController(testConfig(), lockMgr, mountMgr, syncer)

	_, err := ctrl.Run()
	assert.NoError(t, err)

	// ReleaseIfOwned is told the run didn't perform the mount.
	assert.Equal(t, 1, mountMgr.releases)
	assert.True(t, mountMgr.releasedOwned)
}

func TestRunContinuesPastSourceFailure(t *testing.T) {
	fs = afero.NewMemMapFs()

	cfg := testConfig()
	cfg.Sources = []string{"/etc", "/var/lib", "/root"}

	lockMgr := &fakeLock{}
	mountMgr := &fakeMount{}
	syncer := &fakeSyncer{failures: map[string]error{
		"/var/lib": sync.FailedError{
			Source: "/var/lib",
			Output: "rsync error",
			Err:    errors.New("exit status 23"),
		},
	}}
	ctrl := newTestController(cfg, lockMgr, mountMgr, syncer)

	result, err := ctrl.Run()
	assert.NoError(t, err)
	assert.Equal(t, []string{"/etc", "/root"}, result.Synced)
	assert.Equal(t, []string{"/var/lib"}, result.Failed)

	// The failure didn't short-circuit the remaining sources, and the
	// teardown still ran.
	assert.Len(t, syncer.calls, 3)
	assert.Equal(t, 1, lockMgr.released)
	assert.Equal(t, 1, mountMgr.releases)
}

func TestRunEnumeratesHomes(t *testing.T) {
	fs = afero.NewMemMapFs()

	cfg := testConfig()
	cfg.HomeRoot = "/home"

	syncer := &fakeSyncer{}
	ctrl := newTestController(cfg, &fakeLock{}, &fakeMount{}, syncer)
	ctrl.listSources = func(got config.Config) ([]sources.Entry, error) {
		assert.Equal(t, cfg, got)
		return []sources.Entry{
			{Path: "/etc", Eligible: true},
			{Path: "/home/alice", Eligible: true},
			{Path: "/home/bob", Reason: "data is marked unavailable"},
		}, nil
	}

	result, err := ctrl.Run()
	assert.NoError(t, err)

	// Bob's home is marked unavailable and is skipped without failing
	// the run.
	assert.Equal(t, []string{"/etc", "/home/alice"}, result.Synced)
	assert.Empty(t, result.Failed)
}

func TestRunKeepsExistingExcludeFile(t *testing.T) {
	fs = afero.NewMemMapFs()
	assert.NoError(t, afero.WriteFile(fs,
		"/etc/backup/exclude.list", []byte("*.cache\n"), 0644))

	ctrl := newTestController(testConfig(), &fakeLock{}, &fakeMount{}, &fakeSyncer{})
	_, err := ctrl.Run()
	assert.NoError(t, err)

	contents, err := afero.ReadFile(fs, "/etc/backup/exclude.list")
	assert.NoError(t, err)
	assert.Equal(t, "*.cache\n", string(contents))
}

func TestRunRedirectsLog(t *testing.T) {
	fs = afero.NewMemMapFs()
	originalOut := log.StandardLogger().Out

	ctrl := newTestController(testConfig(), &fakeLock{}, &fakeMount{}, &fakeSyncer{})
	_, err := ctrl.Run()
	assert.NoError(t, err)

	// The run's progress was appended to the configured log file, and
	// the global output was restored afterwards.
	contents, err := afero.ReadFile(fs, "/var/log/backup.log")
	assert.NoError(t, err)
	assert.Contains(t, string(contents), "Backup finished")
	assert.Equal(t, originalOut, log.StandardLogger().Out)
}
