// Package run drives one end-to-end backup run: take the lock, mount
// the volume, sync every eligible source, and tear everything down in
// the right order no matter which step failed.
package run

import (
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/luiz158/backup.sh/pkg/config"
	"github.com/luiz158/backup.sh/pkg/errors"
	"github.com/luiz158/backup.sh/pkg/hostid"
	"github.com/luiz158/backup.sh/pkg/lock"
	"github.com/luiz158/backup.sh/pkg/mount"
	"github.com/luiz158/backup.sh/pkg/sources"
	"github.com/luiz158/backup.sh/pkg/sync"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// State identifies where a run is in its lifecycle. Transitions are
// strictly forward; TornDown is reached exactly once on every path.
type State string

const (
	StateIdle     State = "idle"
	StateLockHeld State = "lock-held"
	StateMounted  State = "mounted"
	StateSyncing  State = "syncing"
	StateTornDown State = "torn-down"
)

// Locker enforces at-most-one concurrent run.
type Locker interface {
	Acquire() error
	Release()
}

// Mounter changes the mount state of the backup volume.
type Mounter interface {
	EnsureMounted(volume string) (bool, error)
	ReleaseIfOwned(volume string, wasAlreadyMounted bool)
}

// Syncer mirrors one source directory onto the volume.
type Syncer interface {
	Sync(source, destRoot, snapshotDir, excludeFile string) error
}

// Result summarizes a completed run. Per-source failures are recorded
// here rather than returned as errors: a partial backup is better than
// none, so they don't change the process exit status.
type Result struct {
	// Skipped is set when the run deliberately did nothing: the operator
	// skip marker was present, or another run already holds the lock.
	// Both exit 0.
	Skipped    bool
	SkipReason string

	Synced []string
	Failed []string
}

// Controller orchestrates a single run.
type Controller struct {
	cfg   config.Config
	lock  Locker
	mount Mounter
	sync  Syncer
	clock clockwork.Clock

	// destinationRoot and listSources are injected so tests don't
	// depend on the machine they run on.
	destinationRoot func(volume string) (string, error)
	listSources     func(cfg config.Config) ([]sources.Entry, error)

	state State
}

// New returns a Controller wired to the real system.
func New(cfg config.Config) *Controller {
	return &Controller{
		cfg:             cfg,
		lock:            lock.New(cfg.LockFile),
		mount:           mount.New(),
		sync:            sync.New(),
		clock:           clockwork.NewRealClock(),
		destinationRoot: hostid.DestinationRoot,
		listSources:     sources.List,
		state:           StateIdle,
	}
}

// Run performs the backup. A non-nil error is fatal and maps to a
// non-zero exit; everything else (including per-source sync failures)
// is reported through the Result.
//
// Teardown is layered with defers so that every acquired resource is
// released exactly once, in reverse order of acquisition, on every
// path: unmount (if owned), lock release, log restoration.
func (c *Controller) Run() (Result, error) {
	defer c.transition(StateTornDown)

	// The operator opt-out is checked before any resource is touched.
	if skip, err := afero.Exists(fs, c.cfg.SkipFile); err != nil {
		return Result{}, errors.WithContext(err, "check skip marker")
	} else if skip {
		log.WithField("path", c.cfg.SkipFile).Info(
			"Skip marker present, not running a backup")
		return Result{Skipped: true, SkipReason: "skip marker present"}, nil
	}

	if err := c.lock.Acquire(); err != nil {
		if err == lock.ErrAlreadyRunning {
			// A concurrent backup isn't an error, just a no-op. There's
			// nothing to tear down since we acquired nothing.
			log.Info("Another backup run is active, exiting")
			return Result{Skipped: true, SkipReason: "another run is active"}, nil
		}
		return Result{}, errors.WithContext(err, "acquire lock")
	}
	c.transition(StateLockHeld)

	// Teardown runs in reverse: unmount if owned, release the lock,
	// then restore the log output. The lock release is logged into the
	// run's log file, so the redirection is undone last.
	restoreLog := c.redirectLog()
	defer restoreLog()
	defer c.lock.Release()

	wasAlreadyMounted, err := c.mount.EnsureMounted(c.cfg.Volume)
	if err != nil {
		return Result{}, err
	}
	defer c.mount.ReleaseIfOwned(c.cfg.Volume, wasAlreadyMounted)
	c.transition(StateMounted)

	destRoot, err := c.destinationRoot(c.cfg.Volume)
	if err != nil {
		return Result{}, errors.WithContext(err, "compute destination root")
	}
	snapshotDir := hostid.SnapshotDir(destRoot, c.clock.Now())

	if err := c.ensureExcludeFile(); err != nil {
		return Result{}, errors.WithContext(err, "create exclude file")
	}

	entries, err := c.listSources(c.cfg)
	if err != nil {
		return Result{}, errors.WithContext(err, "enumerate sources")
	}

	c.transition(StateSyncing)
	var result Result
	for _, source := range sources.Eligible(entries) {
		if err := c.sync.Sync(source, destRoot, snapshotDir, c.cfg.ExcludeFile); err != nil {
			logSyncFailure(err)
			result.Failed = append(result.Failed, source)
			continue
		}
		result.Synced = append(result.Synced, source)
	}

	if len(result.Failed) > 0 {
		log.WithField("failed", result.Failed).Warn(
			"Backup finished, but some sources failed to sync")
	} else {
		log.WithField("synced", len(result.Synced)).Info("Backup finished")
	}
	return result, nil
}

func (c *Controller) transition(next State) {
	// TornDown is registered with defer at the top of Run, so it fires
	// after intermediate states on the happy path and straight from
	// Idle on the early exits.
	log.WithField("from", c.state).WithField("to", next).Debug("Run transition")
	c.state = next
}

// redirectLog sends the run's log output to the configured append-only
// log file. The returned restore function is called on every teardown
// path, even when the run fails.
//
// Failing to open the log file isn't fatal: a backup that logs to the
// wrong place still beats no backup.
func (c *Controller) redirectLog() (restore func()) {
	logFile, err := fs.OpenFile(c.cfg.LogFile,
		os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		log.WithError(err).Warn(
			"Couldn't open log file, logging to the original destination")
		return func() {}
	}

	previous := log.StandardLogger().Out
	log.SetOutput(logFile)
	return func() {
		log.SetOutput(previous)
		logFile.Close()
	}
}

// ensureExcludeFile creates the exclusion list as an empty file if the
// operator hasn't written one yet, so the transfer can always read it.
func (c *Controller) ensureExcludeFile() error {
	exists, err := afero.Exists(fs, c.cfg.ExcludeFile)
	if err != nil || exists {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(c.cfg.ExcludeFile), 0755); err != nil {
		return err
	}
	return afero.WriteFile(fs, c.cfg.ExcludeFile, nil, 0644)
}

func logSyncFailure(err error) {
	entry := log.WithError(err)
	if failure, ok := err.(sync.FailedError); ok && failure.Output != "" {
		entry = entry.WithField("output", failure.Output)
	}
	entry.Error("Source failed to sync, continuing with the remaining sources")
}
