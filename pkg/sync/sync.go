package sync

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/luiz158/backup.sh/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// transferCommand is the command used for the actual file transfer.
const transferCommand = "rsync"

// transferFlags request archive semantics from rsync:
//   - ownership is mapped numerically since the volume doesn't share the
//     host's user namespace,
//   - hard links and sparse layout are preserved,
//   - the source path structure is kept relative to the filesystem root,
//   - deletions (including of newly-excluded files) happen only after
//     the transfer completes.
var transferFlags = []string{
	"-aHS",
	"--numeric-ids",
	"--relative",
	"--delete-after",
	"--delete-excluded",
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// FailedError reports that the transfer for a single source failed.
// One source failing doesn't abort the run, so the error carries enough
// detail to diagnose the failure from the log alone.
type FailedError struct {
	Source string
	Output string
	Err    error
}

func (err FailedError) Error() string {
	return fmt.Sprintf("sync %q: %s", err.Source, err.Err)
}

// Syncer mirrors source directories into the backup destination.
type Syncer struct {
	runner Runner
}

// New returns a Syncer that shells out to rsync.
func New() *Syncer {
	return &Syncer{runner: execRunner{}}
}

// Sync mirrors source into destRoot, capturing pre-images of changed and
// deleted entries under snapshotDir. Paths matching a pattern in
// excludeFile are left out of the transfer, but stale copies of them on
// the destination are still purged.
//
// A source that doesn't exist isn't an error: machines differ, and a
// configured path that's absent here is simply skipped.
func (s *Syncer) Sync(source, destRoot, snapshotDir, excludeFile string) error {
	if _, err := fs.Stat(source); os.IsNotExist(err) {
		log.WithField("source", source).Info("Source doesn't exist, skipping")
		return nil
	} else if err != nil {
		return FailedError{Source: source, Err: errors.WithContext(err, "stat source")}
	}

	if err := fs.MkdirAll(destRoot, 0755); err != nil {
		return FailedError{Source: source, Err: errors.WithContext(err, "create destination root")}
	}
	if err := fs.MkdirAll(snapshotDir, 0700); err != nil {
		return FailedError{Source: source, Err: errors.WithContext(err, "create snapshot directory")}
	}

	args := append([]string{}, transferFlags...)
	args = append(args,
		"--backup",
		"--backup-dir="+snapshotDir,
		"--exclude-from="+excludeFile,
		source,
		destRoot,
	)

	log.WithField("source", source).Info("Syncing")
	output, err := s.runner.Run(transferCommand, args...)
	if err != nil {
		return FailedError{
			Source: source,
			Output: strings.TrimSpace(string(output)),
			Err:    err,
		}
	}
	return nil
}
