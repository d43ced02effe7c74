// Package hostid computes the per-host directory names on the backup
// volume. One volume can hold backups from several machines, so the
// destination root bakes in the host name and distribution identity.
package hostid

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goversion "github.com/hashicorp/go-version"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/luiz158/backup.sh/pkg/errors"
)

const osReleasePath = "/etc/os-release"

// snapshotDirName is the directory under the destination root that
// holds the dated snapshot directories.
const snapshotDirName = "backups"

// unknownValue stands in for any identity component we can't determine,
// so the destination root name always has the same shape.
const unknownValue = "unknown"

// Mocked out for unit testing.
var (
	fs       = afero.NewOsFs()
	hostname = os.Hostname
)

// DestinationRoot returns the top-level mirror directory for this host
// on the given volume: <volume>/<host>_<distro id>_<distro version>.
// It's computed from the live system, so callers must compute it once
// per run and reuse the result.
func DestinationRoot(volume string) (string, error) {
	host, err := hostname()
	if err != nil {
		return "", errors.WithContext(err, "get hostname")
	}

	id, version := distro()
	return filepath.Join(volume, fmt.Sprintf("%s_%s_%s", host, id, version)), nil
}

// SnapshotDir returns the dated snapshot directory for a run started at
// the given time. All runs on the same calendar day share it.
func SnapshotDir(destRoot string, start time.Time) string {
	return filepath.Join(destRoot, snapshotDirName, start.Format("20060102"))
}

// distro reads the distribution identity from os-release. Missing or
// malformed files degrade to "unknown" rather than failing: the backup
// is more important than its directory name.
func distro() (id, version string) {
	id, version = unknownValue, unknownValue

	f, err := fs.Open(osReleasePath)
	if err != nil {
		log.WithError(err).Debug("Couldn't read os-release")
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(value, `"'`)
		if value == "" {
			continue
		}

		switch key {
		case "ID":
			id = value
		case "VERSION_ID":
			version = normalizeVersion(value)
		}
	}
	return
}

// normalizeVersion validates that the VERSION_ID is a well-formed
// version number. Strings like "22.04" pass through unchanged; anything
// unparseable (rolling releases mostly leave VERSION_ID out entirely)
// degrades to "unknown".
func normalizeVersion(raw string) string {
	parsed, err := goversion.NewVersion(raw)
	if err != nil {
		log.WithField("versionID", raw).Debug(
			"os-release VERSION_ID isn't a version number")
		return unknownValue
	}
	return parsed.Original()
}
