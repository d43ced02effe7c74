// Package sources enumerates the directories a run should back up: the
// fixed paths from the config plus one entry per user home directory.
package sources

import (
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/luiz158/backup.sh/pkg/config"
	"github.com/luiz158/backup.sh/pkg/errors"
)

// Mocked out for unit testing.
var fs = afero.NewOsFs()

// An Entry is one candidate directory for the run, annotated with
// whether it may actually be synced.
type Entry struct {
	Path string

	// Eligible is false when the entry must be skipped. Reason says why.
	Eligible bool
	Reason   string
}

// List returns the run's source entries. The fixed config sources are
// always eligible; home directories are eligible unless they carry the
// data-unavailable marker (their contents are encrypted or not
// mounted, so syncing them would copy ciphertext or nothing).
func List(cfg config.Config) ([]Entry, error) {
	var entries []Entry
	for _, source := range cfg.Sources {
		entries = append(entries, Entry{Path: source, Eligible: true})
	}

	if cfg.HomeEnumerationDisabled() {
		return entries, nil
	}

	homes, err := enumerateHomes(cfg.HomeRoot, cfg.UnavailableMarker)
	if err != nil {
		return nil, errors.WithContext(err, "enumerate home directories")
	}
	return append(entries, homes...), nil
}

// Eligible filters entries down to the paths that should be synced,
// logging each skipped entry.
func Eligible(entries []Entry) []string {
	var paths []string
	for _, entry := range entries {
		if !entry.Eligible {
			log.WithField("source", entry.Path).Infof("Skipping: %s", entry.Reason)
			continue
		}
		paths = append(paths, entry.Path)
	}
	return paths
}

func enumerateHomes(homeRoot, marker string) ([]Entry, error) {
	infos, err := afero.ReadDir(fs, homeRoot)
	if err != nil {
		if os.IsNotExist(err) {
			log.WithField("homeRoot", homeRoot).Info(
				"Home root doesn't exist, not backing up any home directories")
			return nil, nil
		}
		return nil, errors.WithContext(err, "read home root")
	}

	var entries []Entry
	for _, info := range infos {
		if !info.IsDir() {
			continue
		}

		home := filepath.Join(homeRoot, info.Name())
		unavailable, err := afero.Exists(fs, filepath.Join(home, marker))
		if err != nil {
			return nil, errors.WithContext(err, "check unavailable marker")
		}

		if unavailable {
			entries = append(entries, Entry{
				Path:   home,
				Reason: "data is marked unavailable (encrypted or not mounted)",
			})
			continue
		}
		entries = append(entries, Entry{Path: home, Eligible: true})
	}
	return entries, nil
}
