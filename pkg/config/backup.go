package config

import (
	"path/filepath"

	"github.com/ghodss/yaml"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/luiz158/backup.sh/pkg/errors"
)

const (
	// DefaultConfigPath is the default path to the backup config.
	DefaultConfigPath = "/etc/backup/backup.yaml"

	// InitialConfigVersion is the first version of the backup config.
	// Config files that do not specify a version will default to this
	// version.
	InitialConfigVersion = "v1alpha1"

	// SupportedConfigVersion is the config version supported by the
	// current binary.
	SupportedConfigVersion = "v1alpha1"
)

// Defaults for the optional fields. They're applied after parsing so
// that the config file only has to name what it changes.
const (
	DefaultHomeRoot          = "/home"
	DefaultUnavailableMarker = ".backup-unavailable"
	DefaultExcludeFile       = "/etc/backup/exclude.list"
	DefaultSkipFile          = "/etc/backup/skip"
	DefaultLockFile          = "/var/run/backup.pid"
	DefaultLogFile           = "/var/log/backup.log"
)

// Config describes one backup deployment: what to copy, where the
// backup volume lives, and the well-known control files.
type Config struct {
	Version string `json:"version,omitempty"`

	// Volume is the mount point of the backup volume. The volume must
	// have an fstab entry so that it can be mounted by path alone.
	Volume string `json:"volume"`

	// Sources are the absolute paths that are always backed up.
	Sources []string `json:"sources"`

	// HomeRoot is the directory whose immediate subdirectories are
	// treated as per-user home directories and backed up individually.
	// Set it to "none" to disable home enumeration.
	HomeRoot string `json:"homeRoot,omitempty"`

	// UnavailableMarker is a file name. A home directory containing it
	// is skipped because its data is encrypted or not mounted.
	UnavailableMarker string `json:"unavailableMarker,omitempty"`

	// ExcludeFile holds one rsync exclusion pattern per line. It's
	// created empty if it doesn't exist.
	ExcludeFile string `json:"excludeFile,omitempty"`

	// SkipFile is the operator opt-out. If it exists, the run exits
	// immediately without doing anything.
	SkipFile string `json:"skipFile,omitempty"`

	// LockFile holds the PID of the run that owns the backup volume.
	LockFile string `json:"lockFile,omitempty"`

	// LogFile is where the run's log output is appended.
	LogFile string `json:"logFile,omitempty"`
}

func (c Config) getVersion() string {
	return c.Version
}

// HomeEnumerationDisabled returns whether per-user home directories
// should be excluded from the run.
func (c Config) HomeEnumerationDisabled() bool {
	return c.HomeRoot == "none"
}

// homedirExpand will be overridden in mock tests.
var homedirExpand = homedir.Expand

// Parse reads the Config stored at path, or at DefaultConfigPath if
// path is empty.
func Parse(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	path, err := homedirExpand(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{Version: InitialConfigVersion}
	if err := parseConfig(path, &config, SupportedConfigVersion); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The backup config "+
				"file doesn't exist at %q. Please create it before running "+
				"a backup.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	if config.Volume == "" {
		return Config{}, errors.MissingFieldError{Field: "volume"}
	}

	applyDefaults(&config)

	for _, source := range config.Sources {
		if !filepath.IsAbs(source) {
			return Config{}, errors.NewFriendlyError(
				"Backup sources must be absolute paths, but got %q.", source)
		}
	}
	return config, nil
}

// Write writes the given config to disk.
func Write(cfg Config, path string) error {
	cfg.Version = SupportedConfigVersion
	if path == "" {
		path = DefaultConfigPath
	}

	yamlBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.WithContext(err, "marshal")
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.WithContext(err, "create config directory")
	}

	if err := afero.WriteFile(fs, path, yamlBytes, 0644); err != nil {
		return errors.WithContext(err, "write")
	}
	return nil
}

func applyDefaults(config *Config) {
	if config.HomeRoot == "" {
		config.HomeRoot = DefaultHomeRoot
	}
	if config.UnavailableMarker == "" {
		config.UnavailableMarker = DefaultUnavailableMarker
	}
	if config.ExcludeFile == "" {
		config.ExcludeFile = DefaultExcludeFile
	}
	if config.SkipFile == "" {
		config.SkipFile = DefaultSkipFile
	}
	if config.LockFile == "" {
		config.LockFile = DefaultLockFile
	}
	if config.LogFile == "" {
		config.LogFile = DefaultLogFile
	}
}
