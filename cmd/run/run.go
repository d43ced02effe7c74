package run

import (
	"github.com/spf13/cobra"

	"github.com/luiz158/backup.sh/cmd/util"
	"github.com/luiz158/backup.sh/pkg/config"
	"github.com/luiz158/backup.sh/pkg/run"
)

// New creates a new `run` command.
func New() *cobra.Command {
	var configPath string
	cobraCmd := &cobra.Command{
		Use:   "run",
		Short: "Perform one backup run",
		Long: `Sync the configured sources to the backup volume, archiving the
previous versions of changed and deleted files into a dated snapshot
directory.

The run exits successfully without doing anything if the skip marker is
present or if another run is already active. A volume that fails to
mount is the only fatal condition.`,
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.Parse(configPath)
			if err != nil {
				util.HandleFatalError(err)
			}

			// Per-source sync failures are already logged by the
			// controller and deliberately keep the exit status at zero:
			// a partial backup shouldn't look like no backup.
			if _, err := run.New(cfg).Run(); err != nil {
				util.HandleFatalError(err)
			}
		},
	}
	cobraCmd.Flags().StringVar(&configPath, "config", "",
		"Path to the backup config. Defaults to "+config.DefaultConfigPath+".")
	return cobraCmd
}
