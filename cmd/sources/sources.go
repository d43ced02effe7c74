package sources

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luiz158/backup.sh/cmd/util"
	"github.com/luiz158/backup.sh/pkg/config"
	"github.com/luiz158/backup.sh/pkg/sources"
)

// New creates a new `sources` command.
func New() *cobra.Command {
	var configPath string
	cobraCmd := &cobra.Command{
		Use:   "sources",
		Short: "Print the directories the next run would back up",
		Long: "Print the configured sources and the enumerated home\n" +
			"directories, marking the ones that would be skipped.",
		Run: func(_ *cobra.Command, _ []string) {
			cfg, err := config.Parse(configPath)
			if err != nil {
				util.HandleFatalError(err)
			}

			entries, err := sources.List(cfg)
			if err != nil {
				util.HandleFatalError(err)
			}

			for _, entry := range entries {
				if entry.Eligible {
					fmt.Println(entry.Path)
				} else {
					fmt.Printf("%s (skipped: %s)\n", entry.Path, entry.Reason)
				}
			}
		},
	}
	cobraCmd.Flags().StringVar(&configPath, "config", "",
		"Path to the backup config. Defaults to "+config.DefaultConfigPath+".")
	return cobraCmd
}
