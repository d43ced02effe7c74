package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/luiz158/backup.sh/cmd/util"
	"github.com/luiz158/backup.sh/pkg/config"
	"github.com/luiz158/backup.sh/pkg/errors"
)

// Mocked for unit testing.
var (
	stdout        io.Writer = os.Stdout
	stdin         io.Reader = os.Stdin
	guessDefaults           = guessDefaultsImpl
	parseConfig             = config.Parse
	writeConfig             = config.Write
)

// New creates a new `config` command.
func New() *cobra.Command {
	var cliOpts config.Config
	var configPath string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Setup the backup configuration",
		Run: func(_ *cobra.Command, _ []string) {
			if err := SetupConfig(cliOpts, configPath); err != nil {
				err = errors.NewFriendlyError("Failed to setup configuration:\n%s", err)
				util.HandleFatalError(err)
			}
		},
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "",
		"Path to the backup config. Defaults to "+config.DefaultConfigPath+".")
	cmd.Flags().StringVar(&cliOpts.Volume, "volume", "",
		"Set the backup volume mount point in the config. "+
			"Optional: If not set, `backup config` will interactively prompt.")
	cmd.Flags().StringVar(&cliOpts.HomeRoot, "home-root", "",
		"Set the directory containing the user home directories. "+
			"Optional: If not set, `backup config` will interactively prompt.")
	cmd.Flags().StringSliceVar(&cliOpts.Sources, "source", nil,
		"Add a fixed absolute path to back up. May be repeated.")

	// Setup the commands for querying the contents of the config.
	type getterSpec struct {
		use, short string
		fn         func(config.Config) string
	}

	getters := []getterSpec{
		{
			use:   "get-volume",
			short: "Get the currently configured backup volume",
			fn:    func(cfg config.Config) string { return cfg.Volume },
		},
		{
			use:   "get-log-file",
			short: "Get the currently configured run log file",
			fn:    func(cfg config.Config) string { return cfg.LogFile },
		},
	}
	for _, getter := range getters {
		getter := getter
		cmd.AddCommand(&cobra.Command{
			Use:   getter.use,
			Short: getter.short,
			Run: func(_ *cobra.Command, _ []string) {
				cfg, err := parseConfig(configPath)
				if err != nil {
					err = errors.WithContext(err, "read config")
					util.HandleFatalError(err)
				}

				fmt.Fprintln(stdout, getter.fn(cfg))
			},
		})
	}

	return cmd
}

// SetupConfig builds the config from the CLI flags plus interactive
// prompts for anything that wasn't set, and writes it to disk.
func SetupConfig(cliOpts config.Config, configPath string) error {
	cfg, err := generateConfig(cliOpts, configPath)
	if err != nil {
		return errors.WithContext(err, "generate config")
	}

	if err := writeConfig(cfg, configPath); err != nil {
		return errors.WithContext(err, "write config")
	}

	if configPath == "" {
		configPath = config.DefaultConfigPath
	}
	fmt.Fprintf(stdout, "Wrote config to %s\n", configPath)
	return nil
}

func volumeValidationFn(volume string) (string, bool) {
	if filepath.IsAbs(volume) {
		return "", true
	}
	return "The backup volume must be an absolute path to a mount point " +
		"with an fstab entry (e.g. /backup).", false
}

type prompt struct {
	helpString, prompt, defaultAnswer, currAnswer string
	field                                         *string
	validationFn                                  func(string) (string, bool)
}

// generateConfig interacts with the user to decide what the desired
// configuration is.
// It makes best guesses at reasonable defaults, and allows users to
// explicitly override them if desired.
func generateConfig(cliOpts config.Config, configPath string) (config.Config, error) {
	defaults := guessDefaults()
	currConfig, err := parseConfig(configPath)
	if err != nil {
		currConfig = config.Config{}
		log.WithError(err).Debug("Failed to read current config")
	}

	cfg := cliOpts
	if cfg.Sources == nil {
		cfg.Sources = currConfig.Sources
	}

	var prompts []prompt
	if cliOpts.Volume == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the mount point of the backup volume.\n" +
				"The volume needs an fstab entry so that it can be mounted " +
				"by path alone.",
			prompt:        "Backup volume",
			defaultAnswer: defaults.Volume,
			currAnswer:    currConfig.Volume,
			field:         &cfg.Volume,
			validationFn:  volumeValidationFn,
		})
	}

	if cliOpts.HomeRoot == "" {
		prompts = append(prompts, prompt{
			helpString: "Enter the directory whose subdirectories are the " +
				"user home directories.\n" +
				"Enter `none` to not back up home directories.",
			prompt:        "Home directory root",
			defaultAnswer: defaults.HomeRoot,
			currAnswer:    currConfig.HomeRoot,
			field:         &cfg.HomeRoot,
		})
	}

	for _, prompt := range prompts {
		var resp string
		for {
			resp, err = promptUser(prompt.helpString, prompt.prompt,
				prompt.defaultAnswer, prompt.currAnswer)
			if err != nil {
				return config.Config{}, errors.WithContext(err, "read response")
			}

			if prompt.validationFn == nil {
				break
			}

			validationErr, ok := prompt.validationFn(resp)
			if ok {
				break
			}

			fmt.Fprintln(stdout, validationErr)
		}

		*prompt.field = resp
	}

	return cfg, nil
}

// guessDefaults tries to guess reasonable defaults for the fields in the
// config.
func guessDefaultsImpl() (cfg config.Config) {
	cfg.HomeRoot = config.DefaultHomeRoot
	return cfg
}

func promptUser(helpString, prompt, defaultAnswer, currAnswer string) (string, error) {
	// Display a new line at the end to separate different fields to make it
	// look clearer.
	defer fmt.Fprintln(stdout)

	options := []string{}
	if defaultAnswer != "" {
		options = append(options, defaultAnswer)
	}
	if currAnswer != "" && currAnswer != defaultAnswer {
		options = append(options, currAnswer)
	}
	options = append(options, "(Enter manually)")

	fmt.Fprintln(stdout, helpString+"\n"+prompt+":")

	stdinReader := bufio.NewReader(stdin)

	if nOptions := len(options); nOptions > 1 {
		// defaultAnswer or currAnswer exists.
		fmt.Fprintln(stdout)
		for i, option := range options {
			if i == 0 {
				option = fmt.Sprintf("%s (recommended)", option)
			}
			fmt.Fprintf(stdout, "\t%d. %s\n", i+1, option)
		}
		fmt.Fprintln(stdout)

		for {
			fmt.Fprintf(stdout, "Please choose one [1-%d]: ", nOptions)
			choiceStr, err := stdinReader.ReadString('\n')
			if err != nil {
				return "", err
			}

			var choice int
			choiceStr = strings.TrimRight(choiceStr, "\n")

			// Default to the first choice if user doesn't enter anything.
			if choiceStr == "" {
				choice = 1
			} else {
				choice, err = strconv.Atoi(choiceStr)
				if err != nil || choice < 1 || choice > nOptions {
					// Try again if the input is invalid.
					continue
				}
			}

			if choice == nOptions {
				// Enter manually.
				break
			}

			return options[choice-1], nil
		}
	}

	fmt.Fprint(stdout, "Please enter manually: ")
	resp, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimRight(resp, "\n"), nil
}
