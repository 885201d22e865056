package main

import (
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/shineum/ses-forwarder/internal/app"
	"github.com/shineum/ses-forwarder/internal/config"
)

// rootOptions holds the persistent flags and the configuration they load.
type rootOptions struct {
	configFile string
	envFiles   []string
	logLevel   string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "forwarderctl",
		Short:         "Operate the SES inbound email forwarder",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.load(); err != nil {
				return err
			}
			logFlags(cmd.Flags())
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to YAML configuration file (optional)")
	flags.StringArrayVar(&opts.envFiles, "env-file", nil, "load environment variables from a .env file, may be repeated")
	flags.StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn or error), overrides LOG_LEVEL")

	rootCmd.AddCommand(newForwardCommand(opts))
	rootCmd.AddCommand(newRewriteCommand(opts))
	rootCmd.AddCommand(newReceiveCommand(opts))

	return rootCmd
}

// load applies the env files, reads the configuration and sets up logging.
// Variables already present in the environment win over env file values.
func (o *rootOptions) load() error {
	if len(o.envFiles) > 0 {
		if err := godotenv.Load(o.envFiles...); err != nil {
			return fmt.Errorf("failed to load env file: %w", err)
		}
	}

	var err error
	if o.configFile != "" {
		o.cfg, err = config.LoadFromFile(o.configFile)
	} else {
		o.cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if o.logLevel != "" {
		o.cfg.Logging.Level = o.logLevel
	}
	app.SetupLoggerTo(logOutput, o.cfg.Logging.Level)
	return nil
}

// logFlags records the flags that were set explicitly.
func logFlags(fs *pflag.FlagSet) {
	fs.Visit(func(f *pflag.Flag) {
		slog.Debug("flag set", "name", f.Name, "value", f.Value.String())
	})
}
