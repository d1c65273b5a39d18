package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raysh454/scanflow/internal/app"
	"github.com/raysh454/scanflow/internal/config"
	"github.com/raysh454/scanflow/internal/logging"
)

var (
	cfgFile string
	verbose bool
	token   string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "scanflow",
	Short: "Submit website audits and follow them to completion",
	Long: `Scanflow talks to the website audit backend: it checks which analysis
modules your account can use, submits scan tasks, polls them until they finish
and merges the per-module results as they arrive.

Every task seen is kept in a local history database.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		skipConfig := map[string]bool{
			"init":    true,
			"help":    true,
			"version": true,
		}
		if skipConfig[cmd.Name()] {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if token != "" {
			cfg.Token = token
		}
		if verbose {
			cfg.LogLevel = "debug"
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (default: ./scanflow.yaml or ~/.config/scanflow/scanflow.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "debug logging on stderr")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token, overrides the config file")

	rootCmd.Version = "0.1.0-dev"
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// newApplication builds the services for the loaded config, logging to stderr
// so stdout stays clean for results.
func newApplication() (*app.Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}
	logger := logging.NewStdoutLogger("scanflow").SetOutput(os.Stderr).SetLevel(cfg.LogLevel)
	return app.NewApplication(cfg, logger)
}
