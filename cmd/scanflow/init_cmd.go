package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/raysh454/scanflow/internal/config"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Creates scanflow.yaml with default settings. Edit backend_url and token
before running a scan; every key can also be set through SCANFLOW_<KEY>
environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := filepath.Join(initDir, "scanflow.yaml")
		if err := config.WriteDefault(path, initForce); err != nil {
			return fmt.Errorf("failed to create config file: %w. Use --force to overwrite", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s with default configuration\n", path)
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite existing config file")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "output directory")
	rootCmd.AddCommand(initCmd)
}
