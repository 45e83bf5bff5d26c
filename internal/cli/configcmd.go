package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/tdtool/config"
)

func newConfigCmd(st *rootState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate the configuration file",
	}

	var initOutput string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default " + config.FileName,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := initOutput
			if path == "" {
				path = filepath.Join(st.cfg.Dir, config.FileName)
			}
			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			fmt.Printf("Created default configuration: %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&initOutput, "output", "o", "", "output path (default: <base dir>/"+config.FileName+")")

	var validatePath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a configuration file loads",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := validatePath
			if path == "" {
				path = filepath.Join(st.cfg.Dir, config.FileName)
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			fmt.Printf("Configuration valid: %s\n", path)
			fmt.Printf("  Trade program: %s\n", cfg.Trade)
			fmt.Printf("  Database:      %s\n", cfg.DBPath())
			fmt.Printf("  Prices file:   %s\n", cfg.PricesPath())
			return nil
		},
	}
	validateCmd.Flags().StringVarP(&validatePath, "file", "f", "", "path to config file (default: <base dir>/"+config.FileName+")")

	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}
