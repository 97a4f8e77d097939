package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/simput/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the simput configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init [PATH]",
	Short: "Write the default configuration",
	Long: `Write the commented default configuration to PATH, or to
.simput/config.yaml when PATH is omitted. An existing file is left alone.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := localConfigPath
		if len(args) == 1 {
			path = args[0]
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.WriteDefaultConfig(path); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
		return nil
	},
}

var configAddModelCmd = &cobra.Command{
	Use:   "add-model FILE",
	Short: "Add a schema file to the models loaded by every command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(args[0]); err != nil {
			return fmt.Errorf("model %s: %w", args[0], err)
		}
		path := configPath()
		next, err := config.AddModel(path, cfg.Models, args[0])
		if err != nil {
			return err
		}
		cfg.Models = next
		return NewFormatter(cmd.OutOrStdout()).Format(next)
	},
}

func init() {
	configCmd.AddCommand(configInitCmd, configAddModelCmd)
	rootCmd.AddCommand(configCmd)
}
