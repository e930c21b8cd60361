// Package commands implements the pgcdc CLI commands.
package commands

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pgcdc",
	Short: "PostgreSQL logical replication change-data-capture consumer",
	Long: `pgcdc streams row-level changes out of a PostgreSQL logical
replication slot, decodes the pgoutput wire format, and dispatches each
change to a bounded worker pool.

Use "pgcdc [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command, for testing.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetConfigFile returns the --config flag value.
func GetConfigFile() string {
	return cfgFile
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a config file (optional; environment variables are read regardless)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(slotCmd)
}
