package commands

import (
	"github.com/spf13/cobra"
)

var (
	// configPath is the YAML configuration file.
	configPath string

	// dbPath overrides the database location from the config.
	dbPath string

	// haltPath overrides the halt sentinel location from the config.
	haltPath string

	// outputFormat controls output format (text, json, markdown, html).
	outputFormat string
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Operator CLI for the outreach scheduler",
	Long: `outreach inspects and controls a running outreach pipeline.

It reads the same configuration, database and halt sentinel as outreachd,
so it works whether or not the daemon is running. A halt written here is
picked up by the daemon before its next action.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to the configuration file (default: ~/.outreach/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&dbPath, "db", "",
		"Path to SQLite database (default: db_path from the config)",
	)
	rootCmd.PersistentFlags().StringVar(
		&haltPath, "halt", "",
		"Halt sentinel location, a file path or repo:<key>",
	)
	rootCmd.PersistentFlags().StringVar(
		&outputFormat, "format", "text",
		"Output format: text, json, markdown, html",
	)

	// Add subcommands.
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(haltCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(blocklistCmd)
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)
}
