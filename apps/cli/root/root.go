package root

import (
	"github.com/spf13/cobra"
)

// rootCmd is the base command for the back office admin CLI. Subcommands
// (token, bootstrap, org) are attached here.
var rootCmd = &cobra.Command{
	Use:           "backoffice",
	Short:         "Back office admin CLI",
	Long:          "Administrative utilities for the back office core (dev tokens, schema bootstrap, organization seeding).",
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// Root returns the mutable root command for wiring from subpackages.
func Root() *cobra.Command {
	return rootCmd
}
