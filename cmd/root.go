// Package cmd defines and implements the CLI commands for the navguard
// executable.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "navguard",
		Short: "Safety list manager for autonomous browser agents",
		Long: `navguard decides whether an agent-initiated navigation is permitted,
based on declarative allow/block lists of origin-pair URL patterns. It serves
an HTTP decision API, keeps the lists fresh from a configured source, and
audits every decision it makes.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, optional)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newValidateCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
