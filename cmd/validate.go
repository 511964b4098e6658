package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/safety"
)

// newValidateCmd creates the 'validate' subcommand, which parses a payload
// file and reports what the manager would accept from it.
func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Parse a safety list payload and report rule counts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			manager := safety.NewManager(zap.NewNop())
			manager.ParseSafetyLists(string(raw))
			rev := manager.Revision()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "allowed rules:   %d\n", rev.AllowedRules)
			fmt.Fprintf(out, "blocked rules:   %d\n", rev.BlockedRules)
			fmt.Fprintf(out, "skipped entries: %d\n", rev.SkippedEntries)
			fmt.Fprintf(out, "content hash:    %s\n", rev.ContentHash)

			if !rev.DocumentValid {
				return errors.New("document rejected: top level is not a JSON object")
			}
			return nil
		},
	}
}
