package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/navguard/navguard/internal/clock/system"
	"github.com/navguard/navguard/internal/decision"
	iduuid "github.com/navguard/navguard/internal/id/uuid"
	"github.com/navguard/navguard/internal/safety"
)

type checkOutput struct {
	Outcome        string `json:"outcome"`
	MatchedPattern string `json:"matched_pattern,omitempty"`
	ListHash       string `json:"list_hash,omitempty"`
}

// newCheckCmd creates the 'check' subcommand, which evaluates a single
// navigation against a payload file without starting the service.
func newCheckCmd() *cobra.Command {
	var (
		payloadPath string
		fromURL     string
		toURL       string
		agentID     string
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Evaluate one navigation against a safety list payload",
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := os.ReadFile(payloadPath)
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}

			manager := safety.NewManager(zap.NewNop())
			manager.ParseSafetyLists(string(raw))
			if !manager.Revision().DocumentValid {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: document rejected, lists are empty")
			}

			engine := decision.New(manager, nil, system.New(), iduuid.New(), zap.NewNop())
			d, err := engine.Decide(cmd.Context(), fromURL, toURL, agentID)
			if err != nil {
				return fmt.Errorf("check navigation: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(checkOutput{
				Outcome:        string(d.Outcome),
				MatchedPattern: d.MatchedPattern,
				ListHash:       d.ListHash,
			})
		},
	}

	cmd.Flags().StringVar(&payloadPath, "payload", "", "path to a safety list JSON document")
	cmd.Flags().StringVar(&fromURL, "from", "", "origin URL of the navigation")
	cmd.Flags().StringVar(&toURL, "to", "", "destination URL of the navigation")
	cmd.Flags().StringVar(&agentID, "agent", "", "agent identifier to record on the decision")
	_ = cmd.MarkFlagRequired("payload")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
