package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newShowActionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show-action id",
		Short: "Print an action's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid action id %q", args[0])
			}

			comps, closer, err := buildComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			action, err := comps.st.GetAction(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "action %d: %s on issue %d\n", action.ID, action.ActionType, action.IssueID)
			fmt.Fprintf(out, "  status: %s (attempts %d/%d)\n", action.Status, action.ExecutionAttempts, action.MaxAttempts)
			fmt.Fprintf(out, "  confidence: %.2f  priority: %.2f\n", action.ConfidenceScore, action.PriorityScore)
			fmt.Fprintf(out, "  can_rollback: %v  rolled_back: %v\n", action.CanRollback, action.RolledBack)
			if action.ErrorMessage != "" {
				fmt.Fprintf(out, "  last error: %s\n", action.ErrorMessage)
			}
			return nil
		},
	}
}
