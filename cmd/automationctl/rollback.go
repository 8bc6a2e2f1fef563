package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newRollbackCmd() *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "rollback id",
		Short: "Roll back a completed, reversible action",
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

			if err := comps.ex.Rollback(cmd.Context(), id, reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "action %d rolled back\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "operator_requested", "reason recorded against the rollback")
	return cmd
}
