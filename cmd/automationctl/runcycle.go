package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/octocrew/gh-automation-core/internal/cycle"
)

func newRunCycleCmd() *cobra.Command {
	var forceFullScan bool
	var maxActions int

	cmd := &cobra.Command{
		Use:   "run-cycle owner/repo",
		Short: "Run one ingest/detect/plan/execute cycle for a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parts := strings.SplitN(args[0], "/", 2)
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				return fmt.Errorf("repository must be in owner/repo form, got %q", args[0])
			}

			comps, closer, err := buildComponents(cmd.Context())
			if err != nil {
				return err
			}
			defer closer()

			report, err := comps.cyc.RunCycle(cmd.Context(), parts[0], parts[1], cycle.Options{
				ForceFullScan: forceFullScan,
				MaxActions:    maxActions,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cycle %s complete in %s\n", report.CycleID, report.TotalDuration)
			fmt.Fprintf(out, "  issues: %d fetched, %d new, %d updated, %d analyzed\n",
				report.IssuesFetched, report.IssuesNew, report.IssuesUpdated, report.IssuesAnalyzed)
			fmt.Fprintf(out, "  actions: %d planned, %d completed, %d failed, %d rolled back\n",
				report.ActionsPlanned, report.ActionsCompleted, report.ActionsFailed, report.ActionsRolledBack)
			for _, phaseErr := range report.Errors {
				fmt.Fprintf(out, "  error in %s: %v\n", phaseErr.Phase, phaseErr.Err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&forceFullScan, "full-scan", false, "ignore the bookmark and re-scan every open issue")
	cmd.Flags().IntVar(&maxActions, "max-actions", 0, "cap actions drained this cycle (0 uses the configured default)")
	return cmd
}
