// Command automationctl is the operator-facing CLI for gh-automation-core:
// it can trigger a one-off cycle, roll back a completed action, inspect an
// action, or bring the schema up to date without starting the daemon.
// Grounded on the corpus's cobra-rooted CLI shape (a root command that adds
// a persistent --config flag and a set of verb subcommands).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "automationctl",
	Short: "Operate a gh-automation-core deployment",
	Long: `automationctl is the operator CLI for gh-automation-core.

Common tasks:
  automationctl migrate                       # bring the schema up to date
  automationctl run-cycle owner/repo          # trigger a one-off cycle
  automationctl show-action 42                # inspect a planned/executed action
  automationctl rollback 42 --reason "oops"   # roll back a completed action`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML configuration overlay")
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newRunCycleCmd())
	rootCmd.AddCommand(newShowActionCmd())
	rootCmd.AddCommand(newRollbackCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
