package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stewardhq/steward/cmd/steward/commands"
	"github.com/stewardhq/steward/logger"
)

var rootCmd = &cobra.Command{
	Use:   "steward",
	Short: "steward - autonomous account agent scheduler",
	Long: `steward runs scheduled agent jobs: each job snapshots an account,
asks the decision engine what to do, and applies the decision (notification,
budget debit, proposed actions, follow-up jobs).

Available commands:
  run     - Execute one poll cycle and print the summary
  start   - Run the scheduler daemon (poll loop + HTTP trigger)
  jobs    - Inspect and enqueue agent jobs
  budget  - Show balances and grant manager tokens
  actions - Review and resolve proposed actions

Examples:
  steward run                          # One idempotent poll cycle
  steward start                        # Daemon at the configured interval
  steward jobs add acct-1 checkin      # Enqueue a job due now
  steward budget grant acct-1 50       # Top up an account
  steward actions ls acct-1            # Pending approvals`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logger.Initialize(false); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to steward.toml (default: search upward from cwd)")
	rootCmd.PersistentFlags().String("db", "", "Database path (overrides config)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.StartCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.BudgetCmd)
	rootCmd.AddCommand(commands.ActionsCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
