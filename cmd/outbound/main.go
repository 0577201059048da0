package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/cmd/outbound/commands"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
)

var rootCmd = &cobra.Command{
	Use:   "outbound",
	Short: "outbound - Schedule and price outbound AI call batches",
	Long: `outbound - Scheduling and cost control for outbound AI call batches.

Plan a calling window, see how many calls fit and what they cost, submit
number files to the remote batch service and review past jobs.

Available commands:
  am       - Manage outbound configuration
  capacity - Preview call capacity and estimated cost for a window
  cost     - Estimate the cost of a number of calls
  count    - Count dialable numbers in a file
  submit   - Submit a number file for the calling window
  jobs     - List remote batch jobs with completed-call cost
  history  - Show the local submission ledger
  budget   - Show spend against the configured limits
  watch    - Wait for the calling window to end
  serve    - Run the dashboard API and window watcher

Examples:
  outbound capacity --start 09:00 --end 17:00   # How many calls fit today
  outbound submit leads.csv --dry-run           # Validate and price a file
  outbound jobs --sort estimated_cost --dir desc
  outbound serve                                # Start the dashboard API`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logJSON := os.Getenv("OUTBOUND_LOG_JSON") != ""
		if err := logger.InitializeWithVerbosity(logJSON, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().String("config", "", "Read configuration from this file only (skips the cascade)")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.CapacityCmd)
	rootCmd.AddCommand(commands.CostCmd)
	rootCmd.AddCommand(commands.CountCmd)
	rootCmd.AddCommand(commands.SubmitCmd)
	rootCmd.AddCommand(commands.JobsCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.BudgetCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		pterm.Error.Println(err.Error())
		for _, hint := range errors.GetAllHints(err) {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}
