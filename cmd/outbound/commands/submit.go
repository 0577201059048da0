package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/pulse/submission"
)

// SubmitCmd sends a number file and the calling window to the remote service
var SubmitCmd = &cobra.Command{
	Use:   "submit <number-file>",
	Short: "Submit a batch of numbers for the calling window",
	Long: `Submit a CSV or XLSX number file with the calling window.

The window is validated, priced and checked against spend limits and the
submission rate before anything is sent. An identical submission (same
window and file) inside the duplicate window is refused.

Examples:
  outbound submit leads.csv
  outbound submit leads.csv --start 10:00 --end 14:00 --batch 3
  outbound submit leads.csv --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

// CountCmd counts dialable numbers in a file using the remote counter
var CountCmd = &cobra.Command{
	Use:   "count <number-file>",
	Short: "Count dialable numbers in a file and price the window for them",
	Args:  cobra.ExactArgs(1),
	RunE:  runCount,
}

// HistoryCmd lists the local submission ledger
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent submissions from the local ledger",
	RunE:  runHistory,
}

// BudgetCmd shows spend against the configured limits
var BudgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show estimated spend against daily, weekly and monthly limits",
	RunE:  runBudget,
}

var (
	submitFlags  scheduleFlags
	submitDryRun bool
	submitCount  bool
	countFlags   scheduleFlags
	historyLimit int
)

func init() {
	submitFlags.register(SubmitCmd)
	SubmitCmd.Flags().BoolVar(&submitDryRun, "dry-run", false, "Validate and price without submitting")
	SubmitCmd.Flags().BoolVar(&submitCount, "count", false, "Count numbers first so only they are priced")
	SubmitCmd.Flags().Bool("json", false, "Output as JSON")

	countFlags.register(CountCmd)
	CountCmd.Flags().Bool("json", false, "Output as JSON")

	HistoryCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Entries to show")
	HistoryCmd.Flags().Bool("json", false, "Output as JSON")

	BudgetCmd.Flags().Bool("json", false, "Output as JSON")
}

func readNumberFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithHint(errors.Wrapf(err, "failed to read %s", path),
			"pass the path of a CSV or XLSX file with one number per row")
	}
	return data, nil
}

// newSubmissionService wires the ledger, limits and remote client
func newSubmissionService(cfg *am.Config, session *schedule.Session) (*submission.Service, func(), error) {
	database, err := openDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	svc := submission.NewService(submission.Options{
		Session:     session,
		Estimator:   budget.NewEstimator(budget.RatesFromConfig(cfg.Rates)),
		Client:      newClient(cfg),
		Store:       submission.NewStore(database),
		Tracker:     budget.NewTracker(database, budget.LimitsFromConfig(cfg.Budget)),
		Limiter:     budget.LimiterFromConfig(cfg.Budget),
		DedupWindow: time.Duration(cfg.Budget.DedupWindowSeconds) * time.Second,
		Logger:      logger.ComponentLogger("submission"),
	})
	return svc, func() { database.Close() }, nil
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	session, err := newSession(cfg, &submitFlags)
	if err != nil {
		return err
	}
	data, err := readNumberFile(args[0])
	if err != nil {
		return err
	}
	name := filepath.Base(args[0])

	if submitCount {
		resp, err := newClient(cfg).CountNumbers(cmd.Context(), name, data)
		if err != nil {
			return err
		}
		session.RecordNumberCount(schedule.FileKey(data), resp.Count)
	}

	svc, closeDB, err := newSubmissionService(cfg, session)
	if err != nil {
		return err
	}
	defer closeDB()

	if submitDryRun {
		if err := session.Validate(); err != nil {
			return err
		}
		q := svc.Quote(data)
		if display.ShouldOutputJSON(cmd) {
			return display.OutputJSON(q)
		}
		display.Info("Dry run: nothing was submitted")
		return renderQuote(session, q)
	}

	var spinner *pterm.SpinnerPrinter
	if !display.ShouldOutputJSON(cmd) {
		spinner, _ = pterm.DefaultSpinner.Start("Submitting batch...")
	}
	result, err := svc.Submit(cmd.Context(), submission.Request{FileName: name, File: data})
	if spinner != nil {
		_ = spinner.Stop()
	}
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(result)
	}
	display.Success("Batch accepted: job %s", result.JobID)
	if result.Message != "" {
		display.Info("%s", result.Message)
	}
	return renderQuote(session, svc.Quote(data))
}

func renderQuote(session *schedule.Session, q submission.Quote) error {
	norm := session.Normalizer()
	pairs := [][2]string{
		{"Window", fmt.Sprintf("%s - %s", norm.FormatDateTime(q.Config.CallStartTime), norm.FormatTimeOfDay(q.Config.CallEndTime))},
		{"Calls", strconv.FormatInt(q.Calls, 10)},
	}
	if q.NumberCount != nil {
		pairs = append(pairs, [2]string{"Numbers", strconv.FormatInt(*q.NumberCount, 10)})
	}
	pairs = append(pairs, [2]string{"Estimated cost", budget.FormatUSD(q.EstimatedCost)})
	return display.KeyValues(pairs)
}

func runCount(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	session, err := newSession(cfg, &countFlags)
	if err != nil {
		return err
	}
	data, err := readNumberFile(args[0])
	if err != nil {
		return err
	}

	resp, err := newClient(cfg).CountNumbers(cmd.Context(), filepath.Base(args[0]), data)
	if err != nil {
		return err
	}
	session.RecordNumberCount(schedule.FileKey(data), resp.Count)

	est := budget.NewEstimator(budget.RatesFromConfig(cfg.Rates))
	proj := session.Projection(est)
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{"count": resp, "projection": proj})
	}
	display.Success("%s: %d numbers", resp.Filename, resp.Count)
	return renderProjection(session.Normalizer(), proj, est.Summarize(proj.EffectiveCalls, float64(proj.CallDuration)))
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	records, err := submission.NewStore(database).List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(records)
	}
	if len(records) == 0 {
		display.Info("No submissions recorded yet")
		return nil
	}

	rows := make([][]string, 0, len(records))
	for _, r := range records {
		job := r.RemoteJobID
		if r.Status == submission.StatusFailed {
			job = pterm.Red(r.ErrorMessage)
		}
		rows = append(rows, []string{
			r.SubmittedAt.Local().Format("2006-01-02 15:04"),
			string(r.Status),
			r.FileName,
			strconv.FormatInt(r.TotalCalls, 10),
			budget.FormatUSD(r.EstimatedCost),
			job,
		})
	}
	return display.Table([]string{"Submitted", "Status", "File", "Calls", "Est. cost", "Job"}, rows)
}

func runBudget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	database, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	tracker := budget.NewTracker(database, budget.LimitsFromConfig(cfg.Budget))
	status, err := tracker.GetStatus(cmd.Context())
	if err != nil {
		return err
	}
	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(map[string]interface{}{"status": status, "limits": tracker.Limits()})
	}

	limits := tracker.Limits()
	row := func(period string, spend, remaining, limit float64, n int) []string {
		lim, rem := "none", "-"
		if limit > 0 {
			lim, rem = budget.FormatUSD(limit), budget.FormatUSD(remaining)
		}
		return []string{period, budget.FormatUSD(spend), lim, rem, strconv.Itoa(n)}
	}
	return display.Table([]string{"Period", "Spend", "Limit", "Remaining", "Submissions"}, [][]string{
		row("Day", status.DailySpend, status.DailyRemaining, limits.DailyUSD, status.DailySubmissions),
		row("Week", status.WeeklySpend, status.WeeklyRemaining, limits.WeeklyUSD, status.WeeklySubmissions),
		row("Month", status.MonthlySpend, status.MonthlyRemaining, limits.MonthlyUSD, status.MonthlySubmissions),
	})
}
