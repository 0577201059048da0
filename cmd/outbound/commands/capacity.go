package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/schedule"
	"github.com/smtaidev/outbound/timenorm"
)

// CapacityCmd previews how many calls fit in the window and what they cost
var CapacityCmd = &cobra.Command{
	Use:   "capacity",
	Short: "Preview call capacity and estimated cost for a calling window",
	Long: `Compute how many calls fit between the window start and end, and what
they would cost at the configured per-minute rates.

  total_calls = floor((end - start) / (duration + gap)) * batch
  cost        = combined_rate * total_calls * duration / 60

Window values default to schedule.default_* in the configuration.

Examples:
  outbound capacity
  outbound capacity --start 09:00 --end 17:00 --duration 300 --gap 10 --batch 5
  outbound capacity --numbers 120   # price only the numbers in the file`,
	RunE: runCapacity,
}

// CostCmd prices an arbitrary number of calls
var CostCmd = &cobra.Command{
	Use:   "cost <calls> <duration-seconds>",
	Short: "Estimate the cost of a number of calls",
	Args:  cobra.ExactArgs(2),
	RunE:  runCost,
}

var (
	capacityFlags   scheduleFlags
	capacityNumbers int64
)

func init() {
	capacityFlags.register(CapacityCmd)
	CapacityCmd.Flags().Int64Var(&capacityNumbers, "numbers", -1, "Count of dialable numbers; caps the priced calls")
	CapacityCmd.Flags().Bool("json", false, "Output as JSON")
	CostCmd.Flags().Bool("json", false, "Output as JSON")
}

func runCapacity(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	session, err := newSession(cfg, &capacityFlags)
	if err != nil {
		return err
	}
	if capacityNumbers >= 0 {
		session.RecordNumberCount("", capacityNumbers)
	}

	est := budget.NewEstimator(budget.RatesFromConfig(cfg.Rates))
	proj := session.Projection(est)
	summary := est.Summarize(proj.EffectiveCalls, float64(proj.CallDuration))
	validErr := session.Validate()

	if display.ShouldOutputJSON(cmd) {
		out := map[string]interface{}{"projection": proj, "summary": summary, "valid": validErr == nil}
		if validErr != nil {
			out["problem"] = validErr.Error()
		}
		return display.OutputJSON(out)
	}

	norm := session.Normalizer()
	if validErr != nil {
		display.Warning("%v", validErr)
		for _, h := range errors.GetAllHints(validErr) {
			display.Info("%s", h)
		}
	}
	return renderProjection(norm, proj, summary)
}

func renderProjection(norm *timenorm.Normalizer, p schedule.Projection, s budget.Summary) error {
	pairs := [][2]string{
		{"Window", fmt.Sprintf("%s - %s (%s)", p.CallStart, p.CallEnd, norm.Location())},
		{"Starts", norm.FormatDateTime(p.CallStartTime)},
		{"Call duration", fmt.Sprintf("%ds", p.CallDuration)},
		{"Call gap", fmt.Sprintf("%ds", p.CallGap)},
		{"Batch size", strconv.Itoa(p.BatchNumber)},
		{"Capacity", strconv.FormatInt(p.TotalCalls, 10)},
	}
	if p.NumberCount != nil {
		pairs = append(pairs,
			[2]string{"Numbers", strconv.FormatInt(*p.NumberCount, 10)},
			[2]string{"Calls priced", strconv.FormatInt(p.EffectiveCalls, 10)})
	}
	pairs = append(pairs,
		[2]string{"Rate", fmt.Sprintf("$%.3f/min", s.CombinedRate)},
		[2]string{"Estimated cost", budget.FormatUSD(p.EstimatedCost)})
	if s.Formula != "" {
		pairs = append(pairs, [2]string{"Formula", s.Formula})
	}
	return display.KeyValues(pairs)
}

func runCost(cmd *cobra.Command, args []string) error {
	calls, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || calls < 0 {
		return errors.NewInvalidInputError("calls must be a non-negative integer, got %q", args[0])
	}
	duration, err := timenorm.NormalizeDuration(args[1])
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	est := budget.NewEstimator(budget.RatesFromConfig(cfg.Rates))
	summary := est.Summarize(calls, float64(duration))

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(summary)
	}
	return display.KeyValues([][2]string{
		{"Calls", strconv.FormatInt(summary.Calls, 10)},
		{"Minutes", fmt.Sprintf("%.1f", summary.TotalMinutes)},
		{"Rate", fmt.Sprintf("$%.3f/min", summary.CombinedRate)},
		{"Estimated cost", budget.FormatUSD(summary.TotalCost)},
	})
}
