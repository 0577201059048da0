package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/smtaidev/outbound/am"
	"github.com/smtaidev/outbound/display"
	"github.com/smtaidev/outbound/errors"
	"github.com/smtaidev/outbound/logger"
	"github.com/smtaidev/outbound/pulse/budget"
	"github.com/smtaidev/outbound/pulse/registry"
)

// JobsCmd lists remote batch jobs with their derived completed-call cost
var JobsCmd = &cobra.Command{
	Use:     "jobs",
	Aliases: []string{"ls"},
	Short:   "List remote batch jobs and their completed-call cost",
	Long: `List batch jobs from the remote service. Only completed jobs are shown
unless --filter says otherwise. The completed-call cost of each job is
derived locally and summed over the shown rows.

Sortable fields: ` + strings.Join(registry.Fields, ", ") + `

Examples:
  outbound jobs
  outbound jobs --page 2
  outbound jobs --sort estimated_cost --dir desc
  outbound jobs --filter all --all-pages`,
	RunE: runJobs,
}

var (
	jobsPage     int
	jobsSort     string
	jobsDir      string
	jobsFilter   string
	jobsAllPages bool
)

func init() {
	JobsCmd.Flags().IntVarP(&jobsPage, "page", "p", 1, "Page to load")
	JobsCmd.Flags().StringVar(&jobsSort, "sort", "", "Field to sort by")
	JobsCmd.Flags().StringVar(&jobsDir, "dir", "asc", "Sort direction: asc or desc")
	JobsCmd.Flags().StringVar(&jobsFilter, "filter", "completed", "Rows to show: completed, pending, failed or all")
	JobsCmd.Flags().BoolVar(&jobsAllPages, "all-pages", false, "Walk every page and aggregate over all of them")
	JobsCmd.Flags().Bool("json", false, "Output as JSON")
}

func runJobs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := registry.OptionsFromConfig(cfg.Registry)
	if jobsAllPages {
		opts.Scope = am.ScopeAll
	}
	est := budget.NewEstimator(budget.RatesFromConfig(cfg.Rates))
	reg := registry.New(newClient(cfg), est, opts)

	filter, ok := registry.FilterByName(jobsFilter)
	if !ok {
		return errors.NewInvalidRequestError("unknown filter %q", jobsFilter)
	}
	reg.SetFilter(filter)
	if jobsSort != "" {
		dir, ok := registry.ParseDirection(jobsDir)
		if !ok {
			return errors.NewInvalidRequestError("unknown sort direction %q", jobsDir)
		}
		if err := reg.SetSort(jobsSort, dir); err != nil {
			return errors.WithHint(err, "sortable fields: "+strings.Join(registry.Fields, ", "))
		}
	}

	view, err := reg.Load(cmd.Context(), jobsPage)
	if err != nil {
		return err
	}

	if display.ShouldOutputJSON(cmd) {
		return display.OutputJSON(view)
	}
	return renderJobs(view, verbosity(cmd))
}

func renderJobs(v *registry.View, verbosity int) error {
	if len(v.Jobs) == 0 {
		display.Info("No jobs on page %d of %d", v.Page, v.TotalPages)
		return nil
	}

	header := []string{"Job", "Status", "Calling to", "Numbers", "Batches", "Start", "End", "Est. cost", "Completed calls", "Completed cost"}
	rows := make([][]string, 0, len(v.Jobs))
	for _, j := range v.Jobs {
		rows = append(rows, []string{
			j.JobID,
			string(j.Status),
			j.CallingToLabel(),
			strconv.FormatInt(j.TotalNumbers, 10),
			strconv.FormatInt(j.SubmittedBatches, 10),
			orDash(j.StartTime),
			orDash(j.EndTime),
			budget.FormatUSD(j.EstimatedCost),
			strconv.FormatInt(j.TotalCallsCompleted, 10),
			budget.FormatUSD(j.CostOfCompletedCalls),
		})
	}
	if err := display.Table(header, rows); err != nil {
		return err
	}

	if logger.DetailProgress.Shows(verbosity) {
		scope := fmt.Sprintf("page %d of %d", v.Page, v.TotalPages)
		if v.Scope == am.ScopeAll {
			scope = fmt.Sprintf("all %d pages", v.TotalPages)
		}
		display.Info("%d of %d loaded jobs shown (%s, %d total)", len(v.Jobs), v.Loaded, scope, v.TotalJobs)
	}
	display.Success("Total cost of completed calls: %s", budget.FormatUSD(v.AggregateCost))
	return nil
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
