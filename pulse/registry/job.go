package registry

import (
	"strconv"

	"github.com/smtaidev/outbound/batchapi"
)

// Sortable column keys, matching the listing's JSON names
const (
	FieldJobID                = "job_id"
	FieldStatus               = "status"
	FieldCallingTo            = "calling_to"
	FieldTotalNumbers         = "total_numbers"
	FieldSubmittedBatches     = "submitted_batches"
	FieldStartTime            = "start_time"
	FieldEndTime              = "end_time"
	FieldEstimatedCost        = "estimated_cost"
	FieldEstimatedEndingTime  = "estimated_ending_time"
	FieldCompleted            = "completed"
	FieldCallDuration         = "call_duration"
	FieldTotalCallsCompleted  = "total_calls_completed"
	FieldCostOfCompletedCalls = "cost_of_completed_calls"
)

// Fields lists every sortable column
var Fields = []string{
	FieldJobID, FieldStatus, FieldCallingTo, FieldTotalNumbers, FieldSubmittedBatches,
	FieldStartTime, FieldEndTime, FieldEstimatedCost, FieldEstimatedEndingTime,
	FieldCompleted, FieldCallDuration, FieldTotalCallsCompleted, FieldCostOfCompletedCalls,
}

// CostModel derives the completed-call cost of a listed job
type CostModel interface {
	CompletedCallsCost(calls int64, callDuration *float64) float64
}

// JobRow is a listed job plus the locally derived columns
type JobRow struct {
	batchapi.BatchJob
	TotalCallsCompleted  int64   `json:"total_calls_completed"`
	CostOfCompletedCalls float64 `json:"cost_of_completed_calls"`
}

// NewJobRow derives the completed-call columns for a job. Completed calls are
// taken to be every number in the job, which overstates spend for jobs with
// unanswered or failed numbers.
func NewJobRow(job batchapi.BatchJob, cost CostModel) JobRow {
	row := JobRow{BatchJob: job, TotalCallsCompleted: job.TotalNumbers}
	row.CostOfCompletedCalls = cost.CompletedCallsCost(row.TotalCallsCompleted, job.CallDuration)
	return row
}

// Field returns the value of a column for sorting. Numeric columns yield
// float64, everything else a string, and absent values nil.
func (r JobRow) Field(key string) any {
	switch key {
	case FieldJobID:
		return r.JobID
	case FieldStatus:
		return string(r.Status)
	case FieldCallingTo:
		return r.CallingTo
	case FieldTotalNumbers:
		return float64(r.TotalNumbers)
	case FieldSubmittedBatches:
		return float64(r.SubmittedBatches)
	case FieldStartTime:
		return optString(r.StartTime)
	case FieldEndTime:
		return optString(r.EndTime)
	case FieldEstimatedCost:
		return r.EstimatedCost
	case FieldEstimatedEndingTime:
		return optString(r.EstimatedEndingTime)
	case FieldCompleted:
		return strconv.FormatBool(r.Completed)
	case FieldCallDuration:
		if r.CallDuration == nil {
			return nil
		}
		return *r.CallDuration
	case FieldTotalCallsCompleted:
		return float64(r.TotalCallsCompleted)
	case FieldCostOfCompletedCalls:
		return r.CostOfCompletedCalls
	}
	return nil
}

func optString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// IsField reports whether key names a sortable column
func IsField(key string) bool {
	for _, f := range Fields {
		if f == key {
			return true
		}
	}
	return false
}

// Filter selects rows for display and aggregation
type Filter func(JobRow) bool

// CompletedOnly keeps jobs the remote service reports as completed
func CompletedOnly(r JobRow) bool {
	return r.Status == batchapi.StatusCompleted
}

// AllJobs keeps every row
func AllJobs(JobRow) bool { return true }

// FilterByName maps a filter name to a Filter
func FilterByName(name string) (Filter, bool) {
	switch name {
	case "", "completed":
		return CompletedOnly, true
	case "all":
		return AllJobs, true
	case "pending":
		return func(r JobRow) bool { return r.Status == batchapi.StatusPending }, true
	case "failed":
		return func(r JobRow) bool { return r.Status == batchapi.StatusFailed }, true
	}
	return nil, false
}
