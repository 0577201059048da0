package batchapi

import "strings"

// JobStatus is the remote lifecycle state of a batch job
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
)

// BatchJob is one job as reported by the listing endpoint.
// The remote service owns these records; the scheduler only reads them.
type BatchJob struct {
	JobID               string    `json:"job_id"`
	Status              JobStatus `json:"status"`
	CallingTo           string    `json:"calling_to"`
	TotalNumbers        int64     `json:"total_numbers"`
	SubmittedBatches    int64     `json:"submitted_batches"`
	StartTime           *string   `json:"start_time"`
	EndTime             *string   `json:"end_time"`
	EstimatedCost       float64   `json:"estimated_cost"`
	EstimatedEndingTime *string   `json:"estimated_ending_time"`
	Completed           bool      `json:"completed"`
	CallDuration        *float64  `json:"call_duration,omitempty"`
}

// CallingToLabel strips the file extension from the uploaded number file name
func (j BatchJob) CallingToLabel() string {
	label, _, _ := strings.Cut(j.CallingTo, ".")
	return label
}

// JobPage is one page of the job listing
type JobPage struct {
	Page       int        `json:"page"`
	Limit      int        `json:"limit"`
	TotalJobs  int        `json:"total_jobs"`
	TotalPages int        `json:"total_pages"`
	Jobs       []BatchJob `json:"jobs"`
}

// SubmitRequest carries the schedule window and number file for one batch submission.
// The end of the window is not part of the remote contract.
type SubmitRequest struct {
	StartingTime    int64
	CallDuration    int64
	CallGap         int64
	NumbersPerBatch int
	ServiceID       string
	FileName        string
	File            []byte
}

// SubmitResponse is the remote acknowledgement of a submission
type SubmitResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id"`
	Message string `json:"message"`
}

// CountResponse is the number-counting endpoint's reply
type CountResponse struct {
	Success  bool   `json:"success"`
	Count    int64  `json:"count"`
	Filename string `json:"filename"`
	Error    string `json:"error,omitempty"`
}

// agentsResponse is the agent directory reply; the service id sits at data.data[0]
type agentsResponse struct {
	Data struct {
		Data []struct {
			ServiceID string `json:"serviceId"`
		} `json:"data"`
	} `json:"data"`
}
