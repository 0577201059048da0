package logger

import (
	"context"

	"go.uber.org/zap"
)

// Field names shared by every component
const (
	FieldJobID        = "job_id"
	FieldRequestID    = "request_id"
	FieldSubmissionID = "submission_id"
	FieldFingerprint  = "fingerprint"
	FieldComponent    = "component"

	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldAttempt   = "attempt"

	FieldDurationMS = "duration_ms"
	FieldWindowEnd  = "window_end"
	FieldGeneration = "generation"
	FieldTimezone   = "timezone"

	FieldError      = "error"
	FieldStatusCode = "status_code"

	FieldPage  = "page"
	FieldLimit = "limit"
	FieldScope = "scope"

	FieldCalls         = "calls"
	FieldCount         = "count"
	FieldEstimatedCost = "estimated_cost"
	FieldBatchNumber   = "batch_number"

	FieldStatus  = "status"
	FieldState   = "state"
	FieldFile    = "file"
	FieldAddress = "address"
)

type ctxKey int

const requestIDKey ctxKey = 0

// WithRequestID tags ctx with the id of the HTTP request serving it
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the id set by WithRequestID, or ""
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// FromContext returns base tagged with the request id carried by ctx.
// A nil base falls back to the global Logger.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	if id := RequestID(ctx); id != "" {
		return base.With(FieldRequestID, id)
	}
	return base
}

// ComponentLogger names a logger after the component holding it
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
