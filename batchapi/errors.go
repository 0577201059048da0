package batchapi

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/smtaidev/outbound/errors"
)

// TransportError describes a failed exchange with the remote batch API.
// It wraps errors.ErrTransport so callers can match it with errors.Is.
type TransportError struct {
	Op         string
	StatusCode int // 0 when no response was received
	Retryable  bool
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// newStatusError builds a TransportError from a non-2xx response
func newStatusError(op string, status int, body []byte) *TransportError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return &TransportError{
		Op:         op,
		StatusCode: status,
		Retryable:  status >= http.StatusInternalServerError || status == http.StatusTooManyRequests,
		Err:        errors.Wrapf(errors.ErrTransport, "unexpected status: %s", msg),
	}
}

// newRequestError builds a TransportError from a failed round trip
func newRequestError(op string, cause error) *TransportError {
	return &TransportError{
		Op:        op,
		Retryable: isRetryableError(cause),
		Err:       errors.WithSecondaryError(errors.Wrap(errors.ErrTransport, cause.Error()), cause),
	}
}

// newDecodeError reports a response body that did not match the contract
func newDecodeError(op string, status int, cause error) *TransportError {
	return &TransportError{
		Op:         op,
		StatusCode: status,
		Err:        errors.WithSecondaryError(errors.Wrap(errors.ErrTransport, "malformed response"), cause),
	}
}

// IsRetryable reports whether err is a TransportError worth retrying
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Retryable
}

// isRetryableError checks if a round-trip error is network-related
func isRetryableError(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var errno syscall.Errno
		if errors.As(opErr.Err, &errno) {
			switch errno {
			case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.ETIMEDOUT:
				return true
			}
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection reset by peer",
		"connection refused",
		"timeout",
		"temporary failure",
		"network is unreachable",
		"eof",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
