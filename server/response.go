package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/smtaidev/outbound/errors"
)

// maxUploadBytes bounds multipart number-file uploads
const maxUploadBytes = 32 << 20

// ErrorResponse is the JSON body of every failed request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Hints   []string `json:"hints,omitempty"`
	Details []string `json:"details,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, ErrorResponse{Error: message})
}

// writeErrorFrom maps a domain error onto a status code and writes it with
// any hints and details attached to it
func writeErrorFrom(w http.ResponseWriter, err error) {
	_ = writeJSON(w, statusFor(err), ErrorResponse{
		Error:   err.Error(),
		Hints:   errors.GetAllHints(err),
		Details: errors.GetAllDetails(err),
	})
}

func statusFor(err error) int {
	switch {
	case errors.IsAny(err, errors.ErrValidation, errors.ErrInvalidInput, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.IsAny(err, errors.ErrConflict, errors.ErrSuperseded):
		return http.StatusConflict
	case errors.Is(err, errors.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, errors.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errors.ErrTransport):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// readJSON reads and decodes a JSON request body
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return err
	}
	return nil
}

// requireMethods checks if the request method matches one of the expected methods
func requireMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, method := range methods {
		if r.Method == method {
			return true
		}
	}
	writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	return false
}

// queryInt reads a positive integer query parameter, falling back to def
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.NewInvalidRequestError("%s must be a positive integer, got %q", key, raw)
	}
	return n, nil
}
