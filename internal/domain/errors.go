package domain

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for the inference pipeline. Backend failures are
// always intercepted at the backend boundary and converted into a
// fallback-provenance prediction before they reach the aggregator.
var (
	// ErrModelUnavailable means a local model failed to load or
	// initialize. Recoverable via the fallback rule engine.
	ErrModelUnavailable = errors.New("local model unavailable")

	// ErrRemoteUnavailable means every configured remote credential
	// was exhausted. Recoverable via the fallback rule engine and
	// retried per-request; never cached as a permanent failure.
	ErrRemoteUnavailable = errors.New("remote inference unavailable")

	// ErrMalformedResponse means the remote response was not valid
	// JSON after extraction. Treated like ErrRemoteUnavailable.
	ErrMalformedResponse = errors.New("malformed remote response")

	// ErrNotFound is returned by stores for missing records.
	ErrNotFound = errors.New("not found")
)

// Error codes for API-level failure reporting.
const (
	ErrCodeModelUnavailable  = "MODEL_UNAVAILABLE"
	ErrCodeRemoteUnavailable = "REMOTE_INFERENCE_UNAVAILABLE"
	ErrCodeMalformedResponse = "MALFORMED_RESPONSE"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeStoreError        = "STORE_ERROR"
	ErrCodeInternal          = "INTERNAL_ERROR"
)

// AnalysisError is a coded error carried across the API boundary.
type AnalysisError struct {
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
}

// Error implements the error interface.
func (e *AnalysisError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewAnalysisError creates a coded error with a UTC timestamp.
func NewAnalysisError(code, message, details, requestID string) *AnalysisError {
	return &AnalysisError{
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
		RequestID: requestID,
	}
}
