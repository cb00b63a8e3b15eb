// Package errors provides standardized error handling for the dispatch pipeline.
package errors

import (
	"fmt"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Caller-facing validation failures, surfaced before any I/O.
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// Job-level failures seen by the worker pool.
	ErrCodeMalformedJob     ErrorCode = "MALFORMED_JOB"
	ErrCodeAllBatchesFailed ErrorCode = "ALL_BATCHES_FAILED"

	// Gateway classification.
	ErrCodeGatewayTransient ErrorCode = "GATEWAY_TRANSIENT"
	ErrCodeGatewayTimeout   ErrorCode = "GATEWAY_TIMEOUT"
	ErrCodeTokenInvalid     ErrorCode = "TOKEN_INVALID"

	// Cleanup path, always swallowed.
	ErrCodeReconciliationFailed ErrorCode = "RECONCILIATION_FAILED"

	// Infrastructure.
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeEnqueueFailed            ErrorCode = "ENQUEUE_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. Error Constructors
// ==========================

// NewValidationError creates a non-retryable caller input error.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Request validation failed",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedJobError creates a non-retryable job structure error.
// Retrying cannot fix bad data, so the job goes straight to the dead set.
func NewMalformedJobError(jobID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedJob,
		Message:   "Dequeued job failed structural validation",
		Details:   details,
		Retryable: false,
		Metadata:  map[string]interface{}{"jobId": jobID},
		Timestamp: time.Now().UTC(),
	}
}

// NewAllBatchesFailedError creates a retryable whole-job failure.
func NewAllBatchesFailedError(jobID string, failedBatches int) *StandardError {
	return &StandardError{
		Code:      ErrCodeAllBatchesFailed,
		Message:   "Every batch in the job failed",
		Details:   fmt.Sprintf("failedBatches: %d", failedBatches),
		Retryable: true,
		Metadata:  map[string]interface{}{"jobId": jobID},
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayTransientError creates a per-batch transient gateway error.
func NewGatewayTransientError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayTransient,
		Message:   "Push gateway call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewGatewayTimeoutError creates a per-batch timeout error, treated as transient.
func NewGatewayTimeoutError(timeout time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeGatewayTimeout,
		Message:   "Push gateway call timed out",
		Details:   fmt.Sprintf("timeout: %s", timeout),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewReconciliationError creates an error for the token cleanup path.
// It is logged and swallowed, never propagated to the job outcome.
func NewReconciliationError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeReconciliationFailed,
		Message:   "Invalid token removal failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryExecutionFailedError creates a retryable query execution error.
func NewQueryExecutionFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewEnqueueFailedError creates a retryable queue insertion error.
func NewEnqueueFailedError(queue string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeEnqueueFailed,
		Message:   "Queue insertion failed",
		Details:   fmt.Sprintf("queue: %s, error: %s", queue, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}
