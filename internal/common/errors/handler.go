package errors

import (
	stderrors "errors"
	"time"
)

// Normalize ensures we always have a StandardError. Unknown errors become
// non-retryable INTERNAL_ERROR so a data defect never loops in the queue.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr
	}
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// IsRetryable reports whether the queue should schedule another attempt
// for a job that failed with err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Normalize(err).Retryable
}

// CodeOf extracts the error code, INTERNAL_ERROR for unclassified errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	return Normalize(err).Code
}
