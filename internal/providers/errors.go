package providers

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TransientError marks a provider failure that is safe to retry with
// backoff (network failure, timeout, 5xx)
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: transient provider error: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// NonRetryableError marks a provider failure that will not resolve on
// retry (conflict, invalid input, ownership)
type NonRetryableError struct {
	Op     string
	Reason string
	Err    error
}

func (e *NonRetryableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *NonRetryableError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried with backoff
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsNonRetryable reports whether err classifies as permanent
func IsNonRetryable(err error) bool {
	var ne *NonRetryableError
	return errors.As(err, &ne)
}

// classifyHTTPError maps transport-level failures and response codes into
// the taxonomy. Timeouts and 5xx are transient; 4xx are permanent.
func classifyHTTPError(op string, statusCode int, err error) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return &TransientError{Op: op, Err: err}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return &TransientError{Op: op, Err: err}
		}
		return &TransientError{Op: op, Err: err}
	}
	if statusCode >= 500 || statusCode == 429 {
		return &TransientError{Op: op, Err: fmt.Errorf("status %d", statusCode)}
	}
	return &NonRetryableError{Op: op, Reason: fmt.Sprintf("status %d", statusCode)}
}
