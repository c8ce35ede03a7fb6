package api

import (
	"errors"
	"fmt"
	"time"
)

// TimeoutError is returned when an executor abandons an Operation that
// exceeded its timeout. The underlying call is cancelled best-effort;
// the socket or process may linger briefly after the error is reported.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s: %s", e.Timeout, e.Op)
}

// IsTimeout reports whether err is (or wraps) an executor timeout.
func IsTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

// OpError wraps a lower-level failure (connection refused, DNS, broken
// pipe, process spawn failure) with the operation it belongs to, so
// workflow errors name the call that failed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *OpError) Unwrap() error {
	return e.Err
}
