package reconstruction

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled marks a reconstruction stopped by its caller
	ErrCancelled = errors.New("reconstruction cancelled")

	// ErrInvalidRequest marks malformed request parameters
	ErrInvalidRequest = errors.New("invalid reconstruction request")

	// ErrClosed is returned for requests submitted after Close
	ErrClosed = errors.New("engine closed")
)

// InsufficientDataError is returned when the volume is too small along the
// axis a reconstruction needs
type InsufficientDataError struct {
	Kind   Kind
	Reason string
	Have   int
	Need   int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data for %s: %s (have %d, need %d)", e.Kind, e.Reason, e.Have, e.Need)
}

// OutOfMemoryError is returned when a reconstruction's working set would
// exceed the configured limit. Retrying with Request.Downsample set to
// SuggestedDownsample brings it within the limit.
type OutOfMemoryError struct {
	Required            int64
	Limit               int64
	SuggestedDownsample int
}

func (e *OutOfMemoryError) Error() string {
	return fmt.Sprintf("reconstruction needs %d bytes, limit is %d bytes; retry with downsample factor %d",
		e.Required, e.Limit, e.SuggestedDownsample)
}

// Retryable reports that the request can succeed with a smaller volume
func (e *OutOfMemoryError) Retryable() bool { return true }

// CancelledError reports where a reconstruction stopped
type CancelledError struct {
	RequestID string
	Percent   float64
	Cause     error
}

func (e *CancelledError) Error() string {
	msg := fmt.Sprintf("reconstruction %s cancelled at %.0f%%", e.RequestID, e.Percent)
	if e.Cause != nil && !errors.Is(e.Cause, ErrCancelled) {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both ErrCancelled and the underlying cause
func (e *CancelledError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrCancelled}
	}
	return []error{ErrCancelled, e.Cause}
}

// IsRetryable reports whether err is a resource failure worth retrying
func IsRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
