package engine

import (
	"errors"
	"fmt"

	"github.com/support934/smartgecode-saas/internal/intake"
)

// ValidationError reports bad input: an unreadable or empty upload, a
// missing column, or an empty lookup address.
type ValidationError = intake.ValidationError

// QuotaExceededError is returned when a request needs more lookups than the
// caller has left this month.
type QuotaExceededError struct {
	Used      int
	Limit     int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Monthly lookup limit reached: %d of %d used, %d requested", e.Used, e.Limit, e.Requested)
}

var (
	// ErrNotRunning is returned when cancelling a job that already finished.
	ErrNotRunning = errors.New("engine: job is not running")

	// ErrClosed is returned for submissions after Shutdown.
	ErrClosed = errors.New("engine: shutting down")

	errCancelled = errors.New("cancelled")
	errShutdown  = errors.New("shutdown")
)

func invalid(msg string) error {
	return &ValidationError{Message: msg}
}
