// Package notify tells the outside world that a batch job finished.
package notify

import (
	"context"
	"errors"
	"time"
)

// Event describes a finished job.
type Event struct {
	JobID         string    `json:"job_id"`
	UserID        int64     `json:"user_id"`
	OwnerEmail    string    `json:"email"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Notifier delivers completion events. Delivery failures are returned but
// never affect the job.
type Notifier interface {
	JobCompleted(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) JobCompleted(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) JobCompleted(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if err := n.JobCompleted(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
