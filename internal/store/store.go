// Package store persists batch jobs, users, and monthly lookup counters.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/support934/smartgecode-saas/internal/model"
	"github.com/support934/smartgecode-saas/internal/quota"
)

// ErrNotFound is returned when a job or user does not exist, or a job
// exists but belongs to someone else.
var ErrNotFound = errors.New("store: not found")

// JobStore persists batch jobs. A job row is written only by the task
// running it; UpdateProgress writes processed_rows and results together so
// readers never see one without the other.
type JobStore interface {
	CreateJob(ctx context.Context, in model.NewJob) (*model.Job, error)
	UpdateProgress(ctx context.Context, jobID string, processed int, results string) error
	Finalize(ctx context.Context, jobID string, status model.JobStatus, processed int, results, reason string) error
	GetJob(ctx context.Context, jobID, ownerEmail string) (*model.Job, error)
	ListJobs(ctx context.Context, ownerEmail string) ([]model.JobSummary, error)
	ListResumable(ctx context.Context) ([]model.Job, error)
}

// UserStore reads the user records owned by the account service.
type UserStore interface {
	UserByToken(ctx context.Context, token string) (int64, error)
	SubscriptionTier(ctx context.Context, userID int64) (string, error)
}

// Store is everything the service persists.
type Store interface {
	JobStore
	UserStore
	quota.Store

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// HashToken returns the stored form of an API token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
