package model

import "time"

// JobStatus represents the lifecycle state of a batch geocode job.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusComplete   JobStatus = "complete"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusFailed
}

// AnonymousUserID is the user id assigned to callers without a valid credential.
const AnonymousUserID int64 = 0

// Job is one submitted batch and its accumulated, pollable result state.
type Job struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	OwnerEmail    string          `json:"owner_email"`
	Status        JobStatus       `json:"status"`
	TotalRows     int             `json:"total_rows"`
	ProcessedRows int             `json:"processed_rows"`
	Results       string          `json:"-"`
	Columns       []string        `json:"columns"`
	Records       []AddressRecord `json:"-"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// JobSummary is the listing view of a job.
type JobSummary struct {
	ID            string    `json:"id"`
	Status        JobStatus `json:"status"`
	TotalRows     int       `json:"total_rows"`
	ProcessedRows int       `json:"processed_rows"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewJob is the input for creating a job record.
type NewJob struct {
	UserID     int64
	OwnerEmail string
	Columns    []string
	Records    []AddressRecord
}
