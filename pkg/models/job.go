package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the aggregate state of a Job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusDone       JobStatus = "DONE"
	JobStatusError      JobStatus = "ERROR"
	JobStatusExpired    JobStatus = "EXPIRED"
)

// Valid reports whether s is one of the known job statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusDone, JobStatusError, JobStatusExpired:
		return true
	}
	return false
}

// Job is a user-submitted batch of content items processed together.
// Status moves to DONE only through the completion aggregator and is never
// demoted afterwards.
type Job struct {
	ID                uuid.UUID  `db:"id"                 json:"id"`
	Name              string     `db:"name"               json:"name"`
	Status            JobStatus  `db:"status"             json:"status"`
	CreatedAt         time.Time  `db:"created_at"         json:"created_at"`
	RetentionDeadline *time.Time `db:"retention_deadline" json:"retention_deadline,omitempty"`
}

// JobSummary is a Job annotated with item counts, as returned by list and
// detail reads.
type JobSummary struct {
	Job
	TotalItems int `json:"total_items"`
	DoneItems  int `json:"done_items"`
}

// JobDetail is a JobSummary with its items.
type JobDetail struct {
	JobSummary
	Items []*JobItem `json:"items"`
}
