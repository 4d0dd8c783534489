package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid item status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetJobSummary(ctx context.Context, id uuid.UUID) (*models.JobSummary, error)
	ListJobSummaries(ctx context.Context, filter JobFilter) ([]*models.JobSummary, int, error)
	// RenameJob sets the job name and returns the previous one.
	RenameJob(ctx context.Context, id uuid.UUID, name string) (string, error)
	// DeleteJob removes the job and, by cascade, its items. It returns how many
	// items the job owned at the moment of deletion.
	DeleteJob(ctx context.Context, id uuid.UUID) (int, error)

	CreateJobItem(ctx context.Context, item *models.JobItem) error
	GetJobItem(ctx context.Context, id uuid.UUID) (*models.JobItem, error)
	ListJobItems(ctx context.Context, jobID uuid.UUID) ([]*models.JobItem, error)
	CountJobItems(ctx context.Context, jobID uuid.UUID) (total int, done int, err error)
	DeleteJobItem(ctx context.Context, id uuid.UUID) error

	// UpdateJobItem loads the item under an exclusive row lock, applies mutate
	// and writes the result back in the same transaction.
	UpdateJobItem(ctx context.Context, id uuid.UUID, mutate ItemMutation) (*models.JobItem, error)
	// ApplyJobCompletion locks the job row, counts its items and applies rule.
	// It reports the resulting status and whether the status changed.
	ApplyJobCompletion(ctx context.Context, jobID uuid.UUID, rule CompletionRule) (models.JobStatus, bool, error)
}

// ItemMutation edits a locked item in place. Returning an error rolls the
// transaction back and is passed through to the caller unchanged.
type ItemMutation func(item *models.JobItem) error

// CompletionRule derives the next job status from the current one and the
// item counts. The bool result reports whether a change should be written.
type CompletionRule func(current models.JobStatus, total, done int) (models.JobStatus, bool)

type JobFilter struct {
	Page  int
	Limit int
}
