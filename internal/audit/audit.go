// Package audit records an append-only trail of job lifecycle events.
package audit

import (
	"context"
	"time"
)

const (
	ActorBackend = "backend"

	ActionCreateJob = "CREATE_JOB"
	ActionRenameJob = "RENAME_JOB"
	ActionDeleteJob = "DELETE_JOB"
)

// Log is the audit sink. Entries are keyed by subject for retrieval.
type Log interface {
	Append(ctx context.Context, actor, action, subjectID string, payload map[string]any) error
	// List returns the events of one subject, oldest first.
	List(ctx context.Context, subjectID string) ([]Event, error)
}

type Event struct {
	SubjectID string         `json:"subject_id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
}
