package models

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus is the processing state of a single JobItem.
type ItemStatus string

const (
	ItemStatusPending    ItemStatus = "PENDING"
	ItemStatusProcessing ItemStatus = "PROCESSING"
	ItemStatusDone       ItemStatus = "DONE"
	ItemStatusError      ItemStatus = "ERROR"
)

// Valid reports whether s is one of the known item statuses.
func (s ItemStatus) Valid() bool {
	switch s {
	case ItemStatusPending, ItemStatusProcessing, ItemStatusDone, ItemStatusError:
		return true
	}
	return false
}

// Terminal reports whether s is DONE or ERROR.
func (s ItemStatus) Terminal() bool {
	return s == ItemStatusDone || s == ItemStatusError
}

// CanTransitionTo reports whether an item in status s may move to next.
//
// PENDING is only ever an initial state. PROCESSING can be re-entered from
// any state because a redelivered message claims the item again. DONE and
// ERROR require the item to have been claimed at least once; they may follow
// each other since two deliveries of the same message can finish in either
// order.
func (s ItemStatus) CanTransitionTo(next ItemStatus) bool {
	switch next {
	case ItemStatusPending:
		return false
	case ItemStatusProcessing:
		return s.Valid()
	case ItemStatusDone, ItemStatusError:
		return s == ItemStatusProcessing || s.Terminal()
	}
	return false
}

// JobItem is one unit of work within a Job. ContentKey is fixed at creation
// and is the handle the worker uses to fetch the item's bytes.
type JobItem struct {
	ID            uuid.UUID  `db:"id"             json:"id"`
	JobID         uuid.UUID  `db:"job_id"         json:"job_id"`
	ContentKey    string     `db:"content_key"    json:"content_key"`
	Status        ItemStatus `db:"status"         json:"status"`
	ExtractedText *string    `db:"extracted_text" json:"extracted_text,omitempty"`
	ErrorMessage  *string    `db:"error_message"  json:"error_message,omitempty"`
	CreatedAt     time.Time  `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at"     json:"updated_at"`
}
