// Package content stores the raw bytes of job items in an object store.
package content

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MaxDeleteBatch is the largest number of keys a single DeleteBatch call accepts.
const MaxDeleteBatch = 1000

var ErrNotFound = errors.New("content not found")
var ErrBatchTooLarge = fmt.Errorf("delete batch exceeds %d keys", MaxDeleteBatch)

// Store is the blob storage interface. Implementations must be safe for
// concurrent use; one instance is shared by intake, the worker and cleanup.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns one page of objects under prefix. An empty cursor starts
	// from the beginning; a Page with an empty NextCursor is the last one.
	List(ctx context.Context, prefix, cursor string) (Page, error)
	// DeleteBatch removes up to MaxDeleteBatch keys and reports how many were deleted.
	DeleteBatch(ctx context.Context, keys []string) (int, error)
}

type Object struct {
	Key  string
	Size int64
}

type Page struct {
	Objects    []Object
	NextCursor string
}

// JobPrefix is the key prefix that owns every object of a job.
func JobPrefix(jobID uuid.UUID) string {
	return fmt.Sprintf("jobs/%s/", jobID)
}

// ItemKey is the storage key of one item. ext includes the leading dot.
func ItemKey(jobID, itemID uuid.UUID, ext string) string {
	return JobPrefix(jobID) + itemID.String() + ext
}
