// Package cleanup deletes a job together with every stored object it owns.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/audit"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/internal/content"
	"github.com/kiranshivaraju/ocrbatch/internal/metrics"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
)

// Result describes a completed deletion.
type Result struct {
	JobID uuid.UUID `json:"job_id"`
	// Items is the number of item rows removed with the job.
	Items int `json:"n_items"`
	// Deleted is the number of content objects removed.
	Deleted int `json:"s3_deleted"`
}

type Service struct {
	store     store.Store
	content   content.Store
	cache     cache.Cache
	audit     audit.Log
	batchSize int
	logger    *slog.Logger
}

type Options struct {
	// BatchSize is the number of keys per delete call, capped at
	// content.MaxDeleteBatch.
	BatchSize int
	Logger    *slog.Logger
}

func NewService(s store.Store, c content.Store, kv cache.Cache, a audit.Log, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.BatchSize <= 0 || opts.BatchSize > content.MaxDeleteBatch {
		opts.BatchSize = content.MaxDeleteBatch
	}
	return &Service{
		store:     s,
		content:   c,
		cache:     kv,
		audit:     a,
		batchSize: opts.BatchSize,
		logger:    opts.Logger,
	}
}

// DeleteJob removes every object under the job's prefix and then the job and
// its items. A storage failure aborts before the database is touched, so a
// failed call can simply be retried.
func (s *Service) DeleteJob(ctx context.Context, jobID uuid.UUID) (*Result, error) {
	if _, err := s.store.GetJob(ctx, jobID); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	log := s.logger.With("job_id", jobID)

	deleted, err := s.purge(ctx, content.JobPrefix(jobID))
	if err != nil {
		log.Error("content purge failed, job left in place", "deleted", deleted, "error", err)
		return nil, err
	}

	items, err := s.store.DeleteJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("delete job: %w", err)
	}
	log.Info("job deleted", "items", items, "objects", deleted)

	if s.cache != nil {
		if err := s.cache.DeleteJobStatus(ctx, jobID); err != nil {
			log.Warn("cache delete failed", "error", err)
		}
	}

	res := &Result{JobID: jobID, Items: items, Deleted: deleted}
	if err := s.audit.Append(ctx, audit.ActorBackend, audit.ActionDeleteJob, jobID.String(), map[string]any{
		"n_items":    res.Items,
		"s3_deleted": res.Deleted,
	}); err != nil {
		log.Error("audit append failed", "action", audit.ActionDeleteJob, "error", err)
	}
	return res, nil
}

// purge pages through prefix and deletes in batches of s.batchSize, with a
// final partial batch for the remainder.
func (s *Service) purge(ctx context.Context, prefix string) (int, error) {
	var (
		deleted int
		cursor  string
		buf     = make([]string, 0, s.batchSize)
	)

	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		n, err := s.content.DeleteBatch(ctx, buf)
		if err != nil {
			return fmt.Errorf("delete content batch: %w", err)
		}
		deleted += n
		metrics.ObjectsDeleted.Add(float64(n))
		s.logger.Debug("content batch deleted", "prefix", prefix, "keys", len(buf))
		buf = buf[:0]
		return nil
	}

	for {
		page, err := s.content.List(ctx, prefix, cursor)
		if err != nil {
			return deleted, fmt.Errorf("list content: %w", err)
		}
		for _, obj := range page.Objects {
			buf = append(buf, obj.Key)
			if len(buf) == s.batchSize {
				if err := flush(); err != nil {
					return deleted, err
				}
			}
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}
