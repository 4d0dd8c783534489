// Package completion derives a job's aggregate status from its items.
package completion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/internal/metrics"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// Rule marks a job DONE once it has at least one item and every item is
// DONE. Items in ERROR keep the job from ever completing.
func Rule(current models.JobStatus, total, done int) (models.JobStatus, bool) {
	if total > 0 && done == total && current != models.JobStatusDone {
		return models.JobStatusDone, true
	}
	return current, false
}

var _ store.CompletionRule = Rule

type Aggregator struct {
	store    store.Store
	cache    cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewAggregator(s store.Store, c cache.Cache, cacheTTL time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{store: s, cache: c, cacheTTL: cacheTTL, logger: logger}
}

// Aggregate re-evaluates the job under its row lock and reports whether this
// call moved it to DONE.
func (a *Aggregator) Aggregate(ctx context.Context, jobID uuid.UUID) (bool, error) {
	status, changed, err := a.store.ApplyJobCompletion(ctx, jobID, Rule)
	if err != nil {
		return false, fmt.Errorf("apply job completion: %w", err)
	}
	if !changed {
		return false, nil
	}

	a.logger.Info("job completed", "job_id", jobID, "status", status)
	metrics.JobsCompleted.Inc()

	if a.cache != nil {
		if err := a.cache.SetJobStatus(ctx, jobID, status, a.cacheTTL); err != nil {
			a.logger.Warn("cache job status failed", "job_id", jobID, "error", err)
		}
	}
	return true, nil
}
