// Package intake turns a batch of uploaded items into a job, its items and
// one queue message per admitted item.
package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/audit"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/internal/content"
	"github.com/kiranshivaraju/ocrbatch/internal/dedupe"
	"github.com/kiranshivaraju/ocrbatch/internal/metrics"
	"github.com/kiranshivaraju/ocrbatch/internal/queue"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

const (
	DefaultJobName = "untitled"
	MaxNameLength  = 160
)

var ErrValidation = errors.New("validation error")

// Upload is one submitted content item.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Service struct {
	store     store.Store
	content   content.Store
	queue     queue.Queue
	audit     audit.Log
	cache     cache.Cache
	bucket    string
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type Options struct {
	// Bucket is written into every queue message as the store location.
	Bucket    string
	Retention time.Duration
	Logger    *slog.Logger
}

func NewService(s store.Store, c content.Store, q queue.Queue, a audit.Log, kv cache.Cache, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:     s,
		content:   c,
		queue:     q,
		audit:     a,
		cache:     kv,
		bucket:    opts.Bucket,
		retention: opts.Retention,
		logger:    opts.Logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Submit creates a job from uploads. Failures on individual items are logged
// and skipped; the returned detail lists only the items that were recorded
// and published.
func (s *Service) Submit(ctx context.Context, name string, uploads []Upload) (*models.JobDetail, error) {
	if len(uploads) == 0 {
		return nil, fmt.Errorf("%w: at least one item is required", ErrValidation)
	}
	if name == "" {
		name = DefaultJobName
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return nil, fmt.Errorf("%w: name must be at most %d characters", ErrValidation, MaxNameLength)
	}

	now := s.now()
	deadline := now.Add(s.retention)
	job := &models.Job{
		ID:                uuid.New(),
		Name:              name,
		Status:            models.JobStatusPending,
		CreatedAt:         now,
		RetentionDeadline: &deadline,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	metrics.JobsSubmitted.Inc()
	s.logger.Info("job created", "job_id", job.ID, "name", name, "uploads", len(uploads), "retention_deadline", deadline)

	data := make([][]byte, len(uploads))
	for i, u := range uploads {
		data[i] = u.Data
	}

	var items []*models.JobItem
	for _, d := range dedupe.Select(data) {
		up := uploads[d.Index]
		if !d.Admit {
			metrics.DuplicatesSkipped.Inc()
			s.logger.Info("duplicate skipped", "job_id", job.ID, "filename", up.Filename, "sha256", d.Fingerprint[:12])
			continue
		}
		item, err := s.admit(ctx, job, up)
		if err != nil {
			s.logger.Error("intake item failed", "job_id", job.ID, "filename", up.Filename, "error", err)
			continue
		}
		items = append(items, item)
	}

	if err := s.audit.Append(ctx, audit.ActorBackend, audit.ActionCreateJob, job.ID.String(), map[string]any{
		"name":    name,
		"n_items": len(items),
	}); err != nil {
		s.logger.Error("audit append failed", "job_id", job.ID, "action", audit.ActionCreateJob, "error", err)
	}

	if s.cache != nil {
		if err := s.cache.SetJobStatus(ctx, job.ID, job.Status, s.retention); err != nil {
			s.logger.Warn("cache job status failed", "job_id", job.ID, "error", err)
		}
	}

	if items == nil {
		items = []*models.JobItem{}
	}
	return &models.JobDetail{
		JobSummary: models.JobSummary{Job: *job, TotalItems: len(items)},
		Items:      items,
	}, nil
}

// admit stores one item, records it and publishes its message. An item whose
// message cannot be published is removed again, so every item of a job has a
// message that can drive it to a final state.
func (s *Service) admit(ctx context.Context, job *models.Job, up Upload) (*models.JobItem, error) {
	contentType, ext := describe(up)
	itemID := uuid.New()
	key := content.ItemKey(job.ID, itemID, ext)

	if err := s.content.Put(ctx, key, up.Data, contentType); err != nil {
		metrics.IntakeFailures.WithLabelValues("put").Inc()
		return nil, fmt.Errorf("put content: %w", err)
	}

	now := s.now()
	item := &models.JobItem{
		ID:         itemID,
		JobID:      job.ID,
		ContentKey: key,
		Status:     models.ItemStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.store.CreateJobItem(ctx, item); err != nil {
		metrics.IntakeFailures.WithLabelValues("create").Inc()
		return nil, fmt.Errorf("create job item: %w", err)
	}

	msgID, err := s.queue.Enqueue(ctx, queue.Message{
		JobID:      job.ID,
		ItemID:     item.ID,
		Bucket:     s.bucket,
		ContentKey: key,
		CreatedAt:  job.CreatedAt,
	})
	if err != nil {
		metrics.IntakeFailures.WithLabelValues("enqueue").Inc()
		s.discard(ctx, item)
		return nil, fmt.Errorf("enqueue item: %w", err)
	}
	metrics.ItemsEnqueued.Inc()
	s.logger.Info("item enqueued", "job_id", job.ID, "item_id", item.ID, "content_key", key, "message_id", msgID)
	return item, nil
}

// discard removes an item row and its stored object after a failed publish.
// Failures are logged; an item left behind stays PENDING.
func (s *Service) discard(ctx context.Context, item *models.JobItem) {
	log := s.logger.With("job_id", item.JobID, "item_id", item.ID, "content_key", item.ContentKey)
	if err := s.store.DeleteJobItem(ctx, item.ID); err != nil {
		log.Error("remove unpublished item failed", "error", err)
		return
	}
	if _, err := s.content.DeleteBatch(ctx, []string{item.ContentKey}); err != nil {
		log.Warn("remove unpublished content failed", "error", err)
	}
}

// describe picks the stored content type and key extension for an upload.
// The client-declared type wins for storage; the extension always comes
// from the sniffed type.
func describe(up Upload) (contentType, ext string) {
	mt := mimetype.Detect(up.Data)
	contentType = up.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mt.String()
	}
	ext = mt.Extension()
	if ext == "" {
		ext = ".bin"
	}
	return contentType, ext
}
