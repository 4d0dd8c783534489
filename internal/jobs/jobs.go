// Package jobs serves reads and edits of existing jobs.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/audit"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/internal/intake"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

var ErrValidation = errors.New("validation error")

type Service struct {
	store    store.Store
	cache    cache.Cache
	audit    audit.Log
	cacheTTL time.Duration
	logger   *slog.Logger
}

type Options struct {
	// CacheTTL is applied when a status read repopulates the cache.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

func NewService(s store.Store, kv cache.Cache, a audit.Log, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{store: s, cache: kv, audit: a, cacheTTL: opts.CacheTTL, logger: opts.Logger}
}

// Page is one page of job summaries, newest first.
type Page struct {
	Jobs  []*models.JobSummary `json:"results"`
	Total int                  `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

func (s *Service) List(ctx context.Context, page, limit int) (*Page, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	summaries, total, err := s.store.ListJobSummaries(ctx, store.JobFilter{Page: page, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	if summaries == nil {
		summaries = []*models.JobSummary{}
	}
	return &Page{Jobs: summaries, Total: total, Page: page, Limit: limit}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.JobDetail, error) {
	summary, err := s.store.GetJobSummary(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	items, err := s.store.ListJobItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}
	if items == nil {
		items = []*models.JobItem{}
	}
	return &models.JobDetail{JobSummary: *summary, Items: items}, nil
}

// Status returns the job status from the cache, falling back to the database
// on a miss or a cache error and repopulating the entry.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	if s.cache != nil {
		status, ok, err := s.cache.GetJobStatus(ctx, id)
		if err != nil {
			s.logger.Warn("cache read failed", "job_id", id, "error", err)
		} else if ok {
			return status, nil
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return "", fmt.Errorf("get job: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.SetJobStatus(ctx, id, job.Status, s.cacheTTL); err != nil {
			s.logger.Warn("cache job status failed", "job_id", id, "error", err)
		}
	}
	return job.Status, nil
}

// Rename sets a new job name and records the change in the audit log.
func (s *Service) Rename(ctx context.Context, id uuid.UUID, name string) (*models.Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if utf8.RuneCountInString(name) > intake.MaxNameLength {
		return nil, fmt.Errorf("%w: name must be at most %d characters", ErrValidation, intake.MaxNameLength)
	}

	old, err := s.store.RenameJob(ctx, id, name)
	if err != nil {
		return nil, fmt.Errorf("rename job: %w", err)
	}
	s.logger.Info("job renamed", "job_id", id, "old", old, "new", name)

	if err := s.audit.Append(ctx, audit.ActorBackend, audit.ActionRenameJob, id.String(), map[string]any{
		"old": old,
		"new": name,
	}); err != nil {
		s.logger.Error("audit append failed", "job_id", id, "action", audit.ActionRenameJob, "error", err)
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Events returns the audit trail of a job, oldest first. It checks the job
// exists so that an unknown id is reported as not found rather than as an
// empty trail.
func (s *Service) Events(ctx context.Context, id uuid.UUID) ([]audit.Event, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	events, err := s.audit.List(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}
