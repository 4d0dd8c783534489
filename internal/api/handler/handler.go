// Package handler implements the HTTP handlers of the job API.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/api/response"
	"github.com/kiranshivaraju/ocrbatch/internal/audit"
	"github.com/kiranshivaraju/ocrbatch/internal/cleanup"
	"github.com/kiranshivaraju/ocrbatch/internal/intake"
	"github.com/kiranshivaraju/ocrbatch/internal/jobs"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// Submitter creates jobs from uploads.
type Submitter interface {
	Submit(ctx context.Context, name string, uploads []intake.Upload) (*models.JobDetail, error)
}

// JobReader serves reads and edits of existing jobs.
type JobReader interface {
	List(ctx context.Context, page, limit int) (*jobs.Page, error)
	Get(ctx context.Context, id uuid.UUID) (*models.JobDetail, error)
	Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error)
	Rename(ctx context.Context, id uuid.UUID, name string) (*models.Job, error)
	Events(ctx context.Context, id uuid.UUID) ([]audit.Event, error)
}

// Deleter removes a job and its stored content.
type Deleter interface {
	DeleteJob(ctx context.Context, id uuid.UUID) (*cleanup.Result, error)
}

// Jobs groups the job handlers. Each method returns an http.HandlerFunc for
// the router.
type Jobs struct {
	submitter      Submitter
	reader         JobReader
	deleter        Deleter
	validate       *validator.Validate
	uploadMaxBytes int64
}

func NewJobs(s Submitter, r JobReader, d Deleter, v *validator.Validate, uploadMaxBytes int64) *Jobs {
	if v == nil {
		v = validator.New()
	}
	return &Jobs{submitter: s, reader: r, deleter: d, validate: v, uploadMaxBytes: uploadMaxBytes}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "jobID must be a valid UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeServiceError maps service errors onto the error envelope.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "job not found", nil)
	case errors.Is(err, intake.ErrValidation), errors.Is(err, jobs.ErrValidation):
		response.Error(w, http.StatusBadRequest, response.CodeValidation, err.Error(), nil)
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
	}
}

// formatValidationErrors maps each failing field to the tag it failed.
func formatValidationErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, e := range verrs {
		out[e.Field()] = e.Tag()
	}
	return out
}
