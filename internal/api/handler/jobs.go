package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/kiranshivaraju/ocrbatch/internal/api/response"
	"github.com/kiranshivaraju/ocrbatch/internal/intake"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// uploadFields are the form fields that carry files.
var uploadFields = []string{"images", "images[]"}

// Create handles POST /api/v1/jobs.
func (h *Jobs) Create() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.uploadMaxBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxBytes)
		}
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				response.Error(w, http.StatusRequestEntityTooLarge, response.CodePayloadTooLarge,
					fmt.Sprintf("upload exceeds %d bytes", tooLarge.Limit), nil)
				return
			}
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "body must be multipart/form-data", nil)
			return
		}
		defer r.MultipartForm.RemoveAll()

		var files []*multipart.FileHeader
		for _, field := range uploadFields {
			files = append(files, r.MultipartForm.File[field]...)
		}
		if len(files) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, `at least one file is required in "images"`, nil)
			return
		}

		uploads := make([]intake.Upload, 0, len(files))
		for _, fh := range files {
			up, err := readUpload(fh)
			if err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest,
					fmt.Sprintf("could not read file %q", fh.Filename), nil)
				return
			}
			uploads = append(uploads, up)
		}

		detail, err := h.submitter.Submit(r.Context(), r.FormValue("name"), uploads)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Created(w, detail)
	}
}

func readUpload(fh *multipart.FileHeader) (intake.Upload, error) {
	f, err := fh.Open()
	if err != nil {
		return intake.Upload{}, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return intake.Upload{}, err
	}
	return intake.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

type listResponse struct {
	Results []*models.JobSummary `json:"results"`
}

// List handles GET /api/v1/jobs.
func (h *Jobs) List() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := queryInt(r, "page")
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "page must be an integer", nil)
			return
		}
		limit, err := queryInt(r, "limit")
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be an integer", nil)
			return
		}

		result, err := h.reader.List(r.Context(), page, limit)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.Collection(w, listResponse{Results: result.Jobs},
			response.NewPaginationMeta(result.Page, result.Limit, result.Total))
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}

// Get handles GET /api/v1/jobs/{jobID}.
func (h *Jobs) Get() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		detail, err := h.reader.Get(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, detail)
	}
}

// Status handles GET /api/v1/jobs/{jobID}/status.
func (h *Jobs) Status() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		status, err := h.reader.Status(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "status": status})
	}
}

type renameRequest struct {
	Name string `json:"name" validate:"required,max=160"`
}

// Rename handles PATCH /api/v1/jobs/{jobID}.
func (h *Jobs) Rename() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		var req renameRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if err := h.validate.Struct(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeValidation, "Validation failed", formatValidationErrors(err))
			return
		}

		job, err := h.reader.Rename(r.Context(), id, req.Name)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": job.ID, "name": job.Name})
	}
}

// Delete handles DELETE /api/v1/jobs/{jobID}.
func (h *Jobs) Delete() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		if _, err := h.deleter.DeleteJob(r.Context(), id); err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// Events handles GET /api/v1/jobs/{jobID}/events.
func (h *Jobs) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}
		events, err := h.reader.Events(r.Context(), id)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		response.JSON(w, events)
	}
}
