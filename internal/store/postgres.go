package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const summaryColumns = `j.id, j.name, j.status, j.created_at, j.retention_deadline,
	COUNT(i.id), COUNT(i.id) FILTER (WHERE i.status = 'DONE')`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, name, status, created_at, retention_deadline)
		 VALUES ($1, $2, $3, $4, $5)`,
		job.ID, job.Name, job.Status, job.CreatedAt, job.RetentionDeadline)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var j models.Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, status, created_at, retention_deadline FROM jobs WHERE id = $1`, id,
	).Scan(&j.ID, &j.Name, &j.Status, &j.CreatedAt, &j.RetentionDeadline)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &j, nil
}

func (s *PostgresStore) GetJobSummary(ctx context.Context, id uuid.UUID) (*models.JobSummary, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+summaryColumns+`
		 FROM jobs j LEFT JOIN job_items i ON i.job_id = j.id
		 WHERE j.id = $1
		 GROUP BY j.id`, id)
	summary, err := scanSummary(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job summary: %w", err)
	}
	return summary, nil
}

func (s *PostgresStore) ListJobSummaries(ctx context.Context, filter JobFilter) ([]*models.JobSummary, int, error) {
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	offset := (filter.Page - 1) * filter.Limit

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+summaryColumns+`
		 FROM jobs j LEFT JOIN job_items i ON i.job_id = j.id
		 GROUP BY j.id
		 ORDER BY j.created_at DESC
		 LIMIT $1 OFFSET $2`, filter.Limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var summaries []*models.JobSummary
	for rows.Next() {
		summary, err := scanSummary(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job summary: %w", err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, total, rows.Err()
}

func (s *PostgresStore) RenameJob(ctx context.Context, id uuid.UUID, name string) (string, error) {
	var old string
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT name FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&old)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE jobs SET name = $2 WHERE id = $1`, id, name); err != nil {
			return fmt.Errorf("update job name: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return old, nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) (int, error) {
	var items int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		err := tx.QueryRow(ctx, `SELECT id FROM jobs WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM job_items WHERE job_id = $1`, id).Scan(&items); err != nil {
			return fmt.Errorf("count job items: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete job: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return items, nil
}

// --- Job Items ---

const itemColumns = `id, job_id, content_key, status, extracted_text, error_message, created_at, updated_at`

func (s *PostgresStore) CreateJobItem(ctx context.Context, item *models.JobItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_items (`+itemColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		item.ID, item.JobID, item.ContentKey, item.Status, item.ExtractedText, item.ErrorMessage,
		item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create job item: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJobItem(ctx context.Context, id uuid.UUID) (*models.JobItem, error) {
	item, err := scanItem(s.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM job_items WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job item: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListJobItems(ctx context.Context, jobID uuid.UUID) ([]*models.JobItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+itemColumns+` FROM job_items WHERE job_id = $1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job items: %w", err)
	}
	defer rows.Close()

	var items []*models.JobItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) CountJobItems(ctx context.Context, jobID uuid.UUID) (int, int, error) {
	var total, done int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'DONE') FROM job_items WHERE job_id = $1`, jobID,
	).Scan(&total, &done)
	if err != nil {
		return 0, 0, fmt.Errorf("count job items: %w", err)
	}
	return total, done, nil
}

func (s *PostgresStore) DeleteJobItem(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_items WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job item: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateJobItem(ctx context.Context, id uuid.UUID, mutate ItemMutation) (*models.JobItem, error) {
	var updated *models.JobItem
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		item, err := scanItem(tx.QueryRow(ctx,
			`SELECT `+itemColumns+` FROM job_items WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job item: %w", err)
		}

		prev := item.Status
		if err := mutate(item); err != nil {
			return err
		}
		if item.Status != prev && !prev.CanTransitionTo(item.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, item.Status)
		}

		item.UpdatedAt = time.Now().UTC()
		_, err = tx.Exec(ctx,
			`UPDATE job_items SET status = $2, extracted_text = $3, error_message = $4, updated_at = $5
			 WHERE id = $1`,
			id, item.Status, item.ExtractedText, item.ErrorMessage, item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update job item: %w", err)
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *PostgresStore) ApplyJobCompletion(ctx context.Context, jobID uuid.UUID, rule CompletionRule) (models.JobStatus, bool, error) {
	var (
		status  models.JobStatus
		changed bool
	)
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1 FOR UPDATE`, jobID).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("lock job: %w", err)
		}

		var total, done int
		err = tx.QueryRow(ctx,
			`SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'DONE') FROM job_items WHERE job_id = $1`, jobID,
		).Scan(&total, &done)
		if err != nil {
			return fmt.Errorf("count job items: %w", err)
		}

		next, ok := rule(status, total, done)
		if !ok || next == status {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE jobs SET status = $2 WHERE id = $1`, jobID, next); err != nil {
			return fmt.Errorf("update job status: %w", err)
		}
		status, changed = next, true
		return nil
	})
	if err != nil {
		return "", false, err
	}
	return status, changed, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.JobItem, error) {
	var it models.JobItem
	if err := row.Scan(&it.ID, &it.JobID, &it.ContentKey, &it.Status, &it.ExtractedText,
		&it.ErrorMessage, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

func scanSummary(row rowScanner) (*models.JobSummary, error) {
	var js models.JobSummary
	if err := row.Scan(&js.ID, &js.Name, &js.Status, &js.CreatedAt, &js.RetentionDeadline,
		&js.TotalItems, &js.DoneItems); err != nil {
		return nil, err
	}
	return &js, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
