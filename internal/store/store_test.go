package store_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("ocrbatch_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

func newJob(t *testing.T, s store.Store, name string) *models.Job {
	t.Helper()
	deadline := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Microsecond)
	job := &models.Job{
		ID:                uuid.New(),
		Name:              name,
		Status:            models.JobStatusPending,
		CreatedAt:         time.Now().UTC().Truncate(time.Microsecond),
		RetentionDeadline: &deadline,
	}
	require.NoError(t, s.CreateJob(context.Background(), job))
	return job
}

func newItem(t *testing.T, s store.Store, jobID uuid.UUID) *models.JobItem {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	item := &models.JobItem{
		ID:         id,
		JobID:      jobID,
		ContentKey: "jobs/" + jobID.String() + "/" + id.String() + ".png",
		Status:     models.ItemStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.CreateJobItem(context.Background(), item))
	return item
}

func setStatus(status models.ItemStatus) store.ItemMutation {
	return func(item *models.JobItem) error {
		item.Status = status
		return nil
	}
}

func doneRule(current models.JobStatus, total, done int) (models.JobStatus, bool) {
	if total > 0 && total == done && current != models.JobStatusDone {
		return models.JobStatusDone, true
	}
	return current, false
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "receipts")

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "receipts", got.Name)
	assert.Equal(t, models.JobStatusPending, got.Status)
	require.NotNil(t, got.RetentionDeadline)
	assert.True(t, job.RetentionDeadline.Equal(*got.RetentionDeadline))
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.GetJobSummary(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := newJob(t, s, "a")
	err := s.CreateJob(context.Background(), job)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestJob_SummaryCounts(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "counts")
	first := newItem(t, s, job.ID)
	newItem(t, s, job.ID)

	_, err := s.UpdateJobItem(ctx, first.ID, setStatus(models.ItemStatusProcessing))
	require.NoError(t, err)
	_, err = s.UpdateJobItem(ctx, first.ID, setStatus(models.ItemStatusDone))
	require.NoError(t, err)

	summary, err := s.GetJobSummary(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 1, summary.DoneItems)

	total, done, err := s.CountJobItems(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, done)
}

func TestJob_ListNewestFirst(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	older := newJob(t, s, "older")
	time.Sleep(5 * time.Millisecond)
	newer := newJob(t, s, "newer")
	newItem(t, s, older.ID)

	summaries, total, err := s.ListJobSummaries(ctx, store.JobFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, summaries, 2)
	assert.Equal(t, newer.ID, summaries[0].ID)
	assert.Equal(t, 0, summaries[0].TotalItems)
	assert.Equal(t, older.ID, summaries[1].ID)
	assert.Equal(t, 1, summaries[1].TotalItems)

	page2, _, err := s.ListJobSummaries(ctx, store.JobFilter{Page: 2, Limit: 1})
	require.NoError(t, err)
	require.Len(t, page2, 1)
	assert.Equal(t, older.ID, page2[0].ID)
}

func TestJob_Rename(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "before")

	old, err := s.RenameJob(ctx, job.ID, "after")
	require.NoError(t, err)
	assert.Equal(t, "before", old)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "after", got.Name)

	_, err = s.RenameJob(ctx, uuid.New(), "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_DeleteCascadesToItems(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "doomed")
	item := newItem(t, s, job.ID)
	newItem(t, s, job.ID)

	n, err := s.DeleteJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = s.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetJobItem(ctx, item.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.DeleteJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Job Item Tests ---

func TestJobItem_CreateForMissingJob(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	now := time.Now().UTC()
	err := s.CreateJobItem(context.Background(), &models.JobItem{
		ID:         uuid.New(),
		JobID:      uuid.New(),
		ContentKey: "jobs/x/y.png",
		Status:     models.ItemStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJobItem_Delete(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "trimmed")
	gone := newItem(t, s, job.ID)
	kept := newItem(t, s, job.ID)

	require.NoError(t, s.DeleteJobItem(ctx, gone.ID))

	items, err := s.ListJobItems(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, kept.ID, items[0].ID)

	assert.ErrorIs(t, s.DeleteJobItem(ctx, gone.ID), store.ErrNotFound)
}

func TestJobItem_ListInCreationOrder(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	job := newJob(t, s, "ordered")
	first := newItem(t, s, job.ID)
	time.Sleep(2 * time.Millisecond)
	second := newItem(t, s, job.ID)

	items, err := s.ListJobItems(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, first.ID, items[0].ID)
	assert.Equal(t, second.ID, items[1].ID)
	assert.Equal(t, first.ContentKey, items[0].ContentKey)
}

func TestUpdateJobItem_AppliesMutation(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "j")
	item := newItem(t, s, job.ID)

	_, err := s.UpdateJobItem(ctx, item.ID, setStatus(models.ItemStatusProcessing))
	require.NoError(t, err)

	text := "hello world"
	updated, err := s.UpdateJobItem(ctx, item.ID, func(it *models.JobItem) error {
		it.Status = models.ItemStatusDone
		it.ExtractedText = &text
		it.ErrorMessage = nil
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusDone, updated.Status)

	got, err := s.GetJobItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusDone, got.Status)
	require.NotNil(t, got.ExtractedText)
	assert.Equal(t, "hello world", *got.ExtractedText)
	assert.Nil(t, got.ErrorMessage)
	assert.True(t, got.UpdatedAt.After(item.UpdatedAt) || got.UpdatedAt.Equal(item.UpdatedAt))
}

func TestUpdateJobItem_RejectsInvalidTransition(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "j")
	item := newItem(t, s, job.ID)

	_, err := s.UpdateJobItem(ctx, item.ID, setStatus(models.ItemStatusDone))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	_, err = s.UpdateJobItem(ctx, item.ID, setStatus(models.ItemStatusProcessing))
	require.NoError(t, err)
	_, err = s.UpdateJobItem(ctx, item.ID, setStatus(models.ItemStatusPending))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	got, err := s.GetJobItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusProcessing, got.Status)
}

func TestUpdateJobItem_MutationErrorRollsBack(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "j")
	item := newItem(t, s, job.ID)

	boom := errors.New("boom")
	_, err := s.UpdateJobItem(ctx, item.ID, func(it *models.JobItem) error {
		it.Status = models.ItemStatusProcessing
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetJobItem(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusPending, got.Status)
}

func TestUpdateJobItem_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, err := s.UpdateJobItem(context.Background(), uuid.New(), setStatus(models.ItemStatusProcessing))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Completion Tests ---

func TestApplyJobCompletion_OnlyWhenAllDone(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "j")
	a := newItem(t, s, job.ID)
	b := newItem(t, s, job.ID)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		_, err := s.UpdateJobItem(ctx, id, setStatus(models.ItemStatusProcessing))
		require.NoError(t, err)
	}
	_, err := s.UpdateJobItem(ctx, a.ID, setStatus(models.ItemStatusDone))
	require.NoError(t, err)

	status, changed, err := s.ApplyJobCompletion(ctx, job.ID, doneRule)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.JobStatusPending, status)

	_, err = s.UpdateJobItem(ctx, b.ID, setStatus(models.ItemStatusDone))
	require.NoError(t, err)

	status, changed, err = s.ApplyJobCompletion(ctx, job.ID, doneRule)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.JobStatusDone, status)

	_, changed, err = s.ApplyJobCompletion(ctx, job.ID, doneRule)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestApplyJobCompletion_ConcurrentSiblingsTransitionOnce(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)
	ctx := context.Background()

	job := newJob(t, s, "j")
	for i := 0; i < 4; i++ {
		item := newItem(t, s, job.ID)
		_, err := s.UpdateJobItem(ctx, item.ID, setStatus(models.ItemStatusProcessing))
		require.NoError(t, err)
		_, err = s.UpdateJobItem(ctx, item.ID, setStatus(models.ItemStatusDone))
		require.NoError(t, err)
	}

	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		transitions int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, changed, err := s.ApplyJobCompletion(ctx, job.ID, doneRule)
			assert.NoError(t, err)
			if changed {
				mu.Lock()
				transitions++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, transitions)
	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)
}

func TestApplyJobCompletion_NotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	pool := setupTestDB(t)
	s := store.NewPostgresStore(pool)

	_, _, err := s.ApplyJobCompletion(context.Background(), uuid.New(), doneRule)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
