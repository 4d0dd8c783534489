// Package fake provides in-memory implementations of the collaborator
// interfaces for tests. Every type is safe for concurrent use.
package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/store"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// Store satisfies store.Store. A single mutex stands in for the row locks.
type Store struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]*models.Job
	items map[uuid.UUID]*models.JobItem

	// Optional error hooks, consulted before the call mutates anything.
	PingErr          error
	CreateJobErr     error
	CreateJobItemErr func(item *models.JobItem) error
	UpdateJobItemErr func(id uuid.UUID) error
	DeleteJobErr     error
	DeleteJobItemErr error

	// Transitions records every status change written through UpdateJobItem.
	Transitions []ItemTransition
	// JobsDone counts transitions of any job to DONE.
	JobsDone int
}

type ItemTransition struct {
	ItemID   uuid.UUID
	From, To models.ItemStatus
}

func NewStore() *Store {
	return &Store{
		jobs:  map[uuid.UUID]*models.Job{},
		items: map[uuid.UUID]*models.JobItem{},
	}
}

func (s *Store) Ping(context.Context) error { return s.PingErr }

func (s *Store) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateJobErr != nil {
		return s.CreateJobErr
	}
	if _, ok := s.jobs[job.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) summaryLocked(j *models.Job) *models.JobSummary {
	total, done := s.countLocked(j.ID)
	return &models.JobSummary{Job: *j, TotalItems: total, DoneItems: done}
}

func (s *Store) GetJobSummary(_ context.Context, id uuid.UUID) (*models.JobSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.summaryLocked(j), nil
}

func (s *Store) ListJobSummaries(_ context.Context, filter store.JobFilter) ([]*models.JobSummary, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(a, b int) bool { return jobs[a].CreatedAt.After(jobs[b].CreatedAt) })

	start := (filter.Page - 1) * filter.Limit
	if start > len(jobs) {
		start = len(jobs)
	}
	end := start + filter.Limit
	if end > len(jobs) {
		end = len(jobs)
	}

	out := make([]*models.JobSummary, 0, end-start)
	for _, j := range jobs[start:end] {
		out = append(out, s.summaryLocked(j))
	}
	return out, len(jobs), nil
}

func (s *Store) RenameJob(_ context.Context, id uuid.UUID, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	old := j.Name
	j.Name = name
	return old, nil
}

func (s *Store) DeleteJob(_ context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteJobErr != nil {
		return 0, s.DeleteJobErr
	}
	if _, ok := s.jobs[id]; !ok {
		return 0, store.ErrNotFound
	}
	n := 0
	for itemID, it := range s.items {
		if it.JobID == id {
			delete(s.items, itemID)
			n++
		}
	}
	delete(s.jobs, id)
	return n, nil
}

func (s *Store) CreateJobItem(_ context.Context, item *models.JobItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateJobItemErr != nil {
		if err := s.CreateJobItemErr(item); err != nil {
			return err
		}
	}
	if _, ok := s.jobs[item.JobID]; !ok {
		return store.ErrNotFound
	}
	if _, ok := s.items[item.ID]; ok {
		return store.ErrDuplicateKey
	}
	cp := *item
	s.items[item.ID] = &cp
	return nil
}

func (s *Store) GetJobItem(_ context.Context, id uuid.UUID) (*models.JobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyItem(it), nil
}

func (s *Store) ListJobItems(_ context.Context, jobID uuid.UUID) ([]*models.JobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.JobItem
	for _, it := range s.items {
		if it.JobID == jobID {
			out = append(out, copyItem(it))
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID.String() < out[b].ID.String()
		}
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

func (s *Store) countLocked(jobID uuid.UUID) (int, int) {
	var total, done int
	for _, it := range s.items {
		if it.JobID != jobID {
			continue
		}
		total++
		if it.Status == models.ItemStatusDone {
			done++
		}
	}
	return total, done
}

func (s *Store) CountJobItems(_ context.Context, jobID uuid.UUID) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total, done := s.countLocked(jobID)
	return total, done, nil
}

func (s *Store) DeleteJobItem(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteJobItemErr != nil {
		return s.DeleteJobItemErr
	}
	if _, ok := s.items[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *Store) UpdateJobItem(_ context.Context, id uuid.UUID, mutate store.ItemMutation) (*models.JobItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateJobItemErr != nil {
		if err := s.UpdateJobItemErr(id); err != nil {
			return nil, err
		}
	}
	current, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}

	working := copyItem(current)
	prev := working.Status
	if err := mutate(working); err != nil {
		return nil, err
	}
	if working.Status != prev && !prev.CanTransitionTo(working.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, prev, working.Status)
	}
	working.UpdatedAt = time.Now().UTC()
	if working.Status != prev {
		s.Transitions = append(s.Transitions, ItemTransition{ItemID: id, From: prev, To: working.Status})
	}
	s.items[id] = working
	return copyItem(working), nil
}

func (s *Store) ApplyJobCompletion(_ context.Context, jobID uuid.UUID, rule store.CompletionRule) (models.JobStatus, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return "", false, store.ErrNotFound
	}
	total, done := s.countLocked(jobID)
	next, change := rule(j.Status, total, done)
	if !change || next == j.Status {
		return j.Status, false, nil
	}
	j.Status = next
	if next == models.JobStatusDone {
		s.JobsDone++
	}
	return next, true, nil
}

// Items returns a snapshot of every item of jobID.
func (s *Store) Items(jobID uuid.UUID) []*models.JobItem {
	items, _ := s.ListJobItems(context.Background(), jobID)
	return items
}

// JobCount returns how many jobs exist.
func (s *Store) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

func copyItem(it *models.JobItem) *models.JobItem {
	cp := *it
	if it.ExtractedText != nil {
		v := *it.ExtractedText
		cp.ExtractedText = &v
	}
	if it.ErrorMessage != nil {
		v := *it.ErrorMessage
		cp.ErrorMessage = &v
	}
	return &cp
}

var _ store.Store = (*Store)(nil)
