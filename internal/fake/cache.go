package fake

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ocrbatch/internal/cache"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// Cache satisfies cache.Cache. TTLs are ignored.
type Cache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]models.JobStatus
	counters map[string]int64

	PingErr error
	Err     error
}

func NewCache() *Cache {
	return &Cache{
		statuses: map[uuid.UUID]models.JobStatus{},
		counters: map[string]int64{},
	}
}

func (c *Cache) Ping(context.Context) error { return c.PingErr }

func (c *Cache) SetJobStatus(_ context.Context, jobID uuid.UUID, status models.JobStatus, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.statuses[jobID] = status
	return nil
}

func (c *Cache) GetJobStatus(_ context.Context, jobID uuid.UUID) (models.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return "", false, c.Err
	}
	s, ok := c.statuses[jobID]
	return s, ok, nil
}

func (c *Cache) DeleteJobStatus(_ context.Context, jobID uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	delete(c.statuses, jobID)
	return nil
}

func (c *Cache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	c.counters[key]++
	return c.counters[key], nil
}

var _ cache.Cache = (*Cache)(nil)
