package fake

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/kiranshivaraju/ocrbatch/internal/content"
)

// Content satisfies content.Store with sorted, paged listing.
type Content struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string

	PageSize int

	PutErr    func(key string) error
	GetErr    func(key string) error
	ListErr   error
	DeleteErr func(call int, keys []string) error

	DeleteCalls [][]string
	ListCalls   int
}

func NewContent() *Content {
	return &Content{
		objects:  map[string][]byte{},
		types:    map[string]string{},
		PageSize: 1000,
	}
}

func (c *Content) Put(_ context.Context, key string, data []byte, contentType string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PutErr != nil {
		if err := c.PutErr(key); err != nil {
			return err
		}
	}
	c.objects[key] = append([]byte(nil), data...)
	c.types[key] = contentType
	return nil
}

func (c *Content) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.GetErr != nil {
		if err := c.GetErr(key); err != nil {
			return nil, err
		}
	}
	data, ok := c.objects[key]
	if !ok {
		return nil, content.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (c *Content) List(_ context.Context, prefix, cursor string) (content.Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListCalls++
	if c.ListErr != nil {
		return content.Page{}, c.ListErr
	}

	keys := c.keysLocked(prefix)
	start := 0
	if cursor != "" {
		start = sort.SearchStrings(keys, cursor)
	}
	end := start + c.PageSize
	page := content.Page{}
	if end < len(keys) {
		page.NextCursor = keys[end]
	} else {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		page.Objects = append(page.Objects, content.Object{Key: k, Size: int64(len(c.objects[k]))})
	}
	return page, nil
}

func (c *Content) DeleteBatch(_ context.Context, keys []string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(keys) > content.MaxDeleteBatch {
		return 0, content.ErrBatchTooLarge
	}
	call := len(c.DeleteCalls)
	c.DeleteCalls = append(c.DeleteCalls, append([]string(nil), keys...))
	if c.DeleteErr != nil {
		if err := c.DeleteErr(call, keys); err != nil {
			return 0, err
		}
	}
	for _, k := range keys {
		delete(c.objects, k)
	}
	return len(keys), nil
}

// ContentType returns the content type key was stored with.
func (c *Content) ContentType(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.types[key]
}

// Keys returns every stored key under prefix, sorted.
func (c *Content) Keys(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysLocked(prefix)
}

func (c *Content) keysLocked(prefix string) []string {
	var keys []string
	for k := range c.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

var _ content.Store = (*Content)(nil)
