package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/ocrbatch/internal/extract"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// MockExtractor satisfies models.Extractor for testing.
type MockExtractor struct {
	Name_       string
	ExtractFunc func(ctx context.Context, data []byte) (string, error)

	mu    sync.Mutex
	calls int
}

func (m *MockExtractor) Name() string { return m.Name_ }

func (m *MockExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, data)
	}
	return string(data), nil
}

// Calls reports how many times Extract has been invoked.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// NewMockExtractor returns a MockExtractor that echoes its input as text.
func NewMockExtractor() *MockExtractor {
	return &MockExtractor{Name_: "mock"}
}

// NewFailingExtractor returns a MockExtractor that always fails with kind.
func NewFailingExtractor(kind extract.Kind, err error) *MockExtractor {
	return &MockExtractor{
		Name_: "mock",
		ExtractFunc: func(_ context.Context, _ []byte) (string, error) {
			return "", &extract.Error{Kind: kind, Err: err}
		},
	}
}

var _ models.Extractor = (*MockExtractor)(nil)
