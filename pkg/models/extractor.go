// Package models contains shared data models used across the ocrbatch codebase.
package models

import "context"

// Extractor is the processing function applied to every JobItem's bytes.
// Never call a specific back end directly; always inject this interface.
type Extractor interface {
	// Extract returns the text recognised in data, or a classified failure.
	Extract(ctx context.Context, data []byte) (string, error)
	// Name returns the back end identifier (e.g., "tesseract", "http").
	Name() string
}
