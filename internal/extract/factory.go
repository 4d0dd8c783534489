// Package extract provides the text extraction back ends applied to job items.
package extract

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/ocrbatch/internal/config"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// NewExtractor constructs the back end selected by cfg.Backend.
// Called once at worker startup.
func NewExtractor(cfg config.ExtractorConfig) (models.Extractor, error) {
	switch cfg.Backend {
	case "tesseract":
		return NewTesseract(cfg.Tesseract, nil), nil
	case "http":
		return NewHTTPExtractor(cfg.HTTP), nil
	case "plaintext":
		return NewPlainText(), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q: must be one of tesseract, http, plaintext", cfg.Backend)
	}
}

// normalizeText joins recognised text into a single space-separated paragraph.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
