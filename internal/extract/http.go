package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kiranshivaraju/ocrbatch/internal/config"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// HTTPExtractor posts raw bytes to an external OCR service and reads back
// {"text": "..."}.
type HTTPExtractor struct {
	url    string
	client *http.Client
}

func NewHTTPExtractor(cfg config.HTTPExtractorConfig) *HTTPExtractor {
	return &HTTPExtractor{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (h *HTTPExtractor) Name() string { return "http" }

type ocrResponse struct {
	Text  *string `json:"text"`
	Error string  `json:"error,omitempty"`
}

func (h *HTTPExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", mimetype.Detect(data).String())
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnsupportedMediaType || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", &Error{Kind: KindUnsupportedContent, Err: fmt.Errorf("%w: status %d%s", ErrUnsupportedContent, resp.StatusCode, errorDetail(resp.Body))}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", &Error{Kind: KindFailed, Err: fmt.Errorf("ocr service status %d%s", resp.StatusCode, errorDetail(resp.Body))}
	}

	var body ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("%w: %v", ErrInvalidResponse, err)}
	}
	if body.Text == nil {
		return "", &Error{Kind: KindInvalidResponse, Err: fmt.Errorf("%w: missing text field", ErrInvalidResponse)}
	}
	return normalizeText(*body.Text), nil
}

func errorDetail(r io.Reader) string {
	var body ocrResponse
	raw, _ := io.ReadAll(io.LimitReader(r, 4<<10))
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return ": " + body.Error
	}
	return ""
}

// classifyError maps transport-level errors to classified extraction errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &Error{Kind: KindTimeout, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
		}
		return &Error{Kind: KindUnavailable, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
	}

	return &Error{Kind: KindUnavailable, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}

var _ models.Extractor = (*HTTPExtractor)(nil)
