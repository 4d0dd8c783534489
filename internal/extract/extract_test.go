package extract_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/kiranshivaraju/ocrbatch/internal/config"
	"github.com/kiranshivaraju/ocrbatch/internal/extract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")

// --- Classification ---

func TestMessage_UsesKindPrefix(t *testing.T) {
	err := &extract.Error{Kind: extract.KindUnsupportedContent, Err: errors.New("application/zip")}
	assert.Equal(t, "UnsupportedContent: application/zip", extract.Message(err))
}

func TestClassify_Sentinels(t *testing.T) {
	assert.Equal(t, extract.KindTimeout, extract.Classify(context.DeadlineExceeded).Kind)
	assert.Equal(t, extract.KindUnavailable, extract.Classify(extract.ErrUnavailable).Kind)
	assert.Equal(t, extract.KindInvalidResponse, extract.Classify(extract.ErrInvalidResponse).Kind)
	assert.Equal(t, extract.KindFailed, extract.Classify(errors.New("boom")).Kind)
	assert.Nil(t, extract.Classify(nil))
	assert.Equal(t, "", extract.Message(nil))
}

func TestError_Unwrap(t *testing.T) {
	err := &extract.Error{Kind: extract.KindTimeout, Err: extract.ErrTimeout}
	assert.ErrorIs(t, err, extract.ErrTimeout)
}

// --- Factory ---

func TestNewExtractor(t *testing.T) {
	cases := map[string]string{"tesseract": "tesseract", "http": "http", "plaintext": "plaintext"}
	for backend, name := range cases {
		ex, err := extract.NewExtractor(config.ExtractorConfig{
			Backend: backend,
			HTTP:    config.HTTPExtractorConfig{URL: "http://ocr.local", Timeout: time.Second},
		})
		require.NoError(t, err)
		assert.Equal(t, name, ex.Name())
	}

	_, err := extract.NewExtractor(config.ExtractorConfig{Backend: "easyocr"})
	assert.ErrorContains(t, err, "unknown extractor")
}

// --- Tesseract ---

type fakeRunner struct {
	stdout, stderr []byte
	err            error
	name           string
	args           []string
	stdin          []byte
}

func (f *fakeRunner) Run(_ context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	f.stdin, f.name, f.args = stdin, name, args
	return f.stdout, f.stderr, f.err
}

func TestTesseract_Success(t *testing.T) {
	r := &fakeRunner{stdout: []byte("  TOTAL  12.50\n\nTHANK YOU\n")}
	tess := extract.NewTesseract(config.TesseractConfig{Lang: "por", PSM: 6}, r)

	text, err := tess.Extract(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "TOTAL 12.50 THANK YOU", text)
	assert.Equal(t, "tesseract", r.name)
	assert.Equal(t, []string{"stdin", "stdout", "-l", "por", "--psm", "6"}, r.args)
	assert.Equal(t, pngHeader, r.stdin)
}

func TestTesseract_RejectsNonImage(t *testing.T) {
	r := &fakeRunner{}
	tess := extract.NewTesseract(config.TesseractConfig{}, r)

	_, err := tess.Extract(context.Background(), []byte("just some text"))
	require.Error(t, err)
	assert.Equal(t, extract.KindUnsupportedContent, extract.Classify(err).Kind)
	assert.Empty(t, r.name, "runner must not be invoked")
}

func TestTesseract_CommandFailure(t *testing.T) {
	r := &fakeRunner{stderr: []byte("Error in pixReadMem\n"), err: errors.New("exit status 1")}
	tess := extract.NewTesseract(config.TesseractConfig{}, r)

	_, err := tess.Extract(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Equal(t, "ExtractionFailed: Error in pixReadMem", extract.Message(err))
}

func TestTesseract_LongFailureKeepsValidUTF8(t *testing.T) {
	stderr := strings.Repeat("x", 511) + "é tail"
	r := &fakeRunner{stderr: []byte(stderr), err: errors.New("exit status 1")}
	tess := extract.NewTesseract(config.TesseractConfig{}, r)

	_, err := tess.Extract(context.Background(), pngHeader)
	require.Error(t, err)
	msg := extract.Message(err)
	assert.True(t, utf8.ValidString(msg))
	assert.Equal(t, "ExtractionFailed: "+strings.Repeat("x", 511)+"...(truncated)", msg)
}

func TestTesseract_BinaryMissing(t *testing.T) {
	r := &fakeRunner{err: &exec.Error{Name: "tesseract", Err: exec.ErrNotFound}}
	tess := extract.NewTesseract(config.TesseractConfig{}, r)

	_, err := tess.Extract(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Equal(t, extract.KindUnavailable, extract.Classify(err).Kind)
}

func TestTesseract_DeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	r := &fakeRunner{err: errors.New("signal: killed")}
	tess := extract.NewTesseract(config.TesseractConfig{}, r)

	_, err := tess.Extract(ctx, pngHeader)
	require.Error(t, err)
	assert.Equal(t, extract.KindTimeout, extract.Classify(err).Kind)
}

// --- Plain text ---

func TestPlainText(t *testing.T) {
	p := extract.NewPlainText()

	text, err := p.Extract(context.Background(), []byte("line one\nline two  "))
	require.NoError(t, err)
	assert.Equal(t, "line one line two", text)

	_, err = p.Extract(context.Background(), pngHeader)
	assert.Equal(t, extract.KindUnsupportedContent, extract.Classify(err).Kind)
}

// --- HTTP ---

func newHTTPExtractor(t *testing.T, handler http.HandlerFunc, timeout time.Duration) *extract.HTTPExtractor {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return extract.NewHTTPExtractor(config.HTTPExtractorConfig{URL: srv.URL + "/ocr", Timeout: timeout})
}

func TestHTTPExtractor_Success(t *testing.T) {
	var gotType, gotPath string
	h := newHTTPExtractor(t, func(w http.ResponseWriter, r *http.Request) {
		gotType = r.Header.Get("Content-Type")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello\nworld"}`))
	}, time.Second)

	text, err := h.Extract(context.Background(), pngHeader)
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
	assert.Equal(t, "image/png", gotType)
	assert.Equal(t, "/ocr", gotPath)
}

func TestHTTPExtractor_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   extract.Kind
	}{
		{http.StatusUnsupportedMediaType, extract.KindUnsupportedContent},
		{http.StatusServiceUnavailable, extract.KindUnavailable},
		{http.StatusTooManyRequests, extract.KindUnavailable},
		{http.StatusBadRequest, extract.KindFailed},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			h := newHTTPExtractor(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}, time.Second)

			_, err := h.Extract(context.Background(), pngHeader)
			require.Error(t, err)
			assert.Equal(t, tc.kind, extract.Classify(err).Kind)
		})
	}
}

func TestHTTPExtractor_InvalidBody(t *testing.T) {
	h := newHTTPExtractor(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"result":"x"}`))
	}, time.Second)

	_, err := h.Extract(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Equal(t, extract.KindInvalidResponse, extract.Classify(err).Kind)
}

func TestHTTPExtractor_Timeout(t *testing.T) {
	h := newHTTPExtractor(t, func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"text":"late"}`))
	}, 50*time.Millisecond)

	_, err := h.Extract(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Equal(t, extract.KindTimeout, extract.Classify(err).Kind)
}

func TestHTTPExtractor_Unreachable(t *testing.T) {
	h := extract.NewHTTPExtractor(config.HTTPExtractorConfig{URL: "http://127.0.0.1:1/ocr", Timeout: time.Second})

	_, err := h.Extract(context.Background(), pngHeader)
	require.Error(t, err)
	assert.Equal(t, extract.KindUnavailable, extract.Classify(err).Kind)
}
