package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/kiranshivaraju/ocrbatch/internal/config"
	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// Runner lets us stub external commands in tests.
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	dur := time.Since(start)

	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", dur.Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"duration_ms", dur.Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}

	return out.Bytes(), errb.Bytes(), err
}

// Tesseract runs the tesseract CLI, feeding image bytes on stdin and reading
// the recognised text from stdout.
type Tesseract struct {
	cfg    config.TesseractConfig
	runner Runner
}

// NewTesseract returns a Tesseract extractor. A nil runner executes the real binary.
func NewTesseract(cfg config.TesseractConfig, runner Runner) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	if runner == nil {
		runner = execRunner{}
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Extract(ctx context.Context, data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", &Error{Kind: KindUnsupportedContent, Err: fmt.Errorf("%w: %s", ErrUnsupportedContent, mt.String())}
	}

	args := []string{"stdin", "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}

	stdout, stderr, err := t.runner.Run(ctx, data, t.cfg.Binary, args...)
	if err != nil {
		switch {
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return "", &Error{Kind: KindTimeout, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
		case errors.Is(err, exec.ErrNotFound):
			return "", &Error{Kind: KindUnavailable, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
		}
		detail := strings.TrimSpace(string(stderr))
		if detail == "" {
			detail = err.Error()
		}
		return "", &Error{Kind: KindFailed, Err: errors.New(truncate(detail, 512))}
	}

	return normalizeText(string(stdout)), nil
}

// truncate cuts s to at most max bytes on a rune boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "...(truncated)"
}

var _ models.Extractor = (*Tesseract)(nil)
