package extract

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/kiranshivaraju/ocrbatch/pkg/models"
)

// PlainText passes UTF-8 text documents through unchanged apart from
// whitespace normalisation. Anything else is unsupported.
type PlainText struct{}

func NewPlainText() *PlainText { return &PlainText{} }

func (PlainText) Name() string { return "plaintext" }

func (PlainText) Extract(_ context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
		return "", &Error{Kind: KindUnsupportedContent, Err: fmt.Errorf("%w: not UTF-8 text", ErrUnsupportedContent)}
	}
	return normalizeText(string(data)), nil
}

var _ models.Extractor = PlainText{}
