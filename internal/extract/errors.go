package extract

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrUnsupportedContent = errors.New("content type not supported by extractor")
	ErrTimeout            = errors.New("extraction timed out")
	ErrUnavailable        = errors.New("extraction backend unavailable")
	ErrInvalidResponse    = errors.New("extraction backend returned invalid response")
)

// Kind names a class of extraction failure. It is the prefix of the message
// recorded on a failed item.
type Kind string

const (
	KindUnsupportedContent Kind = "UnsupportedContent"
	KindTimeout            Kind = "Timeout"
	KindUnavailable        Kind = "Unavailable"
	KindInvalidResponse    Kind = "InvalidResponse"
	KindFailed             Kind = "ExtractionFailed"
)

// Error is a classified extraction failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify returns err as an *Error, deriving the kind from the sentinel it
// wraps when err is not already classified.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindFailed
	switch {
	case errors.Is(err, ErrUnsupportedContent):
		kind = KindUnsupportedContent
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrUnavailable):
		kind = KindUnavailable
	case errors.Is(err, ErrInvalidResponse):
		kind = KindInvalidResponse
	}
	return &Error{Kind: kind, Err: err}
}

// Message formats err as "<Kind>: <detail>" for storage on a failed item.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return Classify(err).Error()
}
