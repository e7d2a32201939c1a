package util

import (
	"errors"
	"fmt"
)

// Kind names one of the failure classes surfaced to callers.
type Kind string

const (
	KindExtraction      Kind = "extraction_error"
	KindIndexWrite      Kind = "index_write_error"
	KindSynthesis       Kind = "synthesis_error"
	KindUnknownDocument Kind = "unknown_document"
)

var (
	ErrNoExtractableText = errors.New("no extractable text found in PDF")
	ErrNotPDF            = errors.New("not a PDF stream")

	ErrQuotaExhausted = errors.New("provider quota exhausted")
	ErrRateLimited    = errors.New("provider rate limited")
	ErrTransient      = errors.New("transient provider error")
	ErrPermanent      = errors.New("permanent provider error")
	ErrContextTooLong = errors.New("context too long")
)

// Error attaches a Kind and the failing operation to an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E wraps err with a kind. A nil err yields nil.
func E(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the outermost Kind in err's chain, or "" when none is set.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether a failure may succeed when tried again.
// Extraction and unknown-document failures are deterministic.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindExtraction, KindUnknownDocument:
		return false
	}
	return true
}
