// Package errs defines the error taxonomy shared by the ingestion and query
// pipelines. Every failure that crosses a component boundary carries a
// machine-readable Kind so callers (HTTP surface, CLI, metrics) can classify
// it without string matching.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// Decode indicates a file was unreadable under every tried encoding or
	// parsing engine.
	Decode Kind = "decode_error"
	// Extraction indicates the OCR capability failed, timed out, or returned
	// a low-confidence/unusable result.
	Extraction Kind = "extraction_error"
	// Materialization indicates schema creation or post-write validation
	// failed; the table did not actually persist as reported.
	Materialization Kind = "materialization_error"
	// PoolExhausted indicates no database connection became available within
	// the checkout timeout.
	PoolExhausted Kind = "pool_exhausted"
	// Generation indicates the text-to-SQL capability failed.
	Generation Kind = "generation_error"
	// Validation indicates generated SQL was rejected by policy; it was
	// never executed.
	Validation Kind = "validation_error"
	// Execution indicates database execution failed after the single repair
	// attempt.
	Execution Kind = "execution_error"
)

// E wraps an error with a kind and a human-friendly message.
type E struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }
func Newf(kind Kind, format string, a ...any) *E {
	return &E{Kind: kind, Message: fmt.Sprintf(format, a...)}
}
func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }

// KindOf returns the Kind of err if it is (or wraps) an *E, else "".
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
