package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes pipeline failures so transports can map them to
// status codes without string matching.
type ErrorKind string

const (
	// KindInvalidRequest marks user-correctable input problems.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindRetrievalUnavailable marks retrieval backend failures. Never
	// conflated with an empty result set.
	KindRetrievalUnavailable ErrorKind = "retrieval_unavailable"
	// KindGenerationFailure marks answer-generation backend failures.
	KindGenerationFailure ErrorKind = "generation_failure"
	// KindAssemblyFault marks internal response-construction faults. These
	// are recovered with a degraded response, logged, and never surfaced.
	KindAssemblyFault ErrorKind = "assembly_fault"
)

// Error is a pipeline failure with a kind and an optional cause.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on kind so callers can test errors.Is(err, ErrRetrievalUnavailable).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

var (
	ErrInvalidRequest       = newError(KindInvalidRequest, "question is empty", nil)
	ErrRetrievalUnavailable = newError(KindRetrievalUnavailable, "retrieval backend unavailable", nil)
	ErrGenerationFailure    = newError(KindGenerationFailure, "answer generation failed", nil)
)

// KindOf extracts the pipeline error kind, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	return ""
}
