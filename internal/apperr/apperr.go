// Package apperr defines the tagged error type returned across component boundaries.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind classifies an Error.
type Kind string

const (
	// KindConfiguration marks missing or placeholder secrets. Never retried.
	KindConfiguration Kind = "configuration"
	// KindDataProcessing marks CSV read, schema or write failures.
	KindDataProcessing Kind = "data_processing"
	// KindVectorStore marks embedding, splitting or persistence failures.
	KindVectorStore Kind = "vector_store"
	// KindRecommendation marks a per-query failure.
	KindRecommendation Kind = "recommendation"
	// KindSystemInit marks a recommender that could not be constructed.
	KindSystemInit Kind = "system_init"
	// KindPipeline marks an unrecoverable build run.
	KindPipeline Kind = "pipeline"
)

// Error carries a kind, a human message, the underlying cause and identifying context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

// New returns an Error of the given kind wrapping cause (which may be nil).
func New(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// With attaches a context value and returns the receiver for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		b.WriteString(" (")
		b.WriteString(strings.Join(parts, ", "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// KindOf returns the kind of the outermost Error in err's chain, or "" if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether any Error in err's chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Cause
	}
	return false
}
