package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaMismatch means a source feed no longer has the columns we depend on.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrNotFound means a requested state, metric, or reference entry does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMissingReference means population or lookup data needed for a derived value is absent.
	ErrMissingReference = errors.New("missing reference")
	// ErrNetworkFailure means a source fetch failed. Retrying is left to the caller.
	ErrNetworkFailure = errors.New("network failure")
	// ErrInvalidQuery means the query itself is malformed (empty selection, bad mode).
	ErrInvalidQuery = errors.New("invalid query")
)

// SchemaMismatchError names the source and the required columns it is missing.
type SchemaMismatchError struct {
	Source  string
	Missing []string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("%s: %s: missing columns [%s]", ErrSchemaMismatch, e.Source, strings.Join(e.Missing, ", "))
}

func (e *SchemaMismatchError) Unwrap() error { return ErrSchemaMismatch }

// NotFoundError identifies what kind of key was looked up and failed.
type NotFoundError struct {
	Kind string // "state", "metric", "reference"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q: %s", e.Kind, e.Key, ErrNotFound)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// MissingReferenceError reports a state whose reference data cannot support a request.
type MissingReferenceError struct {
	State  string
	Reason string
}

func (e *MissingReferenceError) Error() string {
	return fmt.Sprintf("%s for %s: %s", ErrMissingReference, e.State, e.Reason)
}

func (e *MissingReferenceError) Unwrap() error { return ErrMissingReference }
