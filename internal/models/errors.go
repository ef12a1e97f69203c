package models

import (
	"context"
	"errors"
)

// ErrorType identifies the category of error that occurred.
type ErrorType string

const (
	// Catalog phase
	ErrTypeNotFound          ErrorType = "not_found"
	ErrTypeAmbiguousMatch    ErrorType = "ambiguous_match"
	ErrTypeMalformedMetadata ErrorType = "malformed_metadata"

	// Whole-invocation failures
	ErrTypeNoSubjectsFound ErrorType = "no_subjects_found"
	ErrTypeNoDataFound     ErrorType = "no_data_found"

	// Dispatch phase
	ErrTypeExternalToolFailed  ErrorType = "external_tool_failed"
	ErrTypeExternalToolTimeout ErrorType = "external_tool_timeout"

	// Catch-all
	ErrTypeInternal ErrorType = "internal_error"
)

var (
	// ErrNotFound reports an expected artifact or transform that is absent.
	ErrNotFound = errors.New("not found")

	// ErrAmbiguousMatch reports more than one candidate where exactly one was
	// expected. It matches ErrNotFound under errors.Is.
	ErrAmbiguousMatch = &ambiguousError{}

	// ErrMalformedMetadata reports a sidecar that is missing or lacks a required field.
	ErrMalformedMetadata = errors.New("malformed metadata")

	// ErrNoSubjectsFound reports an enumeration pass with zero subject directories.
	ErrNoSubjectsFound = errors.New("no subjects found")

	// ErrNoDataFound reports a catalog without any usable runs.
	ErrNoDataFound = errors.New("no data found")

	// ErrExternalTool reports a dispatched external invocation that failed.
	ErrExternalTool = errors.New("external tool failed")
)

type ambiguousError struct{}

func (e *ambiguousError) Error() string { return "ambiguous match" }

func (e *ambiguousError) Is(target error) bool { return target == ErrNotFound }

// Classify maps an error onto its ErrorType.
func Classify(err error) ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAmbiguousMatch):
		return ErrTypeAmbiguousMatch
	case errors.Is(err, ErrNotFound):
		return ErrTypeNotFound
	case errors.Is(err, ErrMalformedMetadata):
		return ErrTypeMalformedMetadata
	case errors.Is(err, ErrNoSubjectsFound):
		return ErrTypeNoSubjectsFound
	case errors.Is(err, ErrNoDataFound):
		return ErrTypeNoDataFound
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTypeExternalToolTimeout
	case errors.Is(err, ErrExternalTool):
		return ErrTypeExternalToolFailed
	default:
		return ErrTypeInternal
	}
}
