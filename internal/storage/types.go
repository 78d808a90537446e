package storage

import (
	"errors"
	"time"
)

var (
	// ErrNotFound indicates that the requested resource was not found.
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSessionEnded indicates a write was attempted against an ended session.
	ErrSessionEnded = errors.New("session has ended")
)

// SearchOptions provides options for long-term search operations.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// Offset is the number of results to skip.
	Offset int

	// Topics restricts results to records carrying at least one of these
	// topic labels. Empty means no topic filter.
	Topics []string

	// Kind restricts results to a single record kind. Empty means both kinds.
	Kind string

	// CreatedAfter restricts results to records created strictly after this
	// time. Zero value means no lower bound.
	CreatedAfter time.Time

	// FuzzyFallback enables a relaxed OR-based retry when a lexical search
	// returns zero results.
	FuzzyFallback bool
}

// Normalize applies defaults and validates the SearchOptions.
func (o *SearchOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 10
	}
	if o.Limit > 100 {
		o.Limit = 100
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// ListOptions provides pagination for turn-log reads.
type ListOptions struct {
	// Limit is the maximum number of turns to return (default: 50, max: 500).
	Limit int

	// Offset is the number of turns to skip from the start of the log.
	Offset int
}

// Normalize applies defaults and validates the ListOptions.
func (o *ListOptions) Normalize() {
	if o.Limit < 1 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}
