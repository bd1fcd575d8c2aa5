package models

import (
	"context"
	"errors"
)

var (
	// ErrMissingReference means an edge endpoint has no node in the graph yet.
	// Callers skip and log; reconciliation heals it.
	ErrMissingReference = errors.New("missing reference")

	// ErrDuplicateFact is a unique-constraint hit on something already recorded.
	// Callers treat it as success.
	ErrDuplicateFact = errors.New("duplicate fact")

	// ErrStoreUnavailable wraps transient network and timeout failures. Retried with backoff.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrNotFound means the canonical record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed entities, facts and content.
	ErrInvalidInput = errors.New("invalid input")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, context.DeadlineExceeded)
}
