package store

import "errors"

// Behavioral error kinds. Callers branch with errors.Is; the HTTP layer maps
// them to status codes.
var (
	// ErrNotFound signals an unknown session, relationship, or agent id.
	ErrNotFound = errors.New("not found")

	// ErrConstraint signals a rejected write, e.g. an edge that would
	// create a relationship cycle.
	ErrConstraint = errors.New("constraint violation")

	// ErrValidation signals malformed or incomplete input.
	ErrValidation = errors.New("invalid input")

	// ErrCycle signals that a tree or lineage traversal met a visited node.
	ErrCycle = errors.New("cycle detected")

	// ErrCacheUnavailable signals that the cache circuit is open or the
	// transport failed. Write paths enqueue to the sync queue and proceed.
	ErrCacheUnavailable = errors.New("cache unavailable")

	// ErrRetryExhausted signals a sync operation that gave up after the
	// configured maximum attempts.
	ErrRetryExhausted = errors.New("retry exhausted")
)
