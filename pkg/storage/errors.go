package storage

import "errors"

var (
	// Read errors.

	// ErrNotFound when a point read matches no row.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCursor when a pagination cursor fails to decode. Surfaced to
	// clients as a request error, never silently reset to page one.
	ErrInvalidCursor = errors.New("invalid cursor")

	// Write errors.

	// ErrCollision when an insert hits a unique constraint. The indexing layer
	// treats this as an idempotent no-op.
	ErrCollision = errors.New("item already exists")
	// ErrDuplicateRecord when content-addressed dedup finds an equivalent
	// record already indexed under a different uri.
	ErrDuplicateRecord = errors.New("duplicate record")
)
