package ledger

import "errors"

// Ledger errors
var (
	// ErrNotFound indicates the requested row was not found. Backends wrap
	// it into the matching domain sentinel where the entity kind is known.
	ErrNotFound = errors.New("not found")

	// ErrUnknownEntity indicates a LockEntity value no backend table maps to.
	ErrUnknownEntity = errors.New("unknown lock entity")
)
