package reconcile

import "errors"

var (
	// ErrVersionMismatch is the optimistic-lock failure: the submitted version is stale.
	// Stores return it (possibly wrapped) from Save.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrUnrecoverableConflict is returned when a write still mismatches after the single
	// permitted reload. It is always joined with ErrVersionMismatch.
	ErrUnrecoverableConflict = errors.New("unrecoverable edit conflict")
)
