package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so callers can translate them into operator-facing messages.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: entity does not exist in store
// - ErrConflict: write collides with an existing row (duplicate natural key)
// - ErrInvalidState: entity in wrong state for requested operation
// - ErrAlreadySeeded: store already holds a canonical entity set
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrInvalidState  = errors.New("invalid state")
	ErrAlreadySeeded = errors.New("already seeded")
)
