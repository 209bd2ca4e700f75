package session

import "errors"

var (
	// ErrNotFound indicates the target session does not exist or has expired.
	// The HTTP boundary maps it to an invalid-session response.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps transport-level failures talking to the
	// backing store. Not retried inside this package.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrDuplicateID indicates an identifier collision during create. It is
	// retried transparently by the Manager and never surfaced to callers.
	ErrDuplicateID = errors.New("duplicate session identifier")
)
