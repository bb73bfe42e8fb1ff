package rbac

import "errors"

var (
	// ErrNotFound: resource absent. Benign on delete, an error on read/update.
	ErrNotFound = errors.New("rbac: not found")
	// ErrUnauthorized: credentials rejected by the backing API.
	ErrUnauthorized = errors.New("rbac: unauthorized")
	// ErrForbidden: authenticated but not allowed by the backing API.
	ErrForbidden = errors.New("rbac: forbidden")
	// ErrUnavailable: network failure or timeout; retryable by the caller,
	// never retried silently and never turned into an authorization decision.
	ErrUnavailable = errors.New("rbac: backing store unavailable")
	// ErrConflict: concurrent writer won the read-modify-write race.
	ErrConflict = errors.New("rbac: version conflict")
	// ErrInvalid: malformed input.
	ErrInvalid = errors.New("rbac: invalid input")
)
