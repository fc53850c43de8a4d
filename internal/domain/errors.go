package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation errors are rejected before any network call and
// never retried; authorization errors are surfaced without retry; Unavailable
// covers network, timeout, and backend failures.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrUnavailable   = errors.New("messaging backend unavailable")

	ErrEmptyText      = fmt.Errorf("%w: message text is empty", ErrValidation)
	ErrTextTooLong    = fmt.Errorf("%w: message text exceeds %d bytes", ErrValidation, MaxTextLen)
	ErrSelfMessage    = fmt.Errorf("%w: sender and recipient are the same identity", ErrValidation)
	ErrNotParticipant = fmt.Errorf("%w: identity is not a participant", ErrAuthorization)
)
