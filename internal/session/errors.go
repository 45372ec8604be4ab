package session

import "errors"

// Sentinel errors for session outcomes.
var (
	// ErrValidation indicates the input or the backend configuration was
	// rejected before any network call.
	ErrValidation = errors.New("session: validation failed")

	// ErrAborted indicates the session was cancelled by an explicit abort.
	ErrAborted = errors.New("session: aborted")

	// ErrSuperseded indicates the session was aborted because a newer one
	// started.
	ErrSuperseded = errors.New("session: superseded by a newer session")

	// ErrIncompleteStream indicates the backend stream ended without the
	// terminator line while one was required.
	ErrIncompleteStream = errors.New("session: stream ended before completion")

	// ErrNoProvider indicates the controller has no backend.
	ErrNoProvider = errors.New("session: no provider configured")
)

// IsCancellation reports whether err is an abort or a supersession.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrAborted) || errors.Is(err, ErrSuperseded)
}
