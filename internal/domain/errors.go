package domain

import "errors"

var (
	// ErrPrecondition is returned when an operation runs before the caller
	// identity or session state it needs exists.
	ErrPrecondition = errors.New("precondition failed")
	// ErrSessionNotFound is returned for unknown session IDs.
	ErrSessionNotFound = errors.New("session not found")
	// ErrAccessDenied is returned when a private session's access code does not match.
	ErrAccessDenied = errors.New("access denied")
	// ErrTransport is returned when a transport never reaches the connected state.
	ErrTransport = errors.New("transport failure")
	// ErrUpstreamFetch marks failures of external metadata or media providers.
	ErrUpstreamFetch   = errors.New("upstream fetch failed")
	ErrInvalidArgument = errors.New("invalid argument")
)
