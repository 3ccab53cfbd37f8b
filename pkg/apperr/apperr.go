package apperr

import "errors"

// Sentinel errors shared across services and handlers. Services wrap these
// with fmt.Errorf("...: %w", ...) so handlers can map them to HTTP status
// codes with errors.Is.
var (
	// ErrNotFound marks lookups for unknown session or queue-item IDs.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks missing or malformed required input.
	ErrValidation = errors.New("invalid input")

	// ErrInvalidSongData marks a song descriptor missing its track ID or
	// playable URI. Raised before any persistence is attempted.
	ErrInvalidSongData = errors.New("invalid song data")

	// ErrUpstreamAuth marks a credential rejection from the streaming
	// provider. Callers refresh the credential and retry once.
	ErrUpstreamAuth = errors.New("provider rejected credentials")

	// ErrUpstreamUnavailable marks network failures or 5xx responses from
	// the streaming provider.
	ErrUpstreamUnavailable = errors.New("provider unavailable")
)
