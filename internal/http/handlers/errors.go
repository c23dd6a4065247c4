// Package handlers provides HTTP handler implementations for the public API.
// This file centralizes the stable machine-readable error codes used in
// error envelopes, so clients can branch without parsing messages.
package handlers

const (
	// ErrCodeInvalidRequest marks malformed input (bad body, empty code).
	ErrCodeInvalidRequest = "invalid_request"
	// ErrCodeNotFound marks a missing route or a code with no remote record.
	ErrCodeNotFound = "not_found"
	// ErrCodeMethodNotAllowed marks an unsupported method on a known route.
	ErrCodeMethodNotAllowed = "method_not_allowed"
	// ErrCodeStreamInactive marks a detection injected while no capture
	// stream is running.
	ErrCodeStreamInactive = "stream_inactive"
	// ErrCodeRateLimited marks refusal by the remote service (or this API's
	// own limiter); the client may surface an upgrade path.
	ErrCodeRateLimited = "rate_limited"
	// ErrCodeUpstream marks a transient remote failure; the client may retry
	// by re-scanning.
	ErrCodeUpstream = "upstream_unavailable"
	// ErrCodeInternal marks unexpected server-side failures.
	ErrCodeInternal = "internal_error"
)
