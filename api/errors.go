package api

import "errors"

// Sentinel errors for the exchange API boundary. Callers distinguish them
// with errors.Is.
var (
	// ErrUpstreamUnavailable indicates a network failure or non-2xx response
	// from the exchange. Recoverable; retried at the polling/reconnect layer.
	ErrUpstreamUnavailable = errors.New("exchange upstream unavailable")

	// ErrNotFound indicates an unknown market or wallet. Not retried.
	ErrNotFound = errors.New("not found")
)
