package kamo

import "errors"

// Upstream failure taxonomy. Unavailable and malformed are area-level failures
// for the cycle that sees them; empty is not a failure at all.
var (
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamMalformed   = errors.New("upstream response malformed")
	ErrUpstreamEmpty       = errors.New("upstream returned no records")
)

// Read-side failures, surfaced directly to callers and never retried.
var (
	ErrAreaNotFound = errors.New("area not found")
	ErrNoData       = errors.New("no data for area")
	ErrInvalidRange = errors.New("invalid range")
)

// ErrImportRunning is returned when a manual trigger arrives while a cycle is
// already executing. The caller should retry after the cycle completes.
var ErrImportRunning = errors.New("an import cycle is already running")
