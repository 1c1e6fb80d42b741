package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Duplicate responses, closed requests and quorum misses are expected races
// in normal operation; callers match on these with errors.Is and map them to
// rejection reasons rather than treating them as faults.

var (
	// Request lifecycle errors
	ErrRequestNotFound   = errors.New("request not found")
	ErrRequestClosed     = errors.New("request is not pending")
	ErrRequestExpired    = errors.New("request deadline has passed")
	ErrDuplicateResponse = errors.New("provider has already responded")

	// Aggregation errors
	ErrInsufficientQuorum = errors.New("not enough valid responses")
	ErrUnsupportedPayload = errors.New("unsupported data shape")
	ErrUnknownStrategy    = errors.New("unknown aggregation strategy")

	// Provider registry errors
	ErrProviderNotFound = errors.New("provider not registered")
	ErrProviderExists   = errors.New("provider already registered")

	// Publish errors
	ErrChainNotConnected = errors.New("blockchain not connected")
	ErrNotFinalized      = errors.New("request is not finalized")
)
