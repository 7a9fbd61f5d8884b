package stratacache

import (
	"github.com/lanewhitten/stratacache/internal/types"
)

var (
	// ErrCacheMiss indicates that a requested key was not found in any tier.
	ErrCacheMiss = types.ErrCacheMiss
	// ErrStoreUnavailable indicates that the durable store is unreachable.
	ErrStoreUnavailable = types.ErrStoreUnavailable
	// ErrCircuitOpen indicates that the origin circuit breaker is open.
	ErrCircuitOpen = types.ErrCircuitOpen
	// ErrQueueFull indicates that the origin admission queue is at capacity.
	ErrQueueFull = types.ErrQueueFull
	// ErrQueueTimeout indicates that a queued call's deadline passed before
	// a slot freed.
	ErrQueueTimeout = types.ErrQueueTimeout
	// ErrDataIntegrity indicates a checksum mismatch on a cached record.
	ErrDataIntegrity = types.ErrDataIntegrity
	// ErrSourceIsolated indicates that a fallback source is isolated.
	ErrSourceIsolated = types.ErrSourceIsolated
	// ErrClosed indicates that the orchestrator has been closed.
	ErrClosed = types.ErrClosed
	// ErrInvalidKey indicates that a cache key failed validation.
	ErrInvalidKey = types.ErrInvalidKey
)

// IsCacheMiss returns true if the error is a cache miss.
func IsCacheMiss(err error) bool {
	return types.IsCacheMiss(err)
}

// IsCircuitOpen returns true if the error indicates the breaker is open.
func IsCircuitOpen(err error) bool {
	return types.IsCircuitOpen(err)
}

// IsQueueFull returns true if the error indicates queue overflow.
func IsQueueFull(err error) bool {
	return types.IsQueueFull(err)
}

// IsQueueTimeout returns true if a queued call's deadline expired.
func IsQueueTimeout(err error) bool {
	return types.IsQueueTimeout(err)
}

// IsDataIntegrity returns true if the error is a checksum mismatch.
func IsDataIntegrity(err error) bool {
	return types.IsDataIntegrity(err)
}

// IsRetryable returns true if the error can be retried.
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}

// RetryAfterHint extracts an explicit retry-after delay, if the error
// carries one.
var RetryAfterHint = types.RetryAfterHint
