package stratacache

import (
	"context"
	"time"
)

// Cache is the tiered cache orchestrator. All methods are safe for
// concurrent use.
type Cache interface {
	// Resolve returns the record for key, reading memory, then the durable
	// store, then fetching from the origin. Concurrent resolves for the
	// same key share a single origin fetch.
	Resolve(ctx context.Context, key Key, opts ...ResolveOption) (*Record, error)

	// Invalidate removes the record for key from both cache tiers.
	Invalidate(ctx context.Context, key Key) error

	// InvalidateScope removes every record in the named scope.
	InvalidateScope(ctx context.Context, scope string) error

	// Warm triggers one warming pass immediately, returning how many keys
	// were refreshed.
	Warm(ctx context.Context) (int, error)

	// Stats returns a point-in-time statistics snapshot.
	Stats() Stats

	// Health reports tier availability and resilience state.
	Health() Health

	// Close shuts the orchestrator down, waiting for background work.
	Close() error

	// CloseWithTimeout is Close with a caller-chosen wait bound.
	CloseWithTimeout(timeout time.Duration) error
}
