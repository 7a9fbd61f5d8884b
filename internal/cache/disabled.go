package cache

import (
	"context"

	"github.com/lanewhitten/stratacache/internal/types"
)

// DisabledMemoryCache is a no-op memory tier.
type DisabledMemoryCache struct{}

// NewDisabledMemoryCache creates a disabled memory tier.
func NewDisabledMemoryCache() *DisabledMemoryCache {
	return &DisabledMemoryCache{}
}

// IsAvailable returns false as this tier is disabled.
func (c *DisabledMemoryCache) IsAvailable() bool { return false }

// Close does nothing as this tier is disabled.
func (c *DisabledMemoryCache) Close() error { return nil }

// EntryCount returns 0 as this tier is disabled.
func (c *DisabledMemoryCache) EntryCount() int { return 0 }

// UsagePercentage returns 0 as this tier is disabled.
func (c *DisabledMemoryCache) UsagePercentage() float64 { return 0 }

// Clear does nothing as this tier is disabled.
func (c *DisabledMemoryCache) Clear(ctx context.Context) error { return nil }

// ClearByPrefix does nothing as this tier is disabled.
func (c *DisabledMemoryCache) ClearByPrefix(ctx context.Context, prefix string) error { return nil }

// Get returns ErrCacheMiss as this tier is disabled.
func (c *DisabledMemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, types.ErrCacheMiss
}

// Set does nothing as this tier is disabled.
func (c *DisabledMemoryCache) Set(ctx context.Context, key string, value []byte) error {
	return nil
}

// Delete does nothing as this tier is disabled.
func (c *DisabledMemoryCache) Delete(ctx context.Context, key string) error {
	return nil
}

// DisabledStore is a no-op durable store.
type DisabledStore struct{}

// NewDisabledStore creates a disabled durable store.
func NewDisabledStore() *DisabledStore {
	return &DisabledStore{}
}

// IsAvailable returns false as this store is disabled.
func (s *DisabledStore) IsAvailable() bool { return false }

// Close does nothing as this store is disabled.
func (s *DisabledStore) Close() error { return nil }

// Get returns ErrStoreUnavailable as this store is disabled.
func (s *DisabledStore) Get(ctx context.Context, key string) (*types.Record, error) {
	return nil, types.ErrStoreUnavailable
}

// Set does nothing as this store is disabled.
func (s *DisabledStore) Set(ctx context.Context, record *types.Record) error {
	return nil
}

// Delete does nothing as this store is disabled.
func (s *DisabledStore) Delete(ctx context.Context, key string) error {
	return nil
}

// Query returns no records as this store is disabled.
func (s *DisabledStore) Query(ctx context.Context, filter types.StoreFilter) ([]*types.Record, error) {
	return nil, nil
}

var _ types.MemoryLayer = (*DisabledMemoryCache)(nil)
var _ types.DurableStore = (*DisabledStore)(nil)
