package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/allegro/bigcache/v3"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// MemoryCache is the in-process tier, backed by BigCache. Values are
// codec-encoded records; eviction is BigCache's LRU-approximate policy
// bounded by HardMaxCacheSize.
type MemoryCache struct {
	cache  *bigcache.BigCache
	config config.MemoryConfig
	logger *slog.Logger

	hits      atomic.Int64
	misses    atomic.Int64
	sets      atomic.Int64
	deletes   atomic.Int64
	evictions atomic.Int64

	closed atomic.Bool
}

// NewMemoryCache creates the memory tier with the given configuration.
func NewMemoryCache(cfg config.MemoryConfig, logger *slog.Logger) (*MemoryCache, error) {
	if logger == nil {
		logger = slog.Default()
	}

	mc := &MemoryCache{
		config: cfg,
		logger: logger.With("component", "memory-cache"),
	}

	bcConfig := bigcache.Config{
		Shards:             cfg.Shards,
		LifeWindow:         cfg.DefaultTTL,
		CleanWindow:        cfg.CleanupInterval,
		MaxEntriesInWindow: 1000 * 10 * 60,
		MaxEntrySize:       cfg.MaxEntrySize,
		HardMaxCacheSize:   cfg.MaxSizeMB,
		Verbose:            false,
		Logger:             &bigcacheLogger{logger: logger},
		OnRemoveWithReason: func(key string, entry []byte, reason bigcache.RemoveReason) {
			if reason == bigcache.NoSpace || reason == bigcache.Expired {
				mc.evictions.Add(1)
			}
		},
	}

	bc, err := bigcache.New(context.Background(), bcConfig)
	if err != nil {
		return nil, err
	}

	mc.cache = bc
	return mc, nil
}

// IsAvailable returns true if the cache is not closed.
func (c *MemoryCache) IsAvailable() bool {
	return !c.closed.Load()
}

// Get retrieves an encoded record from the memory tier.
func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, types.ErrClosed
	}

	data, err := c.cache.Get(key)
	if err != nil {
		if err == bigcache.ErrEntryNotFound {
			c.misses.Add(1)
			return nil, types.ErrCacheMiss
		}
		return nil, &types.StoreError{Op: "Get", Key: key, Err: err}
	}

	c.hits.Add(1)
	return data, nil
}

// Set stores an encoded record in the memory tier.
func (c *MemoryCache) Set(ctx context.Context, key string, value []byte) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	if err := c.cache.Set(key, value); err != nil {
		return &types.StoreError{Op: "Set", Key: key, Err: err}
	}

	c.sets.Add(1)
	return nil
}

// Delete removes a record from the memory tier. Deleting a missing key is
// not an error.
func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	if err := c.cache.Delete(key); err != nil {
		if err != bigcache.ErrEntryNotFound {
			return &types.StoreError{Op: "Delete", Key: key, Err: err}
		}
	}

	c.deletes.Add(1)
	return nil
}

// Clear removes all entries from the memory tier.
func (c *MemoryCache) Clear(ctx context.Context) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	return c.cache.Reset()
}

// ClearByPrefix removes every entry whose key starts with prefix. BigCache
// has no secondary index, so this is a full iteration; scope invalidation
// is rare enough that the linear walk is acceptable.
func (c *MemoryCache) ClearByPrefix(ctx context.Context, prefix string) error {
	if c.closed.Load() {
		return types.ErrClosed
	}

	var keysToDelete []string

	iter := c.cache.Iterator()
	for iter.SetNext() {
		entry, err := iter.Value()
		if err != nil {
			continue
		}
		if strings.HasPrefix(entry.Key(), prefix) {
			keysToDelete = append(keysToDelete, entry.Key())
		}
	}

	for _, key := range keysToDelete {
		_ = c.cache.Delete(key)
	}

	c.logger.Debug("Cleared entries by prefix",
		"prefix", prefix,
		"deleted", len(keysToDelete),
	)

	return nil
}

// Close closes the memory tier and releases its shards.
func (c *MemoryCache) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.cache.Close()
}

// Stats returns memory tier counters.
func (c *MemoryCache) Stats() types.MemoryStats {
	return types.MemoryStats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Sets:      c.sets.Load(),
		Deletes:   c.deletes.Load(),
		Evictions: c.evictions.Load(),
	}
}

// EntryCount returns the number of entries currently held.
func (c *MemoryCache) EntryCount() int {
	return c.cache.Len()
}

// UsagePercentage returns the tier's fill level against its configured
// maximum. The warming scheduler uses this to decide whether to skip runs.
func (c *MemoryCache) UsagePercentage() float64 {
	maxBytes := int64(c.config.MaxSizeMB) * 1024 * 1024
	if maxBytes == 0 {
		return 0
	}
	return float64(c.cache.Capacity()) / float64(maxBytes) * 100
}

type bigcacheLogger struct {
	logger *slog.Logger
}

func (l *bigcacheLogger) Printf(format string, args ...any) {
	l.logger.Debug("bigcache: "+format, args...)
}

var _ types.MemoryLayer = (*MemoryCache)(nil)
