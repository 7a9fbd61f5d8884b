// Package stratacache provides a resilient tiered cache orchestrator for
// read-heavy analytics workloads.
//
// stratacache sits between an application and a slow, rate-limited origin
// API. It answers reads from an in-process memory tier (bigcache) backed by
// a shared durable tier (Redis), and only goes to the origin when both miss
// or the caller forces a refresh. Origin traffic is shaped by a priority
// admission gate, a rolling error-rate circuit breaker, retries with
// exponential backoff, and per-source fault isolation.
//
// # Features
//
//   - Tiered Reads: memory, then durable store, then origin, with
//     write-through on fetch
//   - Request Coalescing: concurrent resolves of the same key share one
//     origin fetch
//   - Freshness Classification: records carry a freshness status derived
//     from the age of their underlying data
//   - Resilience: circuit breaker, bounded priority queue, retry with
//     jittered backoff, stale-durable fallback and source isolation
//   - Integrity: payload checksums verified on read and before commit,
//     with automatic invalidation on mismatch
//   - Warming: a background scheduler refreshes soon-to-expire keys within
//     a configurable origin call budget
//   - Observability: metrics tracking with a pluggable publisher and a
//     DataDog StatsD implementation
//
// # Quick Start
//
// Create an orchestrator with default configuration and an origin client:
//
//	cache, err := stratacache.New(stratacache.WithOrigin(origin))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
// # Resolving Records
//
// Resolve returns a materialized record, fetching from the origin on miss:
//
//	ctx := context.Background()
//	record, err := cache.Resolve(ctx, stratacache.Key{
//	    Scope:    "campaign-42",
//	    Subscope: "impressions",
//	    Bucket:   "2026-08-30",
//	})
//
// Per-call behavior is controlled with resolve options:
//
//	// Bypass cached copies and refetch
//	record, err := cache.Resolve(ctx, key, stratacache.WithForceRefresh())
//
//	// Reject partial results
//	record, err := cache.Resolve(ctx, key, stratacache.WithRequireComplete())
//
//	// Jump the origin admission queue
//	record, err := cache.Resolve(ctx, key,
//	    stratacache.WithResolvePriority(stratacache.PriorityCritical))
//
// # Invalidation
//
// Invalidate removes one key from every tier; InvalidateScope removes all
// keys sharing a scope prefix. Both are idempotent:
//
//	err := cache.Invalidate(ctx, key)
//	err = cache.InvalidateScope(ctx, "campaign-42")
//
// # Degradation
//
// When the durable store is unreachable the orchestrator keeps serving
// from memory and the origin. When the origin fails and the caller allows
// it, a stale durable copy is served flagged as stale. Callers can inspect
// Record.Provenance to see which tier answered and whether the data is
// stale or partial.
//
// # Configuration
//
// Load configuration from a JSON file with environment overrides:
//
//	cache, err := stratacache.NewFromFile("config.json",
//	    stratacache.WithOrigin(origin))
//
// Or start from the default configuration and customize it:
//
//	cfg := stratacache.Config()
//	cfg.Store.Address = "localhost:6379"
//	cfg.Warming.Enabled = true
//	cache, err := stratacache.NewFromConfig(cfg, stratacache.WithOrigin(origin))
//
// For testing, use the test configuration:
//
//	cfg := stratacache.TestConfig()
//
// # Thread Safety
//
// All operations are safe for concurrent use from multiple goroutines.
package stratacache
