package types

import (
	"context"
	"time"
)

// Origin is the upstream metrics API. It is external, rate limited and
// fallible; implementations should return *UpstreamError so failures can be
// classified for retry and circuit-breaking decisions.
type Origin interface {
	Fetch(ctx context.Context, key Key) (*Payload, error)
}

// MemoryLayer is the in-process cache tier. Values are encoded records.
type MemoryLayer interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	ClearByPrefix(ctx context.Context, prefix string) error
	IsAvailable() bool
	EntryCount() int
	UsagePercentage() float64
	Close() error
}

// DurableStore is the shared, eventually consistent record store.
type DurableStore interface {
	Get(ctx context.Context, key string) (*Record, error)
	Set(ctx context.Context, record *Record) error
	Delete(ctx context.Context, key string) error
	Query(ctx context.Context, filter StoreFilter) ([]*Record, error)
	IsAvailable() bool
	Close() error
}

// RecordCodec encodes records for storage in either tier.
type RecordCodec interface {
	Encode(record *Record) ([]byte, error)
	Decode(data []byte) (*Record, error)
}

// MetricsRecorder receives cache operation metrics. All methods must be
// cheap and non-blocking.
type MetricsRecorder interface {
	RecordHit(tier string, latency time.Duration)
	RecordMiss(latency time.Duration)
	RecordOriginFetch(latency time.Duration, err error)
	RecordQueueDepth(depth int)
	RecordCircuitStateChange(from, to string)
	RecordRetry(kind string)
	RecordFallback(source string)
	RecordIntegrityFailure()
	RecordWarmingRun(keys int)
}

// Logger is the minimal structured logging surface callers can plug in.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
