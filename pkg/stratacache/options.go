package stratacache

import (
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/metrics"
	"github.com/lanewhitten/stratacache/internal/types"
)

// Options are construction-time collaborators and switches.
type Options struct {
	Origin      types.Origin
	Memory      types.MemoryLayer
	Store       types.DurableStore
	RecordCodec types.RecordCodec
	Metrics     types.MetricsRecorder
	Publisher   metrics.Publisher
	Logger      *slog.Logger
	Clock       clockwork.Clock

	StoreAddress  string
	StorePassword string

	DisableStore      bool
	DisableResilience bool
	DisableWarming    bool
}

// Option configures the orchestrator at construction.
type Option func(*Options)

// WithOrigin sets the origin client resolved on cache misses. Required.
func WithOrigin(origin types.Origin) Option {
	return func(o *Options) {
		o.Origin = origin
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m types.MetricsRecorder) Option {
	return func(o *Options) {
		o.Metrics = m
	}
}

// WithPublisher sets a custom metrics publisher for the background
// publishing loop.
func WithPublisher(p metrics.Publisher) Option {
	return func(o *Options) {
		o.Publisher = p
	}
}

// WithStore injects a durable store, replacing the Redis one built from
// config. Mostly used by tests.
func WithStore(s types.DurableStore) Option {
	return func(o *Options) {
		o.Store = s
	}
}

// WithMemoryLayer injects a memory tier, replacing the BigCache one built
// from config.
func WithMemoryLayer(m types.MemoryLayer) Option {
	return func(o *Options) {
		o.Memory = m
	}
}

// WithRecordCodec sets the record encoding for both tiers.
func WithRecordCodec(c types.RecordCodec) Option {
	return func(o *Options) {
		o.RecordCodec = c
	}
}

// WithClock injects a clock. Tests use a fake clock to drive cooldowns,
// backoffs and warming schedules deterministically.
func WithClock(clock clockwork.Clock) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithStoreAddress overrides the configured Redis address.
func WithStoreAddress(addr string) Option {
	return func(o *Options) {
		o.StoreAddress = addr
	}
}

// WithStorePassword overrides the configured Redis password.
func WithStorePassword(password string) Option {
	return func(o *Options) {
		o.StorePassword = password
	}
}

// WithoutStore disables the durable tier, leaving memory+origin mode.
func WithoutStore() Option {
	return func(o *Options) {
		o.DisableStore = true
	}
}

// WithoutResilience disables the circuit breaker, retries and fault
// isolation. Intended for tests that assert raw fetch behavior.
func WithoutResilience() Option {
	return func(o *Options) {
		o.DisableResilience = true
	}
}

// WithoutWarming disables the background warming scheduler.
func WithoutWarming() Option {
	return func(o *Options) {
		o.DisableWarming = true
	}
}
