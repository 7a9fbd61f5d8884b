package stratacache

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/cache"
	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/metrics"
	"github.com/lanewhitten/stratacache/internal/metrics/datadog"
	"github.com/lanewhitten/stratacache/internal/types"
)

// New creates a cache orchestrator with default configuration. An origin
// must be supplied via WithOrigin.
func New(opts ...Option) (Cache, error) {
	return NewFromConfig(config.DefaultConfig(), opts...)
}

// NewFromConfig creates a cache orchestrator from configuration. The
// configuration is validated and copied; later mutation of cfg has no
// effect on the running orchestrator.
//
//nolint:gocyclo // Construction is a flat sequence of wiring steps
func NewFromConfig(cfg *config.Config, opts ...Option) (Cache, error) {
	if cfg == nil {
		return nil, errors.New("stratacache: configuration is required")
	}
	options := &Options{}
	for _, opt := range opts {
		opt(options)
	}

	resolved := *cfg
	if options.StoreAddress != "" {
		resolved.Store.Address = options.StoreAddress
	}
	if options.StorePassword != "" {
		resolved.Store.Password = config.NewSecretString(options.StorePassword)
	}
	if options.DisableStore {
		resolved.Store.Enabled = false
	}
	if options.DisableResilience {
		resolved.CircuitBreaker.Enabled = false
		resolved.Retry.Enabled = false
		resolved.Isolation.Enabled = false
	}
	if options.DisableWarming {
		resolved.Warming.Enabled = false
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	logger := options.Logger
	clock := options.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	recorder := options.Metrics
	var tracker *metrics.Tracker
	if recorder == nil && resolved.Metrics.Enabled {
		tracker = metrics.NewTracker()
		recorder = tracker
	}

	manager, err := cache.NewManager(&resolved, cache.Options{
		Origin:      options.Origin,
		Memory:      options.Memory,
		Store:       options.Store,
		RecordCodec: options.RecordCodec,
		Metrics:     recorder,
		Logger:      logger,
		Clock:       clock,
	})
	if err != nil {
		return nil, err
	}

	o := &orchestrator{manager: manager}

	o.scheduler = cache.NewWarmingScheduler(manager, resolved.Warming, clock, recorder, logger)
	o.scheduler.Start()

	if tracker != nil {
		publisher := options.Publisher
		if publisher == nil {
			publisher, err = datadog.NewPublisher(&resolved.Metrics.DataDog, logger)
			if err != nil {
				o.scheduler.Close()
				_ = manager.Close()
				return nil, err
			}
		}
		o.publisher = publisher
		o.background = metrics.NewBackgroundPublisher(tracker, publisher, resolved.Metrics.PublishInterval, logger)
		o.background.Start(context.Background())
	}

	return o, nil
}

// NewFromFile creates a cache orchestrator from a JSON config file with
// environment overrides applied.
func NewFromFile(path string, opts ...Option) (Cache, error) {
	cfg, err := config.LoadWithEnv(path)
	if err != nil {
		return nil, err
	}
	return NewFromConfig(cfg, opts...)
}

// NewMemoryOnly creates an orchestrator that skips the durable tier.
func NewMemoryOnly(opts ...Option) (Cache, error) {
	cfg := config.DefaultConfig()
	cfg.Store.Enabled = false
	return NewFromConfig(cfg, opts...)
}

// Config returns a default configuration that can be modified before
// creating an orchestrator.
func Config() *config.Config {
	return config.DefaultConfig()
}

// TestConfig returns a configuration suitable for unit tests.
func TestConfig() *config.Config {
	return config.ForTesting()
}

// orchestrator glues the cache manager, the warming scheduler and the
// metrics publishing loop behind the Cache interface.
type orchestrator struct {
	manager    *cache.Manager
	scheduler  *cache.WarmingScheduler
	background *metrics.BackgroundPublisher
	publisher  metrics.Publisher
}

var _ Cache = (*orchestrator)(nil)

func (o *orchestrator) Resolve(ctx context.Context, key Key, opts ...ResolveOption) (*Record, error) {
	return o.manager.Resolve(ctx, key, opts...)
}

func (o *orchestrator) Invalidate(ctx context.Context, key Key) error {
	return o.manager.Invalidate(ctx, key)
}

func (o *orchestrator) InvalidateScope(ctx context.Context, scope string) error {
	return o.manager.InvalidateScope(ctx, scope)
}

// Warm triggers a single warming run regardless of the background
// schedule. It returns the number of keys refreshed.
func (o *orchestrator) Warm(ctx context.Context) (int, error) {
	return o.scheduler.RunOnce(ctx)
}

func (o *orchestrator) Stats() Stats {
	return o.manager.Stats()
}

func (o *orchestrator) Health() Health {
	return o.manager.Health()
}

func (o *orchestrator) Close() error {
	return o.CloseWithTimeout(cache.DefaultShutdownTimeout)
}

// CloseWithTimeout stops the warming scheduler and metrics publishing,
// then shuts the manager down. Safe to call more than once.
func (o *orchestrator) CloseWithTimeout(timeout time.Duration) error {
	o.scheduler.Close()
	if o.background != nil {
		o.background.Stop()
	}

	var errs []error
	if o.publisher != nil {
		if err := o.publisher.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := o.manager.CloseWithTimeout(timeout); err != nil && !errors.Is(err, types.ErrClosed) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
