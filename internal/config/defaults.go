package config

import "time"

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			Enabled:         true,
			MaxSizeMB:       256,
			Shards:          1024,
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 30 * time.Second,
			MaxEntrySize:    10 * 1024 * 1024, // 10MB
		},
		Store: StoreConfig{
			Enabled:             false,
			Address:             "localhost:6379",
			Password:            SecretString{},
			DB:                  0,
			KeyPrefix:           "strata:",
			DefaultTTL:          30 * 24 * time.Hour,
			PoolSize:            50,
			MinIdleConns:        5,
			DialTimeout:         5 * time.Second,
			ReadTimeout:         3 * time.Second,
			WriteTimeout:        3 * time.Second,
			HealthCheckInterval: 5 * time.Second,
		},
		Freshness: FreshnessConfig{
			RealtimeMaxAge:     48 * time.Hour,
			NeartimeMaxAge:     14 * 24 * time.Hour,
			StabilizingMaxAge:  60 * 24 * time.Hour,
			RealtimeRefresh:    4 * time.Hour,
			NeartimeRefresh:    24 * time.Hour,
			StabilizingRefresh: 7 * 24 * time.Hour,
		},
		Backpressure: BackpressureConfig{
			ConcurrencyLimit: 8,
			QueueSize:        100,
			QueueTimeout:     30 * time.Second,
			SweepInterval:    1 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:    true,
			Threshold:  0.5,
			Window:     60 * time.Second,
			Cooldown:   30 * time.Second,
			MinSamples: 5,
		},
		Retry: RetryConfig{
			Enabled:           true,
			MaxAttempts:       3,
			InitialDelay:      1 * time.Second,
			BackoffMultiplier: 2.0,
			MaxBackoff:        30 * time.Second,
			Jitter:            true,
			AttemptTimeout:    15 * time.Second,
		},
		Fallback: FallbackConfig{
			StaleDurable:  true,
			SourceTimeout: 5 * time.Second,
		},
		Isolation: IsolationConfig{
			Enabled:           true,
			TripCount:         3,
			Duration:          2 * time.Minute,
			RecoveryThreshold: 0.6,
			ProbeWindow:       5,
		},
		Compression: CompressionConfig{
			Algorithm:              "s2",
			ThresholdBytes:         4096,
			DecompressionCacheSize: 128,
		},
		Warming: WarmingConfig{
			Enabled:             false,
			Interval:            15 * time.Minute,
			BatchSize:           5,
			DelayBetweenBatches: 5 * time.Second,
			MaxCallsPerHour:     200,
			MaxKeysPerRun:       50,
			MaxMemoryPercent:    85,
		},
		Metrics: MetricsConfig{
			Enabled:         true,
			PublishInterval: 10 * time.Second,
			DataDog: DataDogConfig{
				Enabled:   false,
				AgentHost: "127.0.0.1",
				Port:      8125,
				Prefix:    "stratacache",
				Tags:      []string{},
			},
		},
		Defaults: DefaultsConfig{
			Priority:   "normal",
			AllowStale: true,
		},
	}
}

// ForTesting returns a minimal configuration suitable for unit tests.
// Timings are short and the durable store is disabled.
func ForTesting() *Config {
	cfg := DefaultConfig()

	cfg.Memory.MaxSizeMB = 16
	cfg.Memory.Shards = 64
	cfg.Memory.DefaultTTL = 1 * time.Minute
	cfg.Memory.CleanupInterval = 1 * time.Second
	cfg.Memory.MaxEntrySize = 1024 * 1024

	cfg.Store.Enabled = false
	cfg.Store.KeyPrefix = "test:"

	cfg.Backpressure.ConcurrencyLimit = 4
	cfg.Backpressure.QueueSize = 16
	cfg.Backpressure.QueueTimeout = 2 * time.Second
	cfg.Backpressure.SweepInterval = 10 * time.Millisecond

	cfg.CircuitBreaker.Enabled = false
	cfg.CircuitBreaker.Cooldown = 100 * time.Millisecond
	cfg.CircuitBreaker.Window = 1 * time.Second

	cfg.Retry.Enabled = false
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.InitialDelay = 10 * time.Millisecond
	cfg.Retry.MaxBackoff = 100 * time.Millisecond
	cfg.Retry.Jitter = false
	cfg.Retry.AttemptTimeout = 1 * time.Second

	cfg.Isolation.Enabled = false
	cfg.Isolation.Duration = 100 * time.Millisecond

	cfg.Compression.Algorithm = "none"
	cfg.Compression.ThresholdBytes = 64

	cfg.Warming.Interval = 100 * time.Millisecond
	cfg.Warming.DelayBetweenBatches = 10 * time.Millisecond

	cfg.Metrics.Enabled = false

	return cfg
}

// ForTestingWithStore returns a test config with the durable store enabled.
func ForTestingWithStore(addr string) *Config {
	cfg := ForTesting()
	cfg.Store.Enabled = true
	cfg.Store.Address = addr
	return cfg
}
