// Package config provides configuration management for stratacache.
package config

import (
	"fmt"
	"time"

	"github.com/lanewhitten/stratacache/internal/types"
)

// SecretString is a string type that redacts its value when marshaled.
type SecretString = types.SecretString

// NewSecretString creates a new SecretString with the provided value.
func NewSecretString(value string) SecretString {
	return types.NewSecretString(value)
}

// Config contains all configuration for the tiered cache orchestrator.
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type Config struct {
	Memory         MemoryConfig         `json:"memory"`
	Store          StoreConfig          `json:"store"`
	Freshness      FreshnessConfig      `json:"freshness"`
	Backpressure   BackpressureConfig   `json:"backpressure"`
	CircuitBreaker CircuitBreakerConfig `json:"circuitBreaker"`
	Retry          RetryConfig          `json:"retry"`
	Fallback       FallbackConfig       `json:"fallback"`
	Isolation      IsolationConfig      `json:"isolation"`
	Compression    CompressionConfig    `json:"compression"`
	Warming        WarmingConfig        `json:"warming"`
	Metrics        MetricsConfig        `json:"metrics"`
	Defaults       DefaultsConfig       `json:"defaults"`
}

// MemoryConfig tunes the in-process cache tier.
type MemoryConfig struct {
	Enabled         bool          `json:"enabled"`
	MaxSizeMB       int           `json:"maxSizeMB"`
	Shards          int           `json:"shards"`
	DefaultTTL      time.Duration `json:"defaultTTL"`
	CleanupInterval time.Duration `json:"cleanupInterval"`
	MaxEntrySize    int           `json:"maxEntrySize"`
}

// StoreConfig tunes the durable shared store (Redis).
//
//nolint:govet // Configuration struct - logical grouping prioritized over alignment
type StoreConfig struct {
	Enabled             bool          `json:"enabled"`
	Address             string        `json:"address"`
	Password            SecretString  `json:"password"`
	DB                  int           `json:"db"`
	KeyPrefix           string        `json:"keyPrefix"`
	DefaultTTL          time.Duration `json:"defaultTTL"`
	PoolSize            int           `json:"poolSize"`
	MinIdleConns        int           `json:"minIdleConns"`
	DialTimeout         time.Duration `json:"dialTimeout"`
	ReadTimeout         time.Duration `json:"readTimeout"`
	WriteTimeout        time.Duration `json:"writeTimeout"`
	HealthCheckInterval time.Duration `json:"healthCheckInterval"`
	EnableTLS           bool          `json:"enableTLS"`
	TLSSkipVerify       bool          `json:"tlsSkipVerify"`
}

// FreshnessConfig sets the age thresholds for freshness classification and
// the refresh interval recommended for each status.
type FreshnessConfig struct {
	RealtimeMaxAge    time.Duration `json:"realtimeMaxAge"`
	NeartimeMaxAge    time.Duration `json:"neartimeMaxAge"`
	StabilizingMaxAge time.Duration `json:"stabilizingMaxAge"`

	RealtimeRefresh    time.Duration `json:"realtimeRefresh"`
	NeartimeRefresh    time.Duration `json:"neartimeRefresh"`
	StabilizingRefresh time.Duration `json:"stabilizingRefresh"`
}

// BackpressureConfig sizes the origin admission gate.
type BackpressureConfig struct {
	ConcurrencyLimit int           `json:"concurrencyLimit"`
	QueueSize        int           `json:"queueSize"`
	QueueTimeout     time.Duration `json:"queueTimeout"`
	SweepInterval    time.Duration `json:"sweepInterval"`
}

// CircuitBreakerConfig tunes the rolling error-rate breaker guarding origin
// calls.
type CircuitBreakerConfig struct {
	Enabled    bool          `json:"enabled"`
	Threshold  float64       `json:"threshold"`
	Window     time.Duration `json:"window"`
	Cooldown   time.Duration `json:"cooldown"`
	MinSamples int           `json:"minSamples"`
}

// RetryConfig tunes origin retry behavior.
type RetryConfig struct {
	Enabled           bool          `json:"enabled"`
	MaxAttempts       int           `json:"maxAttempts"`
	InitialDelay      time.Duration `json:"initialDelay"`
	BackoffMultiplier float64       `json:"backoffMultiplier"`
	MaxBackoff        time.Duration `json:"maxBackoff"`
	Jitter            bool          `json:"jitter"`
	AttemptTimeout    time.Duration `json:"attemptTimeout"`
}

// FallbackConfig controls the tier fallback chain walked when retries are
// exhausted.
type FallbackConfig struct {
	StaleDurable  bool          `json:"staleDurable"`
	SourceTimeout time.Duration `json:"sourceTimeout"`
}

// IsolationConfig tunes per-source fault isolation.
type IsolationConfig struct {
	Enabled           bool          `json:"enabled"`
	TripCount         int           `json:"tripCount"`
	Duration          time.Duration `json:"duration"`
	RecoveryThreshold float64       `json:"recoveryThreshold"`
	ProbeWindow       int           `json:"probeWindow"`
}

// CompressionConfig tunes payload compression.
type CompressionConfig struct {
	Algorithm              string `json:"algorithm"`
	ThresholdBytes         int    `json:"thresholdBytes"`
	DecompressionCacheSize int    `json:"decompressionCacheSize"`
}

// WarmingConfig tunes the predictive refresh loop.
type WarmingConfig struct {
	Enabled             bool          `json:"enabled"`
	Interval            time.Duration `json:"interval"`
	BatchSize           int           `json:"batchSize"`
	DelayBetweenBatches time.Duration `json:"delayBetweenBatches"`
	MaxCallsPerHour     int           `json:"maxCallsPerHour"`
	MaxKeysPerRun       int           `json:"maxKeysPerRun"`
	MaxMemoryPercent    float64       `json:"maxMemoryPercent"`
}

// MetricsConfig controls metrics publishing.
type MetricsConfig struct {
	Enabled         bool          `json:"enabled"`
	PublishInterval time.Duration `json:"publishInterval"`
	DataDog         DataDogConfig `json:"datadog"`
}

// DataDogConfig configures the StatsD publisher.
//
//nolint:govet // Small config struct - minimal alignment benefit
type DataDogConfig struct {
	Enabled   bool     `json:"enabled"`
	AgentHost string   `json:"agentHost"`
	Port      int      `json:"port"`
	Prefix    string   `json:"prefix"`
	Tags      []string `json:"tags"`
}

// DefaultsConfig contains per-call defaults.
type DefaultsConfig struct {
	Priority   string `json:"priority"`
	AllowStale bool   `json:"allowStale"`
}

// Validate rejects a configuration that cannot produce a working
// orchestrator. It is called at construction; an invalid config never gets
// as far as serving traffic.
//
//nolint:gocyclo // Validation is a flat list of field checks
func (c *Config) Validate() error {
	if c.Backpressure.ConcurrencyLimit <= 0 {
		return fmt.Errorf("config: concurrencyLimit must be positive, got %d", c.Backpressure.ConcurrencyLimit)
	}
	if c.Backpressure.QueueSize <= 0 {
		return fmt.Errorf("config: queueSize must be positive, got %d", c.Backpressure.QueueSize)
	}
	if c.Backpressure.QueueTimeout <= 0 {
		return fmt.Errorf("config: queueTimeout must be positive, got %s", c.Backpressure.QueueTimeout)
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.Threshold <= 0 || c.CircuitBreaker.Threshold > 1 {
			return fmt.Errorf("config: circuitBreaker.threshold must be in (0,1], got %g", c.CircuitBreaker.Threshold)
		}
		if c.CircuitBreaker.Window <= 0 {
			return fmt.Errorf("config: circuitBreaker.window must be positive, got %s", c.CircuitBreaker.Window)
		}
		if c.CircuitBreaker.Cooldown <= 0 {
			return fmt.Errorf("config: circuitBreaker.cooldown must be positive, got %s", c.CircuitBreaker.Cooldown)
		}
	}

	if c.Retry.Enabled {
		if c.Retry.MaxAttempts < 1 {
			return fmt.Errorf("config: retry.maxAttempts must be at least 1, got %d", c.Retry.MaxAttempts)
		}
		if c.Retry.InitialDelay <= 0 {
			return fmt.Errorf("config: retry.initialDelay must be positive, got %s", c.Retry.InitialDelay)
		}
		if c.Retry.BackoffMultiplier < 1 {
			return fmt.Errorf("config: retry.backoffMultiplier must be at least 1, got %g", c.Retry.BackoffMultiplier)
		}
		if c.Retry.MaxBackoff < c.Retry.InitialDelay {
			return fmt.Errorf("config: retry.maxBackoff %s below initialDelay %s", c.Retry.MaxBackoff, c.Retry.InitialDelay)
		}
	}

	if c.Isolation.Enabled {
		if c.Isolation.RecoveryThreshold <= 0 || c.Isolation.RecoveryThreshold > 1 {
			return fmt.Errorf("config: isolation.recoveryThreshold must be in (0,1], got %g", c.Isolation.RecoveryThreshold)
		}
		if c.Isolation.Duration <= 0 {
			return fmt.Errorf("config: isolation.duration must be positive, got %s", c.Isolation.Duration)
		}
	}

	switch c.Compression.Algorithm {
	case "", "none", "gzip", "s2", "zstd":
	default:
		return fmt.Errorf("config: unknown compression algorithm %q", c.Compression.Algorithm)
	}
	if c.Compression.ThresholdBytes < 0 {
		return fmt.Errorf("config: compression.thresholdBytes must not be negative, got %d", c.Compression.ThresholdBytes)
	}

	if c.Warming.Enabled {
		if c.Warming.BatchSize <= 0 {
			return fmt.Errorf("config: warming.batchSize must be positive, got %d", c.Warming.BatchSize)
		}
		if c.Warming.Interval <= 0 {
			return fmt.Errorf("config: warming.interval must be positive, got %s", c.Warming.Interval)
		}
		if c.Warming.MaxCallsPerHour < 0 {
			return fmt.Errorf("config: warming.maxCallsPerHour must not be negative, got %d", c.Warming.MaxCallsPerHour)
		}
	}

	if c.Memory.Enabled && c.Memory.MaxSizeMB <= 0 {
		return fmt.Errorf("config: memory.maxSizeMB must be positive, got %d", c.Memory.MaxSizeMB)
	}
	if c.Store.Enabled && c.Store.Address == "" {
		return fmt.Errorf("config: store.address required when store is enabled")
	}

	if c.Freshness.RealtimeMaxAge > c.Freshness.NeartimeMaxAge ||
		c.Freshness.NeartimeMaxAge > c.Freshness.StabilizingMaxAge {
		return fmt.Errorf("config: freshness age thresholds must be ascending")
	}

	return nil
}
