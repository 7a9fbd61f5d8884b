package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Load loads configuration from a JSON file. A missing file yields the
// default configuration.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithEnv loads configuration from a JSON file and applies environment
// overrides (STRATACACHE_* variables).
func LoadWithEnv(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

//nolint:gocyclo // Environment variable parsing requires many conditional checks
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRATACACHE_MEMORY_ENABLED"); v != "" {
		cfg.Memory.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATACACHE_MEMORY_MAX_SIZE_MB"); v != "" {
		cfg.Memory.MaxSizeMB = parseInt(v, cfg.Memory.MaxSizeMB)
	}

	if v := os.Getenv("STRATACACHE_STORE_ENABLED"); v != "" {
		cfg.Store.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATACACHE_STORE_ADDRESS"); v != "" {
		cfg.Store.Address = v
	}
	if v := os.Getenv("STRATACACHE_STORE_PASSWORD"); v != "" {
		cfg.Store.Password = NewSecretString(v)
	}
	if v := os.Getenv("STRATACACHE_STORE_DB"); v != "" {
		cfg.Store.DB = parseInt(v, cfg.Store.DB)
	}
	if v := os.Getenv("STRATACACHE_STORE_KEY_PREFIX"); v != "" {
		cfg.Store.KeyPrefix = v
	}
	if v := os.Getenv("STRATACACHE_STORE_ENABLE_TLS"); v != "" {
		cfg.Store.EnableTLS = parseBool(v)
	}

	if v := os.Getenv("STRATACACHE_CONCURRENCY_LIMIT"); v != "" {
		cfg.Backpressure.ConcurrencyLimit = parseInt(v, cfg.Backpressure.ConcurrencyLimit)
	}
	if v := os.Getenv("STRATACACHE_QUEUE_SIZE"); v != "" {
		cfg.Backpressure.QueueSize = parseInt(v, cfg.Backpressure.QueueSize)
	}
	if v := os.Getenv("STRATACACHE_QUEUE_TIMEOUT"); v != "" {
		cfg.Backpressure.QueueTimeout = parseDuration(v, cfg.Backpressure.QueueTimeout)
	}

	if v := os.Getenv("STRATACACHE_CIRCUIT_ENABLED"); v != "" {
		cfg.CircuitBreaker.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATACACHE_CIRCUIT_THRESHOLD"); v != "" {
		cfg.CircuitBreaker.Threshold = parseFloat(v, cfg.CircuitBreaker.Threshold)
	}
	if v := os.Getenv("STRATACACHE_CIRCUIT_WINDOW"); v != "" {
		cfg.CircuitBreaker.Window = parseDuration(v, cfg.CircuitBreaker.Window)
	}
	if v := os.Getenv("STRATACACHE_CIRCUIT_COOLDOWN"); v != "" {
		cfg.CircuitBreaker.Cooldown = parseDuration(v, cfg.CircuitBreaker.Cooldown)
	}

	if v := os.Getenv("STRATACACHE_RETRY_MAX_ATTEMPTS"); v != "" {
		cfg.Retry.MaxAttempts = parseInt(v, cfg.Retry.MaxAttempts)
	}
	if v := os.Getenv("STRATACACHE_RETRY_INITIAL_DELAY"); v != "" {
		cfg.Retry.InitialDelay = parseDuration(v, cfg.Retry.InitialDelay)
	}
	if v := os.Getenv("STRATACACHE_RETRY_MAX_BACKOFF"); v != "" {
		cfg.Retry.MaxBackoff = parseDuration(v, cfg.Retry.MaxBackoff)
	}

	if v := os.Getenv("STRATACACHE_COMPRESSION_ALGORITHM"); v != "" {
		cfg.Compression.Algorithm = v
	}
	if v := os.Getenv("STRATACACHE_COMPRESSION_THRESHOLD_BYTES"); v != "" {
		cfg.Compression.ThresholdBytes = parseInt(v, cfg.Compression.ThresholdBytes)
	}

	if v := os.Getenv("STRATACACHE_WARMING_ENABLED"); v != "" {
		cfg.Warming.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATACACHE_WARMING_BATCH_SIZE"); v != "" {
		cfg.Warming.BatchSize = parseInt(v, cfg.Warming.BatchSize)
	}
	if v := os.Getenv("STRATACACHE_WARMING_MAX_CALLS_PER_HOUR"); v != "" {
		cfg.Warming.MaxCallsPerHour = parseInt(v, cfg.Warming.MaxCallsPerHour)
	}

	if v := os.Getenv("STRATACACHE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATACACHE_DATADOG_ENABLED"); v != "" {
		cfg.Metrics.DataDog.Enabled = parseBool(v)
	}
	if v := os.Getenv("STRATACACHE_DATADOG_AGENT_HOST"); v != "" {
		cfg.Metrics.DataDog.AgentHost = v
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func parseInt(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(v string, fallback float64) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseDuration(v string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
