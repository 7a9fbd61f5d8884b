package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, ForTesting().Validate())
	require.NoError(t, ForTestingWithStore("localhost:6379").Validate())
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency limit", func(c *Config) { c.Backpressure.ConcurrencyLimit = 0 }},
		{"zero queue size", func(c *Config) { c.Backpressure.QueueSize = 0 }},
		{"breaker threshold above one", func(c *Config) {
			c.CircuitBreaker.Enabled = true
			c.CircuitBreaker.Threshold = 1.5
		}},
		{"breaker without cooldown", func(c *Config) {
			c.CircuitBreaker.Enabled = true
			c.CircuitBreaker.Cooldown = 0
		}},
		{"retry multiplier below one", func(c *Config) {
			c.Retry.Enabled = true
			c.Retry.BackoffMultiplier = 0.5
		}},
		{"max backoff below initial delay", func(c *Config) {
			c.Retry.Enabled = true
			c.Retry.InitialDelay = time.Minute
			c.Retry.MaxBackoff = time.Second
		}},
		{"unknown compression algorithm", func(c *Config) { c.Compression.Algorithm = "lz77" }},
		{"enabled store without address", func(c *Config) {
			c.Store.Enabled = true
			c.Store.Address = ""
		}},
		{"descending freshness thresholds", func(c *Config) {
			c.Freshness.RealtimeMaxAge = 10 * 24 * time.Hour
			c.Freshness.NeartimeMaxAge = 24 * time.Hour
		}},
		{"warming without batch size", func(c *Config) {
			c.Warming.Enabled = true
			c.Warming.BatchSize = 0
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	t.Run("missing file yields defaults", func(t *testing.T) {
		cfg, err := Load(filepath.Join(t.TempDir(), "absent.json"))
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Backpressure, cfg.Backpressure)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{
			"store": {"enabled": true, "address": "redis.internal:6379", "keyPrefix": "dash:"},
			"backpressure": {"concurrencyLimit": 12, "queueSize": 200, "queueTimeout": 10000000000},
			"compression": {"algorithm": "zstd"}
		}`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.True(t, cfg.Store.Enabled)
		assert.Equal(t, "redis.internal:6379", cfg.Store.Address)
		assert.Equal(t, "dash:", cfg.Store.KeyPrefix)
		assert.Equal(t, 12, cfg.Backpressure.ConcurrencyLimit)
		assert.Equal(t, "zstd", cfg.Compression.Algorithm)
		// Untouched sections keep their defaults.
		assert.Equal(t, DefaultConfig().Warming, cfg.Warming)
	})

	t.Run("invalid file fails validation", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"backpressure": {"concurrencyLimit": -1}}`), 0o600))

		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestLoadWithEnv(t *testing.T) {
	t.Setenv("STRATACACHE_STORE_ENABLED", "true")
	t.Setenv("STRATACACHE_STORE_ADDRESS", "cache.internal:6380")
	t.Setenv("STRATACACHE_STORE_PASSWORD", "hunter2")
	t.Setenv("STRATACACHE_CONCURRENCY_LIMIT", "3")
	t.Setenv("STRATACACHE_RETRY_INITIAL_DELAY", "250ms")
	t.Setenv("STRATACACHE_WARMING_ENABLED", "true")

	cfg, err := LoadWithEnv("")
	require.NoError(t, err)

	assert.True(t, cfg.Store.Enabled)
	assert.Equal(t, "cache.internal:6380", cfg.Store.Address)
	assert.Equal(t, "hunter2", cfg.Store.Password.Value())
	assert.Equal(t, 3, cfg.Backpressure.ConcurrencyLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialDelay)
	assert.True(t, cfg.Warming.Enabled)
}

func TestSecretStringRedaction(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Password = NewSecretString("s3cret")

	assert.NotContains(t, cfg.Store.Password.String(), "s3cret")
	assert.Equal(t, "s3cret", cfg.Store.Password.Value())
}
