package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

const (
	disconnectErrorThreshold = 5
	scanBatchSize            = 100
)

// RedisStore is the durable shared tier. Records survive process restarts
// and are visible to every dashboard instance talking to the same Redis.
//
// The store degrades rather than fails: a Redis outage flips it to
// unavailable and the manager keeps serving from memory and origin while
// the health-check worker probes for recovery.
type RedisStore struct {
	client *redis.Client
	config config.StoreConfig
	codec  types.RecordCodec
	logger *slog.Logger

	mu            sync.RWMutex
	connected     atomic.Bool
	lastError     error
	lastErrorTime time.Time
	errorCount    atomic.Int64

	healthCheckStopCh chan struct{}
	healthCheckWg     sync.WaitGroup

	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
}

// NewRedisStore connects to Redis and starts the health-check worker. A
// failed initial connection is logged, not returned; the store starts
// unavailable and recovers when Redis does.
func NewRedisStore(cfg config.StoreConfig, codec types.RecordCodec, logger *slog.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if codec == nil {
		codec = NewMsgpackCodec()
	}

	opts := &redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password.Value(),
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	if cfg.EnableTLS {
		opts.TLSConfig = &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		}
		if cfg.TLSSkipVerify {
			logger.Warn("TLS certificate verification is disabled - this is insecure for production use")
		}
	}

	rs := &RedisStore{
		client:            redis.NewClient(opts),
		config:            cfg,
		codec:             codec,
		logger:            logger.With("component", "redis-store"),
		healthCheckStopCh: make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := rs.client.Ping(ctx).Err(); err != nil {
		rs.logger.Warn("Redis initial connection failed", "error", err)
		rs.setError(err)
		// Degraded start; the health check brings the store back.
	} else {
		rs.connected.Store(true)
		rs.logger.Info("Redis connected", "address", cfg.Address)
	}

	if cfg.HealthCheckInterval > 0 {
		rs.healthCheckWg.Add(1)
		go rs.healthCheckWorker()
	}

	return rs, nil
}

// IsAvailable reports whether the store is currently reachable.
func (s *RedisStore) IsAvailable() bool {
	return s.connected.Load()
}

func (s *RedisStore) prefixKey(key string) string {
	return s.config.KeyPrefix + key
}

// Get fetches and decodes the record stored under key.
func (s *RedisStore) Get(ctx context.Context, key string) (*types.Record, error) {
	if !s.connected.Load() {
		return nil, types.ErrStoreUnavailable
	}

	data, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.misses.Add(1)
			return nil, types.ErrCacheMiss
		}
		s.handleError(err)
		return nil, &types.StoreError{Op: "Get", Key: key, Err: err}
	}

	record, err := s.codec.Decode(data)
	if err != nil {
		return nil, &types.StoreError{Op: "Get", Key: key, Err: err}
	}

	s.hits.Add(1)
	s.clearError()
	return record, nil
}

// Set encodes and stores the record under its own key. Finalized records
// get the configured TTL like everything else; the warming scheduler
// re-materializes anything Redis ages out.
func (s *RedisStore) Set(ctx context.Context, record *types.Record) error {
	if !s.connected.Load() {
		return types.ErrStoreUnavailable
	}

	data, err := s.codec.Encode(record)
	if err != nil {
		return &types.StoreError{Op: "Set", Key: record.Key.String(), Err: err}
	}

	key := record.Key.String()
	if err := s.client.Set(ctx, s.prefixKey(key), data, s.config.DefaultTTL).Err(); err != nil {
		s.handleError(err)
		return &types.StoreError{Op: "Set", Key: key, Err: err}
	}

	s.sets.Add(1)
	s.clearError()
	return nil
}

// Delete removes the record stored under key. Deleting a missing key is
// not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if !s.connected.Load() {
		return types.ErrStoreUnavailable
	}

	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		s.handleError(err)
		return &types.StoreError{Op: "Delete", Key: key, Err: err}
	}

	s.deletes.Add(1)
	s.clearError()
	return nil
}

// Query scans for records matching the filter. The scan is cursor-based
// and non-blocking on the Redis side; decoded records are filtered by
// NextUpdateBefore and capped at Limit.
func (s *RedisStore) Query(ctx context.Context, filter types.StoreFilter) ([]*types.Record, error) {
	if !s.connected.Load() {
		return nil, types.ErrStoreUnavailable
	}

	pattern := s.prefixKey(filter.ScopePrefix + "*")

	var out []*types.Record
	var cursor uint64
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			s.handleError(err)
			return nil, &types.StoreError{Op: "Query", Key: pattern, Err: err}
		}

		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				s.handleError(err)
				return nil, &types.StoreError{Op: "Query", Key: pattern, Err: err}
			}

			for _, v := range values {
				str, ok := v.(string)
				if !ok {
					continue
				}
				record, err := s.codec.Decode([]byte(str))
				if err != nil {
					s.logger.Debug("Skipping undecodable record in query", "error", err)
					continue
				}
				if !filter.NextUpdateBefore.IsZero() {
					if record.NextUpdateAt.IsZero() || !record.NextUpdateAt.Before(filter.NextUpdateBefore) {
						continue
					}
				}
				out = append(out, record)
				if filter.Limit > 0 && len(out) >= filter.Limit {
					s.clearError()
					return out, nil
				}
			}
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	s.clearError()
	return out, nil
}

// DeleteByPrefix removes every record whose key starts with prefix.
func (s *RedisStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	if !s.connected.Load() {
		return types.ErrStoreUnavailable
	}

	pattern := s.prefixKey(prefix + "*")

	var cursor uint64
	var deleted int64
	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			s.handleError(err)
			return &types.StoreError{Op: "DeleteByPrefix", Key: pattern, Err: err}
		}

		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				s.handleError(err)
				return &types.StoreError{Op: "DeleteByPrefix", Key: pattern, Err: err}
			}
			deleted += int64(len(keys))
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	s.logger.Debug("Deleted records by prefix", "prefix", prefix, "deleted", deleted)
	s.clearError()
	return nil
}

func (s *RedisStore) healthCheckWorker() {
	defer s.healthCheckWg.Done()

	ticker := time.NewTicker(s.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.healthCheckStopCh:
			return
		case <-ticker.C:
			s.performHealthCheck()
		}
	}
}

func (s *RedisStore) performHealthCheck() {
	wasConnected := s.connected.Load()

	ctx, cancel := context.WithTimeout(context.Background(), s.config.DialTimeout)
	defer cancel()

	err := s.client.Ping(ctx).Err()
	if err != nil {
		if wasConnected {
			s.logger.Warn("Redis health check failed", "error", err)
			s.setError(err)
		}
		return
	}

	if !wasConnected {
		s.connected.Store(true)
		s.errorCount.Store(0)
		s.logger.Info("Redis connection restored via health check")
	}
}

// Close stops the health-check worker and closes the client.
func (s *RedisStore) Close() error {
	s.connected.Store(false)

	close(s.healthCheckStopCh)
	s.healthCheckWg.Wait()

	return s.client.Close()
}

func (s *RedisStore) handleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastError = err
	s.lastErrorTime = time.Now()
	count := s.errorCount.Add(1)

	if count >= disconnectErrorThreshold {
		if s.connected.CompareAndSwap(true, false) {
			s.logger.Warn("Redis marked as disconnected after errors",
				"error_count", count,
				"last_error", err,
			)
		}
	}
}

func (s *RedisStore) clearError() {
	if s.errorCount.Swap(0) > 0 {
		if s.connected.CompareAndSwap(false, true) {
			s.logger.Info("Redis connection restored")
		}
	}
}

func (s *RedisStore) setError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastError = err
	s.lastErrorTime = time.Now()
	s.connected.Store(false)
}

// LastError returns the most recent store error and when it happened.
func (s *RedisStore) LastError() (error, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError, s.lastErrorTime
}

var _ types.DurableStore = (*RedisStore)(nil)
