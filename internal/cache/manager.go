package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/lanewhitten/stratacache/internal/codec"
	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/freshness"
	"github.com/lanewhitten/stratacache/internal/resilience"
	"github.com/lanewhitten/stratacache/internal/types"
)

// DefaultShutdownTimeout is the default timeout for shutting down the manager.
const DefaultShutdownTimeout = 30 * time.Second

// DefaultBackgroundOpTimeout is the default timeout for background operations.
const DefaultBackgroundOpTimeout = 5 * time.Second

// Manager orchestrates the three tiers: in-process memory, the durable
// shared store and the upstream origin. Reads walk the tiers in that order;
// successful origin fetches are written through to both cache tiers.
type Manager struct {
	memory      types.MemoryLayer
	store       types.DurableStore
	origin      types.Origin
	recordCodec types.RecordCodec
	compressor  *codec.Codec
	classifier  *freshness.Classifier
	gate        *resilience.Gate
	retrier     *resilience.Coordinator
	isolator    *resilience.FaultIsolator
	config      *config.Config
	metrics     types.MetricsRecorder
	logger      *slog.Logger
	clock       clockwork.Clock

	sfGroup singleflight.Group
	keys    sync.Map // key string -> *keyState

	resolves      atomic.Int64
	memoryHits    atomic.Int64
	durableHits   atomic.Int64
	originCalls   atomic.Int64
	misses        atomic.Int64
	staleServes   atomic.Int64
	partialHits   atomic.Int64
	warmedKeys    atomic.Int64
	invalidations atomic.Int64

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	bgWg           sync.WaitGroup
	bgMu           sync.Mutex
	closed         atomic.Bool
}

// keyState carries the per-key fetch-attempt counter. Each origin fetch
// takes the next generation before it starts; commits only land when their
// generation is newer than the last committed one, so a slow stale fetch
// can never overwrite a result that finished after it.
type keyState struct {
	nextGeneration atomic.Uint64
	committed      atomic.Uint64
}

// Options are the manager's injected collaborators. Origin is required;
// everything else has a working default.
type Options struct {
	Origin      types.Origin
	Memory      types.MemoryLayer
	Store       types.DurableStore
	RecordCodec types.RecordCodec
	Metrics     types.MetricsRecorder
	Logger      *slog.Logger
	Clock       clockwork.Clock
}

// NewManager builds a manager from validated configuration.
//
//nolint:gocyclo // Construction is a flat sequence of collaborator defaults
func NewManager(cfg *config.Config, opts Options) (*Manager, error) {
	if opts.Origin == nil {
		return nil, errors.New("cache: an origin is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cache-manager")

	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	recordCodec := opts.RecordCodec
	if recordCodec == nil {
		recordCodec = NewMsgpackCodec()
	}

	compressor, err := codec.New(cfg.Compression)
	if err != nil {
		return nil, err
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())

	m := &Manager{
		origin:         opts.Origin,
		recordCodec:    recordCodec,
		compressor:     compressor,
		classifier:     freshness.NewClassifier(cfg.Freshness),
		config:         cfg,
		metrics:        opts.Metrics,
		logger:         logger,
		clock:          clock,
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}

	if opts.Memory != nil {
		m.memory = opts.Memory
	} else if cfg.Memory.Enabled {
		memCache, err := NewMemoryCache(cfg.Memory, logger)
		if err != nil {
			shutdownCancel()
			return nil, err
		}
		m.memory = memCache
	} else {
		m.memory = NewDisabledMemoryCache()
	}

	if opts.Store != nil {
		m.store = opts.Store
	} else if cfg.Store.Enabled {
		store, err := NewRedisStore(cfg.Store, recordCodec, logger)
		if err != nil {
			logger.Warn("Failed to create durable store, running memory+origin only", "error", err)
			m.store = NewDisabledStore()
		} else {
			m.store = store
		}
	} else {
		m.store = NewDisabledStore()
	}

	var breaker resilience.Breaker
	if cfg.CircuitBreaker.Enabled {
		breaker = resilience.NewCircuitBreaker(cfg.CircuitBreaker, clock)
	} else {
		breaker = resilience.NewDisabledBreaker()
	}

	m.gate = resilience.NewGate(cfg.Backpressure, breaker, clock)
	m.gate.SetOnCircuitStateChange(func(from, to resilience.State) {
		logger.Info("Circuit breaker state changed",
			"from", from.String(),
			"to", to.String(),
		)
		if m.metrics != nil {
			m.metrics.RecordCircuitStateChange(from.String(), to.String())
		}
	})

	m.isolator = resilience.NewFaultIsolator(cfg.Isolation, clock, logger)
	m.retrier = resilience.NewCoordinator(cfg.Retry, m.isolator, clock, logger)

	return m, nil
}

// Resolve returns the record for key, walking memory, then the durable
// store, then the origin. Concurrent resolves for the same key share one
// origin fetch. The returned record's Provenance says which tier served it
// and whether the data is stale or partial.
func (m *Manager) Resolve(ctx context.Context, key types.Key, opts ...types.ResolveOption) (*types.Record, error) {
	if m.closed.Load() {
		return nil, types.ErrClosed
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	options := types.ApplyResolveOptions(m.resolveDefaults(), opts...)
	m.resolves.Add(1)
	start := m.clock.Now()
	keyStr := key.String()

	if !options.ForceRefresh {
		if record, ok := m.readTiers(ctx, keyStr, options); ok {
			m.observeHit(record, start)
			return record, nil
		}
	}

	result, err, _ := m.sfGroup.Do(keyStr, func() (any, error) {
		// A joiner may arrive after the leader committed; re-check the
		// memory tier before paying for another origin round trip.
		if !options.ForceRefresh {
			if record, ok := m.readMemory(ctx, keyStr, options); ok {
				return record, nil
			}
		}
		return m.fetchAndCommit(ctx, key, options)
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordMiss(m.clock.Now().Sub(start))
		}
		m.misses.Add(1)
		return nil, err
	}

	record := result.(*types.Record)
	if record.Provenance.Stale {
		m.staleServes.Add(1)
	}
	if record.Provenance.Partial {
		m.partialHits.Add(1)
	}
	return record, nil
}

// readTiers walks memory then the durable store, returning a materialized
// record when a fresh one is found.
func (m *Manager) readTiers(ctx context.Context, keyStr string, options *types.ResolveOptions) (*types.Record, bool) {
	if record, ok := m.readMemory(ctx, keyStr, options); ok {
		return record, true
	}

	record, err := m.store.Get(ctx, keyStr)
	if err != nil {
		if types.IsStoreError(err) {
			m.logger.Debug("Durable store read failed, continuing to origin", "key", keyStr, "error", err)
		}
		return nil, false
	}

	if !m.verifyIntegrity(record) {
		m.autoInvalidate(keyStr)
		return nil, false
	}
	if !m.admissible(record, options) {
		return nil, false
	}

	// Populate memory so the next read stops a tier earlier.
	if encoded, encErr := m.recordCodec.Encode(record); encErr == nil {
		m.runBackground(func(ctx context.Context) {
			if setErr := m.memory.Set(ctx, keyStr, encoded); setErr != nil {
				m.logger.Debug("Failed to populate memory from durable tier", "key", keyStr, "error", setErr)
			}
		})
	}

	rec, err := m.materialize(record, types.TierDurable, false)
	if err != nil {
		m.logger.Debug("Decompression failed, treating as miss", "key", keyStr, "error", err)
		return nil, false
	}

	m.durableHits.Add(1)
	return rec, true
}

func (m *Manager) readMemory(ctx context.Context, keyStr string, options *types.ResolveOptions) (*types.Record, bool) {
	data, err := m.memory.Get(ctx, keyStr)
	if err != nil {
		if !types.IsCacheMiss(err) && !errors.Is(err, types.ErrClosed) {
			m.logger.Debug("Memory tier error", "key", keyStr, "error", err)
		}
		return nil, false
	}

	record, err := m.recordCodec.Decode(data)
	if err != nil {
		m.logger.Debug("Undecodable memory entry, treating as miss", "key", keyStr, "error", err)
		_ = m.memory.Delete(ctx, keyStr)
		return nil, false
	}

	if !m.verifyIntegrity(record) {
		m.autoInvalidate(keyStr)
		return nil, false
	}
	if !m.admissible(record, options) {
		return nil, false
	}

	rec, err := m.materialize(record, types.TierMemory, false)
	if err != nil {
		m.logger.Debug("Decompression failed, treating as miss", "key", keyStr, "error", err)
		return nil, false
	}

	m.memoryHits.Add(1)
	return rec, true
}

// admissible reports whether a cached record may satisfy the call without
// an origin fetch.
func (m *Manager) admissible(record *types.Record, options *types.ResolveOptions) bool {
	if options.RequireComplete && !record.Complete {
		return false
	}
	return record.IsFresh(m.clock.Now())
}

// fetchAndCommit is the single-flight leader path: one admitted, retried
// origin fetch, written through to both tiers on success.
func (m *Manager) fetchAndCommit(ctx context.Context, key types.Key, options *types.ResolveOptions) (*types.Record, error) {
	keyStr := key.String()
	generation := m.nextGeneration(keyStr)

	op := func(ctx context.Context) (*types.Record, error) {
		var record *types.Record
		gateErr := m.gate.Do(ctx, options.Priority, func(ctx context.Context) error {
			m.originCalls.Add(1)
			fetchStart := m.clock.Now()

			payload, err := m.origin.Fetch(ctx, key)

			if m.metrics != nil {
				m.metrics.RecordOriginFetch(m.clock.Now().Sub(fetchStart), err)
			}
			if err != nil {
				return err
			}

			built, buildErr := m.buildRecord(key, payload, generation, m.clock.Now().Sub(fetchStart))
			if buildErr != nil {
				return buildErr
			}
			record = built
			return nil
		})
		if gateErr != nil {
			return nil, gateErr
		}
		return record, nil
	}

	record, err := m.retrier.Execute(ctx, op, m.fallbackChain(keyStr, options))
	if err != nil {
		return nil, &types.ResolveError{
			Key:        key,
			Tier:       types.TierOrigin,
			Retryable:  types.IsRetryable(err),
			RetryAfter: m.retryAfterFor(err),
			Err:        err,
		}
	}

	// A fallback source returns an already-materialized committed record;
	// only fresh origin results (no provenance yet) are written through.
	if record.Provenance.Tier == 0 {
		m.commit(ctx, keyStr, record)
		return m.materialize(record, types.TierOrigin, false)
	}
	return record, nil
}

// fallbackChain builds the ordered alternatives for a failed origin fetch.
// Today that is a single source: the stale durable copy.
func (m *Manager) fallbackChain(keyStr string, options *types.ResolveOptions) []resilience.FallbackSource {
	if !options.AllowStale || !m.config.Fallback.StaleDurable {
		return nil
	}

	return []resilience.FallbackSource{
		{
			Name:    "durable-stale",
			Timeout: m.config.Fallback.SourceTimeout,
			Fetch: func(ctx context.Context) (*types.Record, error) {
				record, err := m.store.Get(ctx, keyStr)
				if err != nil {
					return nil, err
				}
				if !m.verifyIntegrity(record) {
					m.autoInvalidate(keyStr)
					return nil, types.ErrDataIntegrity
				}
				if options.RequireComplete && !record.Complete {
					return nil, types.ErrCacheMiss
				}
				stale, err := m.materializeStale(record)
				if err != nil {
					return nil, err
				}
				if m.metrics != nil {
					m.metrics.RecordFallback("durable-stale")
				}
				return stale, nil
			},
		},
	}
}

// buildRecord compresses the payload, computes its checksum and classifies
// freshness. The checksum is verified immediately; a record that fails its
// own checksum never gets committed.
func (m *Manager) buildRecord(key types.Key, payload *types.Payload, generation uint64, fetchDuration time.Duration) (*types.Record, error) {
	compressed, err := m.compressor.Compress(payload.Data)
	if err != nil {
		return nil, err
	}

	now := m.clock.Now()
	status, nextUpdate := m.classifier.Classify(payload.SubjectDate, now)

	record := &types.Record{
		Key:             key,
		Payload:         compressed.Data,
		Algorithm:       compressed.Algorithm,
		Checksum:        xxhash.Sum64(compressed.Data),
		Freshness:       status,
		RecordCount:     payload.RecordCount,
		Complete:        payload.Complete,
		CreatedAt:       now,
		LastVerifiedAt:  now,
		NextUpdateAt:    nextUpdate,
		UpdatePriority:  types.PriorityNormal,
		FetchDurationMs: fetchDuration.Milliseconds(),
		Generation:      generation,
	}

	if !m.verifyIntegrity(record) {
		return nil, types.ErrDataIntegrity
	}
	return record, nil
}

// commit writes the record through to both tiers, last-write-wins by
// generation. A durable-store failure degrades the call to memory-only
// rather than failing the resolve.
func (m *Manager) commit(ctx context.Context, keyStr string, record *types.Record) {
	state := m.stateFor(keyStr)
	for {
		current := state.committed.Load()
		if record.Generation <= current {
			m.logger.Debug("Skipping commit of superseded fetch",
				"key", keyStr,
				"generation", record.Generation,
				"committed", current,
			)
			return
		}
		if state.committed.CompareAndSwap(current, record.Generation) {
			break
		}
	}

	if err := m.store.Set(ctx, record); err != nil {
		if !errors.Is(err, types.ErrStoreUnavailable) {
			m.logger.Warn("Durable write failed, serving from memory only", "key", keyStr, "error", err)
		}
	}

	encoded, err := m.recordCodec.Encode(record)
	if err != nil {
		m.logger.Error("Record encode failed, memory tier skipped", "key", keyStr, "error", err)
		return
	}
	if err := m.memory.Set(ctx, keyStr, encoded); err != nil && !errors.Is(err, types.ErrClosed) {
		m.logger.Warn("Memory write failed", "key", keyStr, "error", err)
	}
}

// materialize returns a caller-facing copy of the record with the payload
// decompressed and provenance stamped. The cached record is never handed
// out directly; callers are free to mutate what they get back.
func (m *Manager) materialize(record *types.Record, tier types.Tier, stale bool) (*types.Record, error) {
	data, err := m.compressor.Decompress(record.Payload, record.Algorithm)
	if err != nil {
		return nil, err
	}

	out := *record
	// Clone the payload: Decompress may return a slice backed by the
	// decompression cache, and uncompressed payloads alias the stored
	// record. A caller mutation must never reach either.
	out.Payload = append([]byte(nil), data...)
	out.Algorithm = codec.AlgorithmNone
	out.Provenance = types.Provenance{
		Tier:    tier,
		Stale:   stale,
		Partial: !record.Complete,
	}
	return &out, nil
}

func (m *Manager) materializeStale(record *types.Record) (*types.Record, error) {
	return m.materialize(record, types.TierDurable, true)
}

// verifyIntegrity recomputes the payload checksum. Records are verified
// before every commit and after every read from either tier.
func (m *Manager) verifyIntegrity(record *types.Record) bool {
	if record == nil {
		return false
	}
	if xxhash.Sum64(record.Payload) == record.Checksum {
		return true
	}

	m.logger.Warn("Checksum mismatch, invalidating record", "key", record.Key.String())
	if m.metrics != nil {
		m.metrics.RecordIntegrityFailure()
	}
	return false
}

// autoInvalidate drops a corrupt record from both tiers so the next
// resolve treats the key as a miss. It shares the delete path with the
// caller-facing Invalidate and is safe to race against it.
func (m *Manager) autoInvalidate(keyStr string) {
	m.runBackground(func(ctx context.Context) {
		if err := m.memory.Delete(ctx, keyStr); err != nil && !errors.Is(err, types.ErrClosed) {
			m.logger.Debug("Memory invalidate failed", "key", keyStr, "error", err)
		}
		if err := m.store.Delete(ctx, keyStr); err != nil && !errors.Is(err, types.ErrStoreUnavailable) {
			m.logger.Debug("Durable invalidate failed", "key", keyStr, "error", err)
		}
	})
}

// Invalidate removes the record for key from both cache tiers. Invalidating
// an absent key is a no-op, so concurrent invalidations and integrity-driven
// auto-invalidation are safe in any order.
func (m *Manager) Invalidate(ctx context.Context, key types.Key) error {
	if m.closed.Load() {
		return types.ErrClosed
	}
	if err := key.Validate(); err != nil {
		return err
	}

	keyStr := key.String()
	m.invalidations.Add(1)

	var errs []error
	if err := m.memory.Delete(ctx, keyStr); err != nil && !errors.Is(err, types.ErrClosed) {
		errs = append(errs, err)
	}
	if err := m.store.Delete(ctx, keyStr); err != nil && !errors.Is(err, types.ErrStoreUnavailable) {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// InvalidateScope removes every record whose key belongs to scope, across
// both tiers.
func (m *Manager) InvalidateScope(ctx context.Context, scope string) error {
	if m.closed.Load() {
		return types.ErrClosed
	}

	prefix := scope + ":"
	m.invalidations.Add(1)

	var errs []error
	if err := m.memory.ClearByPrefix(ctx, prefix); err != nil && !errors.Is(err, types.ErrClosed) {
		errs = append(errs, err)
	}

	if bulk, ok := m.store.(interface {
		DeleteByPrefix(ctx context.Context, prefix string) error
	}); ok {
		if err := bulk.DeleteByPrefix(ctx, prefix); err != nil && !errors.Is(err, types.ErrStoreUnavailable) {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}

	records, err := m.store.Query(ctx, types.StoreFilter{ScopePrefix: prefix})
	if err != nil {
		if !errors.Is(err, types.ErrStoreUnavailable) {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	}
	for _, record := range records {
		if err := m.store.Delete(ctx, record.Key.String()); err != nil && !errors.Is(err, types.ErrStoreUnavailable) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stats returns a point-in-time statistics snapshot.
func (m *Manager) Stats() types.Stats {
	resolves := m.resolves.Load()
	memHits := m.memoryHits.Load()
	durHits := m.durableHits.Load()

	var hitRate float64
	if resolves > 0 {
		hitRate = float64(memHits+durHits) / float64(resolves)
	}

	var isolated []string
	for _, s := range m.isolator.Snapshot() {
		isolated = append(isolated, s.Source)
	}

	return types.Stats{
		HitRate:       hitRate,
		APICallsSaved: memHits + durHits,
		QueueDepth:    m.gate.QueueDepth(),
		CircuitState:  m.gate.CircuitState().String(),

		MemoryHits:    memHits,
		DurableHits:   durHits,
		OriginCalls:   m.originCalls.Load(),
		Misses:        m.misses.Load(),
		StaleServes:   m.staleServes.Load(),
		PartialHits:   m.partialHits.Load(),
		WarmedKeys:    m.warmedKeys.Load(),
		Invalidations: m.invalidations.Load(),

		IsolatedSources: isolated,
	}
}

// Health reports tier availability and resilience state.
func (m *Manager) Health() types.Health {
	h := types.Health{
		Timestamp:        m.clock.Now(),
		MemoryAvailable:  m.memory.IsAvailable(),
		DurableAvailable: m.store.IsAvailable(),
		CircuitState:     m.gate.CircuitState().String(),
		QueueDepth:       m.gate.QueueDepth(),
		IsolatedSources:  m.isolator.Snapshot(),
	}

	switch {
	case h.MemoryAvailable && h.DurableAvailable:
		h.Status = types.HealthStatusHealthy
	case h.MemoryAvailable:
		h.Status = types.HealthStatusDegraded
	default:
		h.Status = types.HealthStatusUnhealthy
	}
	return h
}

// Close releases all resources using the default shutdown timeout.
func (m *Manager) Close() error {
	return m.CloseWithTimeout(DefaultShutdownTimeout)
}

// CloseWithTimeout waits for in-flight background operations up to timeout,
// then closes the tiers. On timeout it returns ErrShutdownTimeout but still
// proceeds with the close.
func (m *Manager) CloseWithTimeout(timeout time.Duration) error {
	m.bgMu.Lock()
	if m.closed.Swap(true) {
		m.bgMu.Unlock()
		return nil
	}
	m.shutdownCancel()
	m.bgMu.Unlock()

	m.logger.Info("Closing cache manager, waiting for background operations", "timeout", timeout)

	done := make(chan struct{})
	go func() {
		m.bgWg.Wait()
		close(done)
	}()

	var timedOut bool
	select {
	case <-done:
	case <-time.After(timeout):
		m.logger.Warn("Shutdown timeout exceeded, proceeding with close", "timeout", timeout)
		timedOut = true
	}

	m.gate.Close()

	var errs []error
	if timedOut {
		errs = append(errs, types.ErrShutdownTimeout)
	}
	if err := m.memory.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runBackground executes fn in a tracked goroutine so CloseWithTimeout can
// wait for it. No goroutine starts once the manager is closed.
func (m *Manager) runBackground(fn func(ctx context.Context)) {
	m.bgMu.Lock()
	if m.closed.Load() {
		m.bgMu.Unlock()
		return
	}
	m.bgWg.Add(1)
	m.bgMu.Unlock()

	go func() {
		defer m.bgWg.Done()
		ctx, cancel := context.WithTimeout(m.shutdownCtx, DefaultBackgroundOpTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (m *Manager) stateFor(keyStr string) *keyState {
	if s, ok := m.keys.Load(keyStr); ok {
		return s.(*keyState)
	}
	s, _ := m.keys.LoadOrStore(keyStr, &keyState{})
	return s.(*keyState)
}

func (m *Manager) nextGeneration(keyStr string) uint64 {
	return m.stateFor(keyStr).nextGeneration.Add(1)
}

func (m *Manager) observeHit(record *types.Record, start time.Time) {
	if m.metrics != nil {
		m.metrics.RecordHit(record.Provenance.Tier.String(), m.clock.Now().Sub(start))
	}
	if record.Provenance.Partial {
		m.partialHits.Add(1)
	}
}

func (m *Manager) resolveDefaults() types.ResolveOptions {
	return types.ResolveOptions{
		AllowStale: m.config.Defaults.AllowStale,
		Priority:   types.ParsePriority(m.config.Defaults.Priority),
	}
}

func (m *Manager) retryAfterFor(err error) time.Duration {
	if errors.Is(err, types.ErrCircuitOpen) {
		return m.gate.RetryAfter()
	}
	return types.RetryAfterHint(err)
}
