package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/codec"
	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// fakeOrigin is a scriptable origin. Without a fetch function it returns a
// complete payload derived from the key.
type fakeOrigin struct {
	mu     sync.Mutex
	calls  int
	perKey map[string]int
	fetch  func(key types.Key, call int) (*types.Payload, error)

	// release, when non-nil, blocks every fetch until it is closed.
	release chan struct{}
}

func newFakeOrigin() *fakeOrigin {
	return &fakeOrigin{perKey: make(map[string]int)}
}

func (f *fakeOrigin) Fetch(ctx context.Context, key types.Key) (*types.Payload, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.perKey[key.String()]++
	fetch := f.fetch
	release := f.release
	f.mu.Unlock()

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fetch != nil {
		return fetch(key, call)
	}
	return &types.Payload{
		Data:        []byte("data:" + key.String()),
		RecordCount: 1,
		Complete:    true,
	}, nil
}

func (f *fakeOrigin) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeOrigin) CallsFor(key types.Key) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.perKey[key.String()]
}

// fakeStore is an in-memory durable store. It deliberately does not
// implement DeleteByPrefix so manager tests exercise the query-and-delete
// fallback path.
type fakeStore struct {
	mu      sync.Mutex
	records map[string]*types.Record
	getErr  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*types.Record)}
}

func (s *fakeStore) Get(ctx context.Context, key string) (*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, types.ErrCacheMiss
	}
	out := *rec
	return &out, nil
}

func (s *fakeStore) Set(ctx context.Context, record *types.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *record
	s.records[record.Key.String()] = &out
	return nil
}

func (s *fakeStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

func (s *fakeStore) Query(ctx context.Context, filter types.StoreFilter) ([]*types.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*types.Record
	for key, rec := range s.records {
		if filter.ScopePrefix != "" && !strings.HasPrefix(key, filter.ScopePrefix) {
			continue
		}
		if !filter.NextUpdateBefore.IsZero() {
			if rec.NextUpdateAt.IsZero() || !rec.NextUpdateAt.Before(filter.NextUpdateBefore) {
				continue
			}
		}
		cp := *rec
		out = append(out, &cp)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *fakeStore) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[key]
	return ok
}

func (s *fakeStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *fakeStore) IsAvailable() bool { return true }
func (s *fakeStore) Close() error      { return nil }

func testKey() types.Key {
	return types.Key{Scope: "acct-1", Subscope: "camp-9", Bucket: "2026-08"}
}

// storedRecord builds a valid uncompressed record as the durable tier would
// hold it.
func storedRecord(key types.Key, data []byte, nextUpdate time.Time) *types.Record {
	now := time.Now()
	return &types.Record{
		Key:            key,
		Payload:        data,
		Algorithm:      codec.AlgorithmNone,
		Checksum:       xxhash.Sum64(data),
		Freshness:      types.FreshnessRealtime,
		RecordCount:    1,
		Complete:       true,
		CreatedAt:      now.Add(-time.Hour),
		LastVerifiedAt: now.Add(-time.Hour),
		NextUpdateAt:   nextUpdate,
		UpdatePriority: types.PriorityNormal,
		Generation:     1,
	}
}

func newTestManager(t *testing.T, cfg *config.Config, opts Options) *Manager {
	t.Helper()
	if cfg == nil {
		cfg = config.ForTesting()
	}
	m, err := NewManager(cfg, opts)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewManager(t *testing.T) {
	t.Run("requires an origin", func(t *testing.T) {
		_, err := NewManager(config.ForTesting(), Options{})
		if err == nil {
			t.Fatal("Expected error for missing origin")
		}
	})

	t.Run("creates manager with defaults", func(t *testing.T) {
		m := newTestManager(t, nil, Options{Origin: newFakeOrigin()})
		if !m.memory.IsAvailable() {
			t.Error("Expected memory tier to be available")
		}
		if m.store.IsAvailable() {
			t.Error("Expected durable tier to be disabled by the test config")
		}
	})
}

func TestResolveFetchesFromOrigin(t *testing.T) {
	origin := newFakeOrigin()
	m := newTestManager(t, nil, Options{Origin: origin})
	key := testKey()

	record, err := m.Resolve(context.Background(), key)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if !bytes.Equal(record.Payload, []byte("data:"+key.String())) {
		t.Errorf("Unexpected payload: %q", record.Payload)
	}
	if record.Provenance.Tier != types.TierOrigin {
		t.Errorf("Expected origin provenance, got %s", record.Provenance.Tier)
	}
	if record.Provenance.Stale || record.Provenance.Partial {
		t.Errorf("Fresh complete fetch flagged: %+v", record.Provenance)
	}
	if record.Algorithm != codec.AlgorithmNone {
		t.Errorf("Materialized record still marked compressed: %s", record.Algorithm)
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected 1 origin call, got %d", origin.Calls())
	}
}

func TestResolveServesFromMemory(t *testing.T) {
	origin := newFakeOrigin()
	m := newTestManager(t, nil, Options{Origin: origin})
	key := testKey()
	ctx := context.Background()

	if _, err := m.Resolve(ctx, key); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}

	record, err := m.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if record.Provenance.Tier != types.TierMemory {
		t.Errorf("Expected memory provenance, got %s", record.Provenance.Tier)
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected 1 origin call, got %d", origin.Calls())
	}
}

func TestResolvePayloadMutationDoesNotCorruptCache(t *testing.T) {
	origin := newFakeOrigin()
	cfg := config.ForTesting()
	cfg.Compression.Algorithm = codec.AlgorithmS2
	cfg.Compression.ThresholdBytes = 1
	m := newTestManager(t, cfg, Options{Origin: origin})
	key := testKey()
	ctx := context.Background()
	want := []byte("data:" + key.String())

	first, err := m.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}
	if !bytes.Equal(first.Payload, want) {
		t.Fatalf("Unexpected payload: %q", first.Payload)
	}

	// Callers own the returned payload. Scribbling on it must not reach the
	// cached record, the decompression cache, or later callers.
	first.Payload[0] = 'X'

	second, err := m.Resolve(ctx, key)
	if err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if second.Provenance.Tier != types.TierMemory {
		t.Errorf("Expected memory provenance, got %s", second.Provenance.Tier)
	}
	if !bytes.Equal(second.Payload, want) {
		t.Errorf("Caller mutation leaked into the cache: %q", second.Payload)
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected 1 origin call, got %d", origin.Calls())
	}
}

func TestResolveCoalescesConcurrentFetches(t *testing.T) {
	origin := newFakeOrigin()
	origin.release = make(chan struct{})
	m := newTestManager(t, nil, Options{Origin: origin})
	key := testKey()

	const callers = 3
	results := make(chan *types.Record, callers)
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		go func() {
			rec, err := m.Resolve(context.Background(), key)
			results <- rec
			errs <- err
		}()
	}

	waitFor(t, 2*time.Second, func() bool { return origin.Calls() >= 1 }, "origin never called")
	close(origin.release)

	var records []*types.Record
	for i := 0; i < callers; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		records = append(records, <-results)
	}

	if origin.Calls() != 1 {
		t.Errorf("Expected coalesced single origin call, got %d", origin.Calls())
	}
	for _, rec := range records {
		if rec == nil {
			t.Fatal("Resolve returned nil record")
		}
		if !bytes.Equal(rec.Payload, records[0].Payload) {
			t.Error("Coalesced callers received different payloads")
		}
	}
}

func TestResolveDurableTierHit(t *testing.T) {
	origin := newFakeOrigin()
	store := newFakeStore()
	key := testKey()
	data := []byte(`{"impressions": 1204}`)
	_ = store.Set(context.Background(), storedRecord(key, data, time.Now().Add(time.Hour)))

	m := newTestManager(t, nil, Options{Origin: origin, Store: store})

	record, err := m.Resolve(context.Background(), key)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if record.Provenance.Tier != types.TierDurable {
		t.Errorf("Expected durable provenance, got %s", record.Provenance.Tier)
	}
	if !bytes.Equal(record.Payload, data) {
		t.Errorf("Unexpected payload: %q", record.Payload)
	}
	if origin.Calls() != 0 {
		t.Errorf("Origin called %d times for a durable hit", origin.Calls())
	}

	// The durable hit populates memory in the background.
	waitFor(t, 2*time.Second, func() bool {
		if data, err := m.memory.Get(context.Background(), key.String()); err == nil && len(data) > 0 {
			return true
		}
		return false
	}, "memory tier never populated from durable hit")
}

func TestResolveForceRefresh(t *testing.T) {
	origin := newFakeOrigin()
	m := newTestManager(t, nil, Options{Origin: origin})
	key := testKey()
	ctx := context.Background()

	if _, err := m.Resolve(ctx, key); err != nil {
		t.Fatalf("First resolve failed: %v", err)
	}

	record, err := m.Resolve(ctx, key, types.WithForceRefresh())
	if err != nil {
		t.Fatalf("Forced resolve failed: %v", err)
	}
	if record.Provenance.Tier != types.TierOrigin {
		t.Errorf("Expected origin provenance on forced refresh, got %s", record.Provenance.Tier)
	}
	if origin.Calls() != 2 {
		t.Errorf("Expected 2 origin calls, got %d", origin.Calls())
	}
}

func TestResolvePartialResults(t *testing.T) {
	origin := newFakeOrigin()
	origin.fetch = func(key types.Key, call int) (*types.Payload, error) {
		return &types.Payload{Data: []byte("partial"), RecordCount: 3, Complete: false}, nil
	}
	m := newTestManager(t, nil, Options{Origin: origin})
	key := testKey()
	ctx := context.Background()

	t.Run("partials are returned flagged", func(t *testing.T) {
		record, err := m.Resolve(ctx, key)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !record.Provenance.Partial {
			t.Error("Expected partial flag on incomplete payload")
		}
	})

	t.Run("require-complete bypasses cached partials", func(t *testing.T) {
		before := origin.Calls()
		record, err := m.Resolve(ctx, key, types.WithRequireComplete())
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if origin.Calls() != before+1 {
			t.Errorf("Expected refetch past cached partial, calls went %d -> %d", before, origin.Calls())
		}
		if !record.Provenance.Partial {
			t.Error("Origin still partial; expected flag preserved")
		}
	})
}

func TestResolveIntegrityFailure(t *testing.T) {
	origin := newFakeOrigin()
	store := newFakeStore()
	key := testKey()
	corrupt := storedRecord(key, []byte("payload"), time.Now().Add(time.Hour))
	corrupt.Checksum++
	_ = store.Set(context.Background(), corrupt)

	m := newTestManager(t, nil, Options{Origin: origin, Store: store})

	record, err := m.Resolve(context.Background(), key)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if record.Provenance.Tier != types.TierOrigin {
		t.Errorf("Corrupt durable record served from %s tier", record.Provenance.Tier)
	}
	if origin.Calls() != 1 {
		t.Errorf("Expected origin refetch, got %d calls", origin.Calls())
	}

	// Auto-invalidation replaces the corrupt record; the fresh commit may
	// land before or after the delete, so wait for a record that verifies.
	waitFor(t, 2*time.Second, func() bool {
		rec, err := store.Get(context.Background(), key.String())
		if errors.Is(err, types.ErrCacheMiss) {
			return true
		}
		return err == nil && xxhash.Sum64(rec.Payload) == rec.Checksum
	}, "corrupt record never invalidated")
}

func TestResolveStaleFallback(t *testing.T) {
	origin := newFakeOrigin()
	origin.fetch = func(key types.Key, call int) (*types.Payload, error) {
		return nil, types.NewUpstreamError(types.KindNetwork, errors.New("connection reset"))
	}
	store := newFakeStore()
	key := testKey()
	data := []byte("stale-but-present")
	_ = store.Set(context.Background(), storedRecord(key, data, time.Now().Add(-time.Hour)))

	m := newTestManager(t, nil, Options{Origin: origin, Store: store})
	ctx := context.Background()

	t.Run("serves stale durable copy when origin fails", func(t *testing.T) {
		record, err := m.Resolve(ctx, key)
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if !record.Provenance.Stale {
			t.Error("Expected stale flag")
		}
		if record.Provenance.Tier != types.TierDurable {
			t.Errorf("Expected durable provenance, got %s", record.Provenance.Tier)
		}
		if !bytes.Equal(record.Payload, data) {
			t.Errorf("Unexpected payload: %q", record.Payload)
		}
		if got := m.Stats().StaleServes; got != 1 {
			t.Errorf("Expected 1 stale serve, got %d", got)
		}
	})

	t.Run("without stale fallback the origin error surfaces", func(t *testing.T) {
		_, err := m.Resolve(ctx, key, types.WithoutStaleFallback())
		if err == nil {
			t.Fatal("Expected resolve error")
		}
		var re *types.ResolveError
		if !errors.As(err, &re) {
			t.Fatalf("Expected ResolveError, got %T", err)
		}
		if re.Tier != types.TierOrigin {
			t.Errorf("Expected origin tier in error, got %s", re.Tier)
		}
		if !re.Retryable {
			t.Error("Network failure should be marked retryable")
		}
	})
}

func TestResolveRetriesWithBackoff(t *testing.T) {
	clock := clockwork.NewFakeClock()
	origin := newFakeOrigin()
	origin.fetch = func(key types.Key, call int) (*types.Payload, error) {
		if call == 1 {
			return nil, types.NewUpstreamError(types.KindRateLimit, errors.New("quota exceeded"))
		}
		return &types.Payload{Data: []byte("ok"), RecordCount: 1, Complete: true}, nil
	}

	cfg := config.ForTesting()
	cfg.Retry.Enabled = true
	cfg.Retry.MaxAttempts = 3
	cfg.Retry.InitialDelay = time.Second
	cfg.Retry.BackoffMultiplier = 2.0
	cfg.Retry.MaxBackoff = 30 * time.Second
	cfg.Retry.Jitter = false
	cfg.Retry.AttemptTimeout = 0

	m := newTestManager(t, cfg, Options{Origin: origin, Clock: clock})

	done := make(chan struct{})
	var record *types.Record
	var resolveErr error
	go func() {
		record, resolveErr = m.Resolve(context.Background(), testKey())
		close(done)
	}()

	// Two waiters: the queue sweeper's ticker and the retry backoff sleep.
	clock.BlockUntil(2)
	clock.Advance(time.Second)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Resolve did not complete after backoff elapsed")
	}

	if resolveErr != nil {
		t.Fatalf("Resolve failed: %v", resolveErr)
	}
	if origin.Calls() != 2 {
		t.Errorf("Expected 2 origin calls, got %d", origin.Calls())
	}
	if record.Provenance.Tier != types.TierOrigin {
		t.Errorf("Expected origin provenance, got %s", record.Provenance.Tier)
	}
}

func TestInvalidate(t *testing.T) {
	origin := newFakeOrigin()
	store := newFakeStore()
	m := newTestManager(t, nil, Options{Origin: origin, Store: store})
	key := testKey()
	ctx := context.Background()

	if _, err := m.Resolve(ctx, key); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if !store.Has(key.String()) {
		t.Fatal("Expected write-through to durable store")
	}

	t.Run("removes the record from both tiers", func(t *testing.T) {
		if err := m.Invalidate(ctx, key); err != nil {
			t.Fatalf("Invalidate failed: %v", err)
		}
		if store.Has(key.String()) {
			t.Error("Durable record survived invalidation")
		}
		if _, err := m.memory.Get(ctx, key.String()); !types.IsCacheMiss(err) {
			t.Errorf("Expected memory miss after invalidation, got %v", err)
		}
	})

	t.Run("invalidating an absent key is a no-op", func(t *testing.T) {
		if err := m.Invalidate(ctx, key); err != nil {
			t.Errorf("Second invalidation failed: %v", err)
		}
	})

	t.Run("next resolve refetches", func(t *testing.T) {
		before := origin.Calls()
		if _, err := m.Resolve(ctx, key); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if origin.Calls() != before+1 {
			t.Errorf("Expected refetch after invalidation, calls went %d -> %d", before, origin.Calls())
		}
	})

	t.Run("rejects an invalid key", func(t *testing.T) {
		err := m.Invalidate(ctx, types.Key{})
		if !errors.Is(err, types.ErrInvalidKey) {
			t.Errorf("Expected ErrInvalidKey, got %v", err)
		}
	})
}

func TestInvalidateScope(t *testing.T) {
	origin := newFakeOrigin()
	store := newFakeStore()
	m := newTestManager(t, nil, Options{Origin: origin, Store: store})
	ctx := context.Background()

	inScope := []types.Key{
		{Scope: "acct-1", Subscope: "camp-9", Bucket: "2026-07"},
		{Scope: "acct-1", Subscope: "camp-9", Bucket: "2026-08"},
	}
	outOfScope := types.Key{Scope: "acct-2", Subscope: "camp-1", Bucket: "2026-08"}

	for _, key := range append(inScope, outOfScope) {
		if _, err := m.Resolve(ctx, key); err != nil {
			t.Fatalf("Resolve %s failed: %v", key, err)
		}
	}

	if err := m.InvalidateScope(ctx, "acct-1"); err != nil {
		t.Fatalf("InvalidateScope failed: %v", err)
	}

	for _, key := range inScope {
		if store.Has(key.String()) {
			t.Errorf("Record %s survived scope invalidation", key)
		}
	}
	if !store.Has(outOfScope.String()) {
		t.Error("Out-of-scope record was removed")
	}
}

func TestResolveValidatesKey(t *testing.T) {
	m := newTestManager(t, nil, Options{Origin: newFakeOrigin()})

	_, err := m.Resolve(context.Background(), types.Key{Scope: "acct-1"})
	if !errors.Is(err, types.ErrInvalidKey) {
		t.Errorf("Expected ErrInvalidKey, got %v", err)
	}
}

func TestManagerStats(t *testing.T) {
	origin := newFakeOrigin()
	m := newTestManager(t, nil, Options{Origin: origin})
	key := testKey()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := m.Resolve(ctx, key); err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
	}

	stats := m.Stats()
	if stats.OriginCalls != 1 {
		t.Errorf("Expected 1 origin call, got %d", stats.OriginCalls)
	}
	if stats.MemoryHits != 2 {
		t.Errorf("Expected 2 memory hits, got %d", stats.MemoryHits)
	}
	if stats.APICallsSaved != 2 {
		t.Errorf("Expected 2 saved calls, got %d", stats.APICallsSaved)
	}
	want := 2.0 / 3.0
	if diff := stats.HitRate - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("Expected hit rate %.3f, got %.3f", want, stats.HitRate)
	}
	if stats.CircuitState == "" {
		t.Error("Expected circuit state in stats")
	}
}

func TestManagerHealth(t *testing.T) {
	m := newTestManager(t, nil, Options{Origin: newFakeOrigin()})

	h := m.Health()
	if h.Status != types.HealthStatusDegraded {
		t.Errorf("Memory-only manager should report degraded, got %s", h.Status)
	}
	if !h.MemoryAvailable {
		t.Error("Expected memory tier available")
	}
	if h.DurableAvailable {
		t.Error("Durable tier should be unavailable with the store disabled")
	}
}

func TestManagerClose(t *testing.T) {
	m := newTestManager(t, nil, Options{Origin: newFakeOrigin()})

	if err := m.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := m.Resolve(context.Background(), testKey()); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
	if err := m.Invalidate(context.Background(), testKey()); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Expected ErrClosed after close, got %v", err)
	}
	if err := m.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}
