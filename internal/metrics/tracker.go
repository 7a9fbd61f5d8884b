// Package metrics provides cache operation metrics collection and publishing.
package metrics

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lanewhitten/stratacache/internal/types"
)

const (
	defaultLatencyBufferSize = 10000
)

// Tracker accumulates cache operation metrics in memory. All record
// methods are O(1) and allocation-free so they can sit on the hot path.
type Tracker struct {
	memoryHits  atomic.Int64
	durableHits atomic.Int64
	misses      atomic.Int64

	originCalls  atomic.Int64
	originErrors atomic.Int64

	queueDepth atomic.Int64

	cbStateChanges    atomic.Int64
	retries           atomic.Int64
	fallbacks         atomic.Int64
	integrityFailures atomic.Int64

	warmingRuns atomic.Int64
	warmedKeys  atomic.Int64

	latencyMu     sync.RWMutex
	latencyBuffer []time.Duration
	latencyIndex  int
	latencyCount  int
}

// Snapshot is a point-in-time view of accumulated metrics.
//
//nolint:govet // Snapshot struct - logical grouping prioritized over alignment
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	MemoryHits  int64 `json:"memoryHits"`
	DurableHits int64 `json:"durableHits"`
	Misses      int64 `json:"misses"`

	OriginCalls  int64 `json:"originCalls"`
	OriginErrors int64 `json:"originErrors"`

	QueueDepth int64 `json:"queueDepth"`

	CircuitStateChanges int64 `json:"circuitStateChanges"`
	Retries             int64 `json:"retries"`
	Fallbacks           int64 `json:"fallbacks"`
	IntegrityFailures   int64 `json:"integrityFailures"`

	WarmingRuns int64 `json:"warmingRuns"`
	WarmedKeys  int64 `json:"warmedKeys"`

	AvgLatencyMs float64 `json:"avgLatencyMs"`
	P50LatencyMs float64 `json:"p50LatencyMs"`
	P95LatencyMs float64 `json:"p95LatencyMs"`
	P99LatencyMs float64 `json:"p99LatencyMs"`
}

// HitRatio returns the fraction of lookups served from either cache tier.
func (s Snapshot) HitRatio() float64 {
	total := s.MemoryHits + s.DurableHits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.MemoryHits+s.DurableHits) / float64(total)
}

// NewTracker creates a tracker with the default latency buffer.
func NewTracker() *Tracker {
	return &Tracker{
		latencyBuffer: make([]time.Duration, defaultLatencyBufferSize),
	}
}

func (t *Tracker) RecordHit(tier string, latency time.Duration) {
	switch tier {
	case "memory":
		t.memoryHits.Add(1)
	case "durable":
		t.durableHits.Add(1)
	}
	t.recordLatency(latency)
}

func (t *Tracker) RecordMiss(latency time.Duration) {
	t.misses.Add(1)
	t.recordLatency(latency)
}

func (t *Tracker) RecordOriginFetch(latency time.Duration, err error) {
	t.originCalls.Add(1)
	if err != nil {
		t.originErrors.Add(1)
	}
	t.recordLatency(latency)
}

func (t *Tracker) RecordQueueDepth(depth int) {
	t.queueDepth.Store(int64(depth))
}

func (t *Tracker) RecordCircuitStateChange(from, to string) {
	t.cbStateChanges.Add(1)
}

func (t *Tracker) RecordRetry(kind string) {
	t.retries.Add(1)
}

func (t *Tracker) RecordFallback(source string) {
	t.fallbacks.Add(1)
}

func (t *Tracker) RecordIntegrityFailure() {
	t.integrityFailures.Add(1)
}

func (t *Tracker) RecordWarmingRun(keys int) {
	t.warmingRuns.Add(1)
	t.warmedKeys.Add(int64(keys))
}

// recordLatency adds a measurement to the circular buffer.
func (t *Tracker) recordLatency(latency time.Duration) {
	t.latencyMu.Lock()
	t.latencyBuffer[t.latencyIndex] = latency
	t.latencyIndex = (t.latencyIndex + 1) % len(t.latencyBuffer)
	if t.latencyCount < len(t.latencyBuffer) {
		t.latencyCount++
	}
	t.latencyMu.Unlock()
}

// Snapshot returns the current metrics snapshot.
func (t *Tracker) Snapshot() Snapshot {
	t.latencyMu.RLock()
	count := t.latencyCount
	latencyCopy := make([]time.Duration, count)
	if count > 0 {
		if count < len(t.latencyBuffer) {
			copy(latencyCopy, t.latencyBuffer[:count])
		} else {
			// Full buffer; the oldest sample sits at latencyIndex.
			firstPart := len(t.latencyBuffer) - t.latencyIndex
			copy(latencyCopy[:firstPart], t.latencyBuffer[t.latencyIndex:])
			copy(latencyCopy[firstPart:], t.latencyBuffer[:t.latencyIndex])
		}
	}
	t.latencyMu.RUnlock()

	snapshot := Snapshot{
		Timestamp:           time.Now(),
		MemoryHits:          t.memoryHits.Load(),
		DurableHits:         t.durableHits.Load(),
		Misses:              t.misses.Load(),
		OriginCalls:         t.originCalls.Load(),
		OriginErrors:        t.originErrors.Load(),
		QueueDepth:          t.queueDepth.Load(),
		CircuitStateChanges: t.cbStateChanges.Load(),
		Retries:             t.retries.Load(),
		Fallbacks:           t.fallbacks.Load(),
		IntegrityFailures:   t.integrityFailures.Load(),
		WarmingRuns:         t.warmingRuns.Load(),
		WarmedKeys:          t.warmedKeys.Load(),
	}

	if len(latencyCopy) > 0 {
		snapshot.AvgLatencyMs = float64(avgDuration(latencyCopy).Milliseconds())
		snapshot.P50LatencyMs = float64(percentile(latencyCopy, 50).Milliseconds())
		snapshot.P95LatencyMs = float64(percentile(latencyCopy, 95).Milliseconds())
		snapshot.P99LatencyMs = float64(percentile(latencyCopy, 99).Milliseconds())
	}

	return snapshot
}

// Reset clears all metrics.
func (t *Tracker) Reset() {
	t.memoryHits.Store(0)
	t.durableHits.Store(0)
	t.misses.Store(0)
	t.originCalls.Store(0)
	t.originErrors.Store(0)
	t.queueDepth.Store(0)
	t.cbStateChanges.Store(0)
	t.retries.Store(0)
	t.fallbacks.Store(0)
	t.integrityFailures.Store(0)
	t.warmingRuns.Store(0)
	t.warmedKeys.Store(0)

	t.latencyMu.Lock()
	t.latencyIndex = 0
	t.latencyCount = 0
	t.latencyMu.Unlock()
}

func avgDuration(durations []time.Duration) time.Duration {
	if len(durations) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range durations {
		total += d
	}
	return total / time.Duration(len(durations))
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	slices.Sort(sorted)

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}

var _ types.MetricsRecorder = (*Tracker)(nil)
