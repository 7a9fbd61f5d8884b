package cache

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// WarmingScheduler proactively refreshes records whose NextUpdateAt has
// passed, so dashboard loads find them already cached. Refreshes go through
// the manager at low priority; foreground resolves admitted at normal or
// higher always outrank a warming batch in the queue.
type WarmingScheduler struct {
	manager *Manager
	config  config.WarmingConfig
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics types.MetricsRecorder

	// callTimes is the rolling one-hour window of warming-issued origin
	// calls enforcing MaxCallsPerHour.
	mu        sync.Mutex
	callTimes []time.Time

	runs        atomic.Int64
	skippedRuns atomic.Int64

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
	closed  atomic.Bool
}

// NewWarmingScheduler creates a scheduler bound to the manager.
func NewWarmingScheduler(manager *Manager, cfg config.WarmingConfig, clock clockwork.Clock, metrics types.MetricsRecorder, logger *slog.Logger) *WarmingScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &WarmingScheduler{
		manager: manager,
		config:  cfg,
		clock:   clock,
		logger:  logger.With("component", "warming-scheduler"),
		metrics: metrics,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic warming loop. Starting a disabled or already
// started scheduler is a no-op.
func (w *WarmingScheduler) Start() {
	if !w.config.Enabled || w.config.Interval <= 0 {
		return
	}
	if w.started.Swap(true) {
		return
	}

	w.wg.Add(1)
	go w.loop()
}

func (w *WarmingScheduler) loop() {
	defer w.wg.Done()

	ticker := w.clock.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.Chan():
			if _, err := w.RunOnce(context.Background()); err != nil {
				w.logger.Warn("Warming run failed", "error", err)
			}
		}
	}
}

// RunOnce executes a single warming pass and returns how many keys it
// refreshed. It is also the manual trigger behind the public Warm call.
func (w *WarmingScheduler) RunOnce(ctx context.Context) (int, error) {
	if w.closed.Load() {
		return 0, types.ErrClosed
	}

	w.runs.Add(1)

	if w.config.MaxMemoryPercent > 0 && w.manager.memory.UsagePercentage() >= float64(w.config.MaxMemoryPercent) {
		w.skippedRuns.Add(1)
		w.logger.Info("Skipping warming run, memory budget reached",
			"usage_percent", w.manager.memory.UsagePercentage(),
		)
		return 0, nil
	}

	candidates, err := w.selectCandidates(ctx)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	warmed := w.processBatches(ctx, candidates)

	w.manager.warmedKeys.Add(int64(warmed))
	if w.metrics != nil {
		w.metrics.RecordWarmingRun(warmed)
	}
	w.logger.Info("Warming run complete",
		"candidates", len(candidates),
		"warmed", warmed,
	)
	return warmed, nil
}

// selectCandidates queries the durable tier for due records, most urgent
// priority first.
func (w *WarmingScheduler) selectCandidates(ctx context.Context) ([]*types.Record, error) {
	records, err := w.manager.store.Query(ctx, types.StoreFilter{
		NextUpdateBefore: w.clock.Now(),
		Limit:            w.config.MaxKeysPerRun,
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].UpdatePriority > records[j].UpdatePriority
	})
	return records, nil
}

// processBatches refreshes candidates in fixed-size batches with the
// configured pause between them. The hourly call budget is checked per key;
// once it is hit the rest of the run is abandoned until the next schedule.
func (w *WarmingScheduler) processBatches(ctx context.Context, candidates []*types.Record) int {
	batchSize := w.config.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}

	warmed := 0
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}

		for _, record := range candidates[start:end] {
			if !w.consumeBudget() {
				w.logger.Info("Hourly origin budget reached, abandoning warming run",
					"warmed", warmed,
					"remaining", len(candidates)-warmed,
				)
				return warmed
			}

			_, err := w.manager.Resolve(ctx, record.Key,
				types.WithForceRefresh(),
				types.WithPriority(types.PriorityLow),
			)
			if err != nil {
				w.logger.Debug("Warming refresh failed", "key", record.Key.String(), "error", err)
				continue
			}
			warmed++
		}

		if end < len(candidates) && w.config.DelayBetweenBatches > 0 {
			select {
			case <-w.stopCh:
				return warmed
			case <-ctx.Done():
				return warmed
			case <-w.clock.After(w.config.DelayBetweenBatches):
			}
		}
	}
	return warmed
}

// consumeBudget records one origin call against the rolling hourly window,
// returning false when the budget is exhausted.
func (w *WarmingScheduler) consumeBudget() bool {
	if w.config.MaxCallsPerHour <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	cutoff := now.Add(-time.Hour)
	kept := w.callTimes[:0]
	for _, t := range w.callTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.callTimes = kept

	if len(w.callTimes) >= w.config.MaxCallsPerHour {
		return false
	}
	w.callTimes = append(w.callTimes, now)
	return true
}

// Runs returns how many warming passes have started and how many were
// skipped for memory pressure.
func (w *WarmingScheduler) Runs() (total, skipped int64) {
	return w.runs.Load(), w.skippedRuns.Load()
}

// Close stops the loop and waits for any in-progress run to finish.
func (w *WarmingScheduler) Close() {
	if w.closed.Swap(true) {
		return
	}
	close(w.stopCh)
	w.wg.Wait()
}
