package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// BackgroundPublisher pushes tracker snapshots to a Publisher at regular
// intervals, with context-based cancellation.
type BackgroundPublisher struct {
	tracker   *Tracker
	publisher Publisher
	logger    *slog.Logger
	cancel    context.CancelFunc
	ctx       context.Context
	wg        sync.WaitGroup
	interval  time.Duration
}

// NewBackgroundPublisher creates a background publisher over the tracker.
func NewBackgroundPublisher(tracker *Tracker, publisher Publisher, interval time.Duration, logger *slog.Logger) *BackgroundPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	return &BackgroundPublisher{
		tracker:   tracker,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With("component", "metrics-background"),
	}
}

// Start begins the publishing loop. The provided context controls the
// lifecycle of the background goroutine.
func (b *BackgroundPublisher) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.run()
	b.logger.Info("Background metrics publisher started", "interval", b.interval)
}

// Stop cancels the loop and waits for shutdown.
func (b *BackgroundPublisher) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
	b.logger.Info("Background metrics publisher stopped")
}

func (b *BackgroundPublisher) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			// Final publish before stopping.
			b.publish()
			return
		case <-ticker.C:
			b.publish()
		}
	}
}

func (b *BackgroundPublisher) publish() {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Recovered from panic in metrics publisher", "panic", r)
		}
	}()

	if b.tracker == nil || b.publisher == nil {
		return
	}
	b.publisher.PublishSnapshot(b.tracker.Snapshot())
}

// PublishNow triggers an immediate publish.
func (b *BackgroundPublisher) PublishNow() {
	b.publish()
}
