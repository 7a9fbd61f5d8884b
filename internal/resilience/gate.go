package resilience

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// Gate composes a concurrency semaphore, the request queue and a circuit
// breaker into a single admission decision for origin calls.
//
// With the breaker closed, up to ConcurrencyLimit calls run concurrently;
// further callers are queued by priority rather than rejected. With the
// breaker open, calls fail immediately with ErrCircuitOpen. Half-open
// admits exactly one trial call (the breaker enforces that).
type Gate struct {
	sem     chan struct{}
	queue   *RequestQueue
	breaker Breaker
	clock   clockwork.Clock

	queueTimeout  time.Duration
	handoffMu     sync.Mutex
	activeCount   atomic.Int32
	totalExecuted atomic.Int64
}

// NewGate creates a gate from configuration.
func NewGate(cfg config.BackpressureConfig, breaker Breaker, clock clockwork.Clock) *Gate {
	limit := cfg.ConcurrencyLimit
	if limit <= 0 {
		limit = 8
	}
	if breaker == nil {
		breaker = NewDisabledBreaker()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	queueTimeout := cfg.QueueTimeout
	if queueTimeout <= 0 {
		queueTimeout = 30 * time.Second
	}

	return &Gate{
		sem:          make(chan struct{}, limit),
		queue:        NewRequestQueue(cfg.QueueSize, cfg.SweepInterval, clock),
		breaker:      breaker,
		clock:        clock,
		queueTimeout: queueTimeout,
	}
}

// Do admits and runs fn. The outcome of fn is recorded against the circuit
// breaker; admission failures (queue full, deadline, open circuit) are not,
// since they say nothing about the dependency's health.
func (g *Gate) Do(ctx context.Context, priority types.Priority, fn func(context.Context) error) error {
	if !g.breaker.Allow() {
		return types.ErrCircuitOpen
	}

	if err := g.acquire(ctx, priority); err != nil {
		// The call never ran, so there is no outcome to record. If Allow
		// granted the half-open trial slot, hand it back rather than
		// leaving the breaker waiting on a trial that will never finish.
		g.breaker.CancelTrial()
		return err
	}
	defer g.release()

	g.activeCount.Add(1)
	defer g.activeCount.Add(-1)

	err := fn(ctx)
	g.totalExecuted.Add(1)

	if err != nil {
		g.breaker.RecordFailure()
	} else {
		g.breaker.RecordSuccess()
	}
	return err
}

// acquire obtains a concurrency slot, queueing by priority when the
// semaphore is saturated. The queued waiter is resolved by release handoff,
// the deadline sweeper, or caller cancellation, whichever comes first.
func (g *Gate) acquire(ctx context.Context, priority types.Priority) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	default:
	}

	// Re-check under the handoff lock so a slot freed between the fast
	// path and the enqueue cannot idle while we wait.
	g.handoffMu.Lock()
	select {
	case g.sem <- struct{}{}:
		g.handoffMu.Unlock()
		return nil
	default:
	}

	call, err := g.queue.Push(priority, g.clock.Now().Add(g.queueTimeout))
	g.handoffMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case err := <-call.Result():
		return err
	case <-ctx.Done():
		if g.queue.Remove(call) {
			return ctx.Err()
		}
		// Already granted or swept; consume the outcome and give any
		// granted slot back.
		if err := <-call.Result(); err == nil {
			g.release()
		}
		return ctx.Err()
	}
}

// release hands the slot to the highest-priority waiter, or frees it when
// nobody is queued.
func (g *Gate) release() {
	g.handoffMu.Lock()
	defer g.handoffMu.Unlock()

	if next := g.queue.Pop(); next != nil {
		next.resolve(nil)
		return
	}
	<-g.sem
}

// QueueDepth returns the number of calls waiting for a slot.
func (g *Gate) QueueDepth() int {
	return g.queue.Depth()
}

// ActiveCount returns the number of calls currently in flight.
func (g *Gate) ActiveCount() int {
	return int(g.activeCount.Load())
}

// CircuitState returns the breaker state.
func (g *Gate) CircuitState() State {
	return g.breaker.State()
}

// RetryAfter returns the breaker's cooldown remainder, if open.
func (g *Gate) RetryAfter() time.Duration {
	return g.breaker.RetryAfter()
}

// SetOnCircuitStateChange registers a breaker state-change callback.
func (g *Gate) SetOnCircuitStateChange(fn func(from, to State)) {
	g.breaker.SetOnStateChange(fn)
}

// Close stops the queue sweeper and fails all queued waiters.
func (g *Gate) Close() {
	g.queue.Close()
}
