package resilience

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/types"
)

// QueuedCall is one waiter in the request queue. The caller blocks on
// Result: a nil send means a concurrency slot was granted; ErrQueueTimeout
// means the call's hard deadline passed before a slot freed.
type QueuedCall struct {
	ID         uint64
	Priority   types.Priority
	EnqueuedAt time.Time
	TimeoutAt  time.Time
	RetryCount int

	result chan error
}

// Result is the channel the waiter receives its admission outcome on.
func (c *QueuedCall) Result() <-chan error {
	return c.result
}

func (c *QueuedCall) resolve(err error) {
	// Buffered channel; each call is resolved at most once by whoever
	// removed it from the queue, so this never blocks.
	c.result <- err
}

// RequestQueue is a bounded admission buffer ordered by priority class,
// FIFO within a class. Insertion into a full queue fails immediately; a
// background sweep fails any entry past its deadline.
type RequestQueue struct {
	capacity      int
	sweepInterval time.Duration
	clock         clockwork.Clock

	mu      sync.Mutex
	entries []*QueuedCall
	closed  bool

	nextID atomic.Uint64

	stopCh chan struct{}
	wg     sync.WaitGroup

	timeouts atomic.Int64
	rejected atomic.Int64
}

// NewRequestQueue creates a queue with the given capacity and starts its
// deadline sweeper.
func NewRequestQueue(capacity int, sweepInterval time.Duration, clock clockwork.Clock) *RequestQueue {
	if capacity <= 0 {
		capacity = 100
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	q := &RequestQueue{
		capacity:      capacity,
		sweepInterval: sweepInterval,
		clock:         clock,
		stopCh:        make(chan struct{}),
	}

	q.wg.Add(1)
	go q.sweepLoop()

	return q
}

// Push enqueues a waiter with the given priority and hard deadline. It
// fails immediately with ErrQueueFull when the queue is at capacity; there
// is no blocking wait to enqueue.
func (q *RequestQueue) Push(priority types.Priority, timeoutAt time.Time) (*QueuedCall, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, types.ErrClosed
	}
	if len(q.entries) >= q.capacity {
		q.rejected.Add(1)
		return nil, types.ErrQueueFull
	}

	call := &QueuedCall{
		ID:         q.nextID.Add(1),
		Priority:   priority,
		EnqueuedAt: q.clock.Now(),
		TimeoutAt:  timeoutAt,
		result:     make(chan error, 1),
	}

	// Insert after the last entry of equal or higher priority so class
	// strictly dominates arrival order and arrival order holds within a class.
	pos := len(q.entries)
	for pos > 0 && q.entries[pos-1].Priority < priority {
		pos--
	}
	q.entries = append(q.entries, nil)
	copy(q.entries[pos+1:], q.entries[pos:])
	q.entries[pos] = call

	return call, nil
}

// Pop removes and returns the highest-priority waiter, or nil when the
// queue is empty. Entries already past their deadline are failed and
// skipped rather than returned.
func (q *RequestQueue) Pop() *QueuedCall {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	for len(q.entries) > 0 {
		call := q.entries[0]
		q.entries = q.entries[1:]

		if now.After(call.TimeoutAt) {
			q.timeouts.Add(1)
			call.resolve(types.ErrQueueTimeout)
			continue
		}
		return call
	}
	return nil
}

// Remove takes a specific waiter out of the queue, typically on caller
// cancellation. Returns false when the call is no longer queued (already
// granted or swept).
func (q *RequestQueue) Remove(call *QueuedCall) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, c := range q.entries {
		if c.ID == call.ID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true
		}
	}
	return false
}

// Depth returns the number of queued waiters.
func (q *RequestQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Timeouts returns the number of waiters failed by deadline expiry.
func (q *RequestQueue) Timeouts() int64 {
	return q.timeouts.Load()
}

// Rejected returns the number of pushes refused because the queue was full.
func (q *RequestQueue) Rejected() int64 {
	return q.rejected.Load()
}

// Close stops the sweeper and fails all remaining waiters.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	remaining := q.entries
	q.entries = nil
	q.mu.Unlock()

	close(q.stopCh)
	q.wg.Wait()

	for _, call := range remaining {
		call.resolve(types.ErrClosed)
	}
}

func (q *RequestQueue) sweepLoop() {
	defer q.wg.Done()

	ticker := q.clock.NewTicker(q.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.Chan():
			q.sweep()
		}
	}
}

// sweep fails every waiter past its deadline. No QueuedCall survives past
// TimeoutAt unresolved, even if no slot ever frees.
func (q *RequestQueue) sweep() {
	now := q.clock.Now()

	q.mu.Lock()
	var expired []*QueuedCall
	kept := q.entries[:0]
	for _, call := range q.entries {
		if now.After(call.TimeoutAt) {
			expired = append(expired, call)
		} else {
			kept = append(kept, call)
		}
	}
	q.entries = kept
	q.mu.Unlock()

	for _, call := range expired {
		q.timeouts.Add(1)
		call.resolve(types.ErrQueueTimeout)
	}
}
