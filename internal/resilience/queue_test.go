package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/types"
)

func TestQueuePriorityOrdering(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(10, time.Second, clock)
	defer q.Close()

	deadline := clock.Now().Add(time.Minute)

	normal, _ := q.Push(types.PriorityNormal, deadline)
	low, _ := q.Push(types.PriorityLow, deadline)
	high, _ := q.Push(types.PriorityHigh, deadline)
	critical, _ := q.Push(types.PriorityCritical, deadline)

	want := []*QueuedCall{critical, high, normal, low}
	for i, expect := range want {
		got := q.Pop()
		if got == nil {
			t.Fatalf("Pop %d returned nil", i)
		}
		if got.ID != expect.ID {
			t.Errorf("Pop %d = priority %d, want priority %d", i, got.Priority, expect.Priority)
		}
	}
	if q.Pop() != nil {
		t.Error("Pop on empty queue should return nil")
	}
}

func TestQueueFIFOWithinClass(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(10, time.Second, clock)
	defer q.Close()

	deadline := clock.Now().Add(time.Minute)

	first, _ := q.Push(types.PriorityNormal, deadline)
	second, _ := q.Push(types.PriorityNormal, deadline)
	third, _ := q.Push(types.PriorityNormal, deadline)

	for i, expect := range []*QueuedCall{first, second, third} {
		if got := q.Pop(); got.ID != expect.ID {
			t.Errorf("Pop %d = call %d, want call %d", i, got.ID, expect.ID)
		}
	}
}

func TestQueueFullRejectsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(2, time.Second, clock)
	defer q.Close()

	deadline := clock.Now().Add(time.Minute)
	q.Push(types.PriorityNormal, deadline)
	q.Push(types.PriorityNormal, deadline)

	start := time.Now()
	_, err := q.Push(types.PriorityCritical, deadline)
	if !errors.Is(err, types.ErrQueueFull) {
		t.Fatalf("Push on full queue = %v, want ErrQueueFull", err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("full-queue rejection took %s, should not block", elapsed)
	}
	if q.Rejected() != 1 {
		t.Errorf("Rejected = %d, want 1", q.Rejected())
	}
}

func TestQueueSweepFailsExpiredWaiters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(10, time.Second, clock)
	defer q.Close()

	// Wait for the sweeper to arm its ticker before advancing.
	clock.BlockUntil(1)

	expiring, _ := q.Push(types.PriorityNormal, clock.Now().Add(500*time.Millisecond))
	surviving, _ := q.Push(types.PriorityNormal, clock.Now().Add(time.Hour))

	clock.Advance(time.Second)

	select {
	case err := <-expiring.Result():
		if !errors.Is(err, types.ErrQueueTimeout) {
			t.Errorf("expired waiter got %v, want ErrQueueTimeout", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expired waiter was never failed by the sweeper")
	}

	select {
	case err := <-surviving.Result():
		t.Errorf("unexpired waiter was resolved with %v", err)
	default:
	}

	if q.Timeouts() != 1 {
		t.Errorf("Timeouts = %d, want 1", q.Timeouts())
	}
	if q.Depth() != 1 {
		t.Errorf("Depth = %d, want 1", q.Depth())
	}
}

func TestQueuePopSkipsExpired(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(10, time.Hour, clock)
	defer q.Close()

	expired, _ := q.Push(types.PriorityHigh, clock.Now().Add(time.Second))
	live, _ := q.Push(types.PriorityNormal, clock.Now().Add(time.Hour))

	clock.Advance(2 * time.Second)

	got := q.Pop()
	if got == nil || got.ID != live.ID {
		t.Fatalf("Pop returned %v, want the live call", got)
	}

	select {
	case err := <-expired.Result():
		if !errors.Is(err, types.ErrQueueTimeout) {
			t.Errorf("expired waiter got %v, want ErrQueueTimeout", err)
		}
	default:
		t.Error("expired waiter was not resolved on Pop")
	}
}

func TestQueueRemove(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(10, time.Second, clock)
	defer q.Close()

	deadline := clock.Now().Add(time.Minute)
	call, _ := q.Push(types.PriorityNormal, deadline)

	if !q.Remove(call) {
		t.Error("Remove returned false for a queued call")
	}
	if q.Remove(call) {
		t.Error("Remove returned true for an already-removed call")
	}
	if q.Depth() != 0 {
		t.Errorf("Depth = %d after removal, want 0", q.Depth())
	}
}

func TestQueueCloseFailsWaiters(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := NewRequestQueue(10, time.Second, clock)

	call, _ := q.Push(types.PriorityNormal, clock.Now().Add(time.Minute))
	q.Close()

	select {
	case err := <-call.Result():
		if !errors.Is(err, types.ErrClosed) {
			t.Errorf("waiter got %v on close, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiter was not resolved on Close")
	}

	if _, err := q.Push(types.PriorityNormal, clock.Now().Add(time.Minute)); !errors.Is(err, types.ErrClosed) {
		t.Errorf("Push after Close = %v, want ErrClosed", err)
	}
}
