package resilience

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/config"
)

func testBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:    true,
		Threshold:  0.5,
		Window:     60 * time.Second,
		Cooldown:   30 * time.Second,
		MinSamples: 5,
	}
}

func TestBreakerOpensOnErrorRate(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	// 2 successes, 2 failures: under min samples, stays closed.
	cb.RecordSuccess()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()
	if cb.State() != StateClosed {
		t.Fatalf("breaker tripped below minimum samples, state = %s", cb.State())
	}

	// Fifth sample pushes the rate to 3/5 >= 0.5.
	cb.RecordFailure()
	if cb.State() != StateOpen {
		t.Fatalf("breaker should be open at 60%% error rate, state = %s", cb.State())
	}
	if cb.Allow() {
		t.Error("open breaker admitted a call")
	}
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	for i := 0; i < 8; i++ {
		cb.RecordSuccess()
	}
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("2/10 error rate should not trip, state = %s", cb.State())
	}
}

func TestBreakerWindowPruning(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	// Old failures age out of the window and stop counting.
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	clock.Advance(2 * time.Minute)

	for i := 0; i < 4; i++ {
		cb.RecordSuccess()
	}
	cb.RecordFailure()

	if cb.State() != StateClosed {
		t.Errorf("aged-out failures still counted, state = %s", cb.State())
	}
}

func TestBreakerCooldownAndTrial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	if cb.State() != StateOpen {
		t.Fatalf("breaker should be open, state = %s", cb.State())
	}

	// Calls within the cooldown are rejected.
	clock.Advance(29 * time.Second)
	if cb.Allow() {
		t.Error("breaker admitted a call before the cooldown elapsed")
	}
	if ra := cb.RetryAfter(); ra != 1*time.Second {
		t.Errorf("RetryAfter = %s, want 1s", ra)
	}

	// First call after the cooldown is the half-open trial; the breaker
	// admits exactly one before deciding.
	clock.Advance(1 * time.Second)
	if !cb.Allow() {
		t.Fatal("breaker rejected the trial call after cooldown")
	}
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half-open", cb.State())
	}
	if cb.Allow() {
		t.Error("half-open breaker admitted a second call during the trial")
	}
}

func TestBreakerTrialOutcomes(t *testing.T) {
	t.Run("trial success closes", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		cb := NewCircuitBreaker(testBreakerConfig(), clock)

		for i := 0; i < 5; i++ {
			cb.RecordFailure()
		}
		clock.Advance(30 * time.Second)
		if !cb.Allow() {
			t.Fatal("trial call rejected")
		}
		cb.RecordSuccess()

		if cb.State() != StateClosed {
			t.Errorf("state = %s, want closed after trial success", cb.State())
		}
		if !cb.Allow() {
			t.Error("closed breaker rejected a call")
		}
	})

	t.Run("trial failure reopens", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		cb := NewCircuitBreaker(testBreakerConfig(), clock)

		for i := 0; i < 5; i++ {
			cb.RecordFailure()
		}
		clock.Advance(30 * time.Second)
		if !cb.Allow() {
			t.Fatal("trial call rejected")
		}
		cb.RecordFailure()

		if cb.State() != StateOpen {
			t.Errorf("state = %s, want open after trial failure", cb.State())
		}
		// Full cooldown restarts.
		clock.Advance(29 * time.Second)
		if cb.Allow() {
			t.Error("breaker admitted a call before the restarted cooldown elapsed")
		}
	})
}

func TestBreakerCancelTrial(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	// CancelTrial outside half-open is a no-op.
	cb.CancelTrial()
	if !cb.Allow() {
		t.Fatal("closed breaker rejected a call after CancelTrial")
	}

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	if !cb.Allow() {
		t.Fatal("trial call rejected after cooldown")
	}
	if cb.Allow() {
		t.Fatal("second call admitted while the trial is in flight")
	}

	// An aborted trial frees the slot without deciding the state; the next
	// caller becomes the trial instead of waiting out another cooldown.
	cb.CancelTrial()
	if cb.State() != StateHalfOpen {
		t.Fatalf("state = %s after CancelTrial, want half-open", cb.State())
	}
	if !cb.Allow() {
		t.Error("breaker rejected the replacement trial call")
	}
}

func TestBreakerAdmitsSingleTrialUnderContention(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)

	// Many callers observe the open state after the cooldown at once; the
	// breaker must hand out exactly one trial slot.
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if cb.Allow() {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if n := admitted.Load(); n != 1 {
		t.Errorf("admitted %d trial calls, want exactly 1", n)
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("state = %s, want half-open", cb.State())
	}
}

func TestBreakerStateChangeCallback(t *testing.T) {
	clock := clockwork.NewFakeClock()
	cb := NewCircuitBreaker(testBreakerConfig(), clock)

	var transitions []string
	cb.SetOnStateChange(func(from, to State) {
		transitions = append(transitions, from.String()+"->"+to.String())
		// Reading breaker state from the callback must not deadlock.
		_ = cb.State()
	})

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	clock.Advance(30 * time.Second)
	cb.Allow()
	cb.RecordSuccess()

	want := []string{"closed->open", "open->half-open", "half-open->closed"}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, transitions[i], want[i])
		}
	}
}

func TestDisabledBreaker(t *testing.T) {
	b := NewDisabledBreaker()
	for i := 0; i < 100; i++ {
		b.RecordFailure()
	}
	b.CancelTrial()
	if !b.Allow() {
		t.Error("disabled breaker rejected a call")
	}
	if b.State() != StateClosed {
		t.Errorf("disabled breaker state = %s, want closed", b.State())
	}
}
