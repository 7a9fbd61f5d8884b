package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// FallbackSource is one alternative in the tier fallback chain walked after
// primary attempts are exhausted. Each source has its own timeout; the
// first source to succeed short-circuits the chain.
type FallbackSource struct {
	Name    string
	Timeout time.Duration
	Fetch   func(ctx context.Context) (*types.Record, error)
}

// Coordinator wraps an origin operation with bounded exponential backoff
// and walks the fallback chain when attempts run out. Only declared
// retryable error kinds are retried; permanent errors and open-circuit
// rejections skip straight to the fallback chain.
type Coordinator struct {
	maxAttempts    int
	initialDelay   time.Duration
	maxBackoff     time.Duration
	multiplier     float64
	jitter         bool
	attemptTimeout time.Duration

	clock    clockwork.Clock
	isolator *FaultIsolator
	logger   *slog.Logger

	totalRetries   atomic.Int64
	totalFallbacks atomic.Int64
}

// NewCoordinator creates a retry coordinator from configuration. A disabled
// retry config yields a coordinator that makes a single attempt before
// falling back.
func NewCoordinator(cfg config.RetryConfig, isolator *FaultIsolator, clock clockwork.Clock, logger *slog.Logger) *Coordinator {
	c := &Coordinator{
		maxAttempts:    cfg.MaxAttempts,
		initialDelay:   cfg.InitialDelay,
		maxBackoff:     cfg.MaxBackoff,
		multiplier:     cfg.BackoffMultiplier,
		jitter:         cfg.Jitter,
		attemptTimeout: cfg.AttemptTimeout,
		clock:          clock,
		isolator:       isolator,
		logger:         logger,
	}

	if !cfg.Enabled || c.maxAttempts <= 0 {
		c.maxAttempts = 1
	}
	if c.initialDelay <= 0 {
		c.initialDelay = time.Second
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 30 * time.Second
	}
	if c.multiplier < 1 {
		c.multiplier = 2.0
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	return c
}

// Execute runs op with retries, then walks chain. The returned error is the
// primary operation's last error when the whole chain fails; the chain's
// own failures are logged, not propagated.
func (c *Coordinator) Execute(ctx context.Context, op func(context.Context) (*types.Record, error), chain []FallbackSource) (*types.Record, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		record, err := c.attempt(ctx, op)
		if err == nil {
			return record, nil
		}
		lastErr = err

		if !types.IsRetryable(err) {
			break
		}
		if attempt == c.maxAttempts {
			break
		}

		c.totalRetries.Add(1)
		backoff := c.backoffFor(attempt)
		if hint := types.RetryAfterHint(err); hint > backoff {
			backoff = hint
		}

		c.logger.Debug("Retrying after backoff",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.clock.After(backoff):
		}
	}

	if record, ok := c.walkFallbacks(ctx, chain); ok {
		return record, nil
	}
	return nil, lastErr
}

func (c *Coordinator) attempt(ctx context.Context, op func(context.Context) (*types.Record, error)) (*types.Record, error) {
	if c.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.attemptTimeout)
		defer cancel()
	}
	return op(ctx)
}

// walkFallbacks tries each non-isolated source in order, reporting outcomes
// to the fault isolator. The first success wins.
func (c *Coordinator) walkFallbacks(ctx context.Context, chain []FallbackSource) (*types.Record, bool) {
	for _, src := range chain {
		if c.isolator != nil && !c.isolator.Allow(src.Name) {
			c.logger.Debug("Skipping isolated fallback source", "source", src.Name)
			continue
		}

		srcCtx := ctx
		var cancel context.CancelFunc
		if src.Timeout > 0 {
			srcCtx, cancel = context.WithTimeout(ctx, src.Timeout)
		}

		record, err := src.Fetch(srcCtx)
		if cancel != nil {
			cancel()
		}

		if c.isolator != nil {
			if err != nil {
				c.isolator.ReportFailure(src.Name)
			} else {
				c.isolator.ReportSuccess(src.Name)
			}
		}

		if err == nil {
			c.totalFallbacks.Add(1)
			c.logger.Debug("Fallback source served the call", "source", src.Name)
			return record, true
		}

		c.logger.Debug("Fallback source failed", "source", src.Name, "error", err)
	}
	return nil, false
}

// backoffFor computes the delay before attempt n+1:
// min(maxBackoff, initialDelay * multiplier^(n-1)), jittered by up to 25%
// in either direction when jitter is enabled.
func (c *Coordinator) backoffFor(attempt int) time.Duration {
	backoff := float64(c.initialDelay) * math.Pow(c.multiplier, float64(attempt-1))
	if backoff > float64(c.maxBackoff) {
		backoff = float64(c.maxBackoff)
	}

	if c.jitter {
		jitterRange := backoff * 0.25
		backoff += (rand.Float64() * 2 * jitterRange) - jitterRange
	}

	return time.Duration(backoff)
}

// Stats returns retry and fallback counters.
func (c *Coordinator) Stats() (retries, fallbacks int64) {
	return c.totalRetries.Load(), c.totalFallbacks.Load()
}
