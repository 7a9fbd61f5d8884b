package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// FaultIsolator tracks per-source health and temporarily excludes unhealthy
// sources from the fallback chain. Isolation lasts a fixed duration, after
// which calls are admitted as probes; if the probes' rolling success rate
// meets the recovery threshold the isolation lifts, otherwise it is
// reapplied for another fixed duration. The duration deliberately does not
// grow, so no source is ever excluded permanently.
type FaultIsolator struct {
	enabled           bool
	tripCount         int
	duration          time.Duration
	recoveryThreshold float64
	probeWindow       int

	clock  clockwork.Clock
	logger *slog.Logger

	mu      sync.Mutex
	sources map[string]*isolationRecord
}

type isolationRecord struct {
	consecutiveFails int
	isolatedUntil    time.Time
	lastHealthCheck  time.Time
	probing          bool
	probeResults     []bool
}

// NewFaultIsolator creates an isolator from configuration.
func NewFaultIsolator(cfg config.IsolationConfig, clock clockwork.Clock, logger *slog.Logger) *FaultIsolator {
	fi := &FaultIsolator{
		enabled:           cfg.Enabled,
		tripCount:         cfg.TripCount,
		duration:          cfg.Duration,
		recoveryThreshold: cfg.RecoveryThreshold,
		probeWindow:       cfg.ProbeWindow,
		clock:             clock,
		logger:            logger,
		sources:           make(map[string]*isolationRecord),
	}

	if fi.tripCount <= 0 {
		fi.tripCount = 3
	}
	if fi.duration <= 0 {
		fi.duration = 2 * time.Minute
	}
	if fi.recoveryThreshold <= 0 || fi.recoveryThreshold > 1 {
		fi.recoveryThreshold = 0.6
	}
	if fi.probeWindow <= 0 {
		fi.probeWindow = 5
	}
	if fi.clock == nil {
		fi.clock = clockwork.NewRealClock()
	}
	if fi.logger == nil {
		fi.logger = slog.Default()
	}

	return fi
}

// Allow reports whether calls to the named source are currently admitted.
// The first call after an isolation window expires flips the source into
// probing mode; probe outcomes decide whether isolation lifts.
func (fi *FaultIsolator) Allow(name string) bool {
	if !fi.enabled {
		return true
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	rec, ok := fi.sources[name]
	if !ok {
		return true
	}
	if rec.probing {
		return true
	}

	now := fi.clock.Now()
	if now.Before(rec.isolatedUntil) {
		return false
	}

	rec.probing = true
	rec.lastHealthCheck = now
	fi.logger.Info("Probing isolated source for recovery", "source", name)
	return true
}

// ReportSuccess records a successful call to the named source.
func (fi *FaultIsolator) ReportSuccess(name string) {
	if !fi.enabled {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	rec, ok := fi.sources[name]
	if !ok {
		return
	}

	if rec.probing {
		rec.probeResults = append(rec.probeResults, true)
		fi.decideLocked(name, rec)
		return
	}
	rec.consecutiveFails = 0
}

// ReportFailure records a failed call to the named source, isolating it
// once the consecutive-failure trip count is reached.
func (fi *FaultIsolator) ReportFailure(name string) {
	if !fi.enabled {
		return
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	rec, ok := fi.sources[name]
	if !ok {
		rec = &isolationRecord{}
		fi.sources[name] = rec
	}

	if rec.probing {
		rec.probeResults = append(rec.probeResults, false)
		fi.decideLocked(name, rec)
		return
	}

	rec.consecutiveFails++
	if rec.consecutiveFails >= fi.tripCount && rec.isolatedUntil.IsZero() {
		fi.isolateLocked(name, rec)
	}
}

// decideLocked evaluates a full probe window: recovery when the success
// rate meets the threshold, another fixed isolation otherwise.
func (fi *FaultIsolator) decideLocked(name string, rec *isolationRecord) {
	if len(rec.probeResults) < fi.probeWindow {
		return
	}

	successes := 0
	for _, ok := range rec.probeResults {
		if ok {
			successes++
		}
	}
	rate := float64(successes) / float64(len(rec.probeResults))

	if rate >= fi.recoveryThreshold {
		delete(fi.sources, name)
		fi.logger.Info("Source recovered, isolation lifted",
			"source", name,
			"probe_success_rate", rate,
		)
		return
	}

	rec.probing = false
	rec.probeResults = nil
	fi.isolateLocked(name, rec)
}

func (fi *FaultIsolator) isolateLocked(name string, rec *isolationRecord) {
	rec.isolatedUntil = fi.clock.Now().Add(fi.duration)
	rec.consecutiveFails = 0
	fi.logger.Warn("Source isolated",
		"source", name,
		"until", rec.isolatedUntil,
	)
}

// IsIsolated reports whether the named source is currently excluded.
func (fi *FaultIsolator) IsIsolated(name string) bool {
	if !fi.enabled {
		return false
	}

	fi.mu.Lock()
	defer fi.mu.Unlock()

	rec, ok := fi.sources[name]
	if !ok || rec.probing {
		return false
	}
	return fi.clock.Now().Before(rec.isolatedUntil)
}

// Snapshot returns the currently tracked isolation state.
func (fi *FaultIsolator) Snapshot() []types.IsolationStatus {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	var out []types.IsolationStatus
	for name, rec := range fi.sources {
		if rec.isolatedUntil.IsZero() && !rec.probing {
			continue
		}
		out = append(out, types.IsolationStatus{
			Source:        name,
			IsolatedUntil: rec.isolatedUntil,
			Probing:       rec.probing,
		})
	}
	return out
}
