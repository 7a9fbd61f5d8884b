// Package freshness classifies cached records by the age of their subject
// date and recommends when each should next be refreshed.
package freshness

import (
	"time"

	"github.com/lanewhitten/stratacache/internal/config"
	"github.com/lanewhitten/stratacache/internal/types"
)

// Classifier maps a record's subject-date age to a freshness status and a
// recommended next-refresh time. It is pure: the same inputs always produce
// the same outputs, and classification never fails.
type Classifier struct {
	cfg config.FreshnessConfig
}

// NewClassifier creates a classifier from configuration. Zero thresholds
// fall back to the library defaults.
func NewClassifier(cfg config.FreshnessConfig) *Classifier {
	def := config.DefaultConfig().Freshness
	if cfg.RealtimeMaxAge <= 0 {
		cfg.RealtimeMaxAge = def.RealtimeMaxAge
	}
	if cfg.NeartimeMaxAge <= 0 {
		cfg.NeartimeMaxAge = def.NeartimeMaxAge
	}
	if cfg.StabilizingMaxAge <= 0 {
		cfg.StabilizingMaxAge = def.StabilizingMaxAge
	}
	if cfg.RealtimeRefresh <= 0 {
		cfg.RealtimeRefresh = def.RealtimeRefresh
	}
	if cfg.NeartimeRefresh <= 0 {
		cfg.NeartimeRefresh = def.NeartimeRefresh
	}
	if cfg.StabilizingRefresh <= 0 {
		cfg.StabilizingRefresh = def.StabilizingRefresh
	}
	return &Classifier{cfg: cfg}
}

// Classify returns the freshness status for data describing subjectDate as
// of now, plus the recommended next-update time. Finalized data never needs
// a refresh; its next-update time is the zero value.
func (c *Classifier) Classify(subjectDate, now time.Time) (types.FreshnessStatus, time.Time) {
	if subjectDate.IsZero() {
		subjectDate = now
	}

	age := now.Sub(subjectDate)

	switch {
	case age < c.cfg.RealtimeMaxAge:
		return types.FreshnessRealtime, now.Add(c.cfg.RealtimeRefresh)
	case age < c.cfg.NeartimeMaxAge:
		return types.FreshnessNeartime, now.Add(c.cfg.NeartimeRefresh)
	case age < c.cfg.StabilizingMaxAge:
		return types.FreshnessStabilizing, now.Add(c.cfg.StabilizingRefresh)
	default:
		return types.FreshnessFinalized, time.Time{}
	}
}
