package metrics

import (
	"time"

	"github.com/lanewhitten/stratacache/internal/types"
)

// Noop is a MetricsRecorder that does nothing. Used when metrics are
// disabled.
type Noop struct{}

// NewNoop creates a no-op recorder.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) RecordHit(tier string, latency time.Duration)       {}
func (n *Noop) RecordMiss(latency time.Duration)                   {}
func (n *Noop) RecordOriginFetch(latency time.Duration, err error) {}
func (n *Noop) RecordQueueDepth(depth int)                         {}
func (n *Noop) RecordCircuitStateChange(from, to string)           {}
func (n *Noop) RecordRetry(kind string)                            {}
func (n *Noop) RecordFallback(source string)                       {}
func (n *Noop) RecordIntegrityFailure()                            {}
func (n *Noop) RecordWarmingRun(keys int)                          {}

var _ types.MetricsRecorder = (*Noop)(nil)
