package metrics

import "time"

// Publisher sends metrics to an external backend. Implementations must be
// safe for concurrent use and tolerate a dead backend without blocking.
type Publisher interface {
	Gauge(name string, value float64, tags ...string)
	Incr(name string, tags ...string)
	Count(name string, value int64, tags ...string)
	Histogram(name string, value float64, tags ...string)
	Timing(name string, duration time.Duration, tags ...string)
	PublishSnapshot(s Snapshot)
	Close() error
}
