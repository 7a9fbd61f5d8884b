package types

import "time"

// HealthStatus summarizes a component's condition.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// Health is an introspection snapshot of the orchestrator. Degraded means
// callers are still served but at least one tier is impaired (typically the
// durable store, leaving memory+origin mode).
type Health struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`

	MemoryAvailable  bool `json:"memoryAvailable"`
	DurableAvailable bool `json:"durableAvailable"`

	CircuitState string `json:"circuitState"`
	QueueDepth   int    `json:"queueDepth"`

	IsolatedSources []IsolationStatus `json:"isolatedSources,omitempty"`
}

// IsolationStatus reports one isolated fallback source.
type IsolationStatus struct {
	Source        string    `json:"source"`
	IsolatedUntil time.Time `json:"isolatedUntil"`
	Probing       bool      `json:"probing"`
}
