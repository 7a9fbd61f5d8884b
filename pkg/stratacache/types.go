package stratacache

import (
	"github.com/lanewhitten/stratacache/internal/types"
)

type (
	Key             = types.Key
	Record          = types.Record
	Payload         = types.Payload
	Provenance      = types.Provenance
	Stats           = types.Stats
	Health          = types.Health
	HealthStatus    = types.HealthStatus
	FreshnessStatus = types.FreshnessStatus
	Tier            = types.Tier
	Priority        = types.Priority
	Origin          = types.Origin
	DurableStore    = types.DurableStore
	MemoryLayer     = types.MemoryLayer
	RecordCodec     = types.RecordCodec
	MetricsRecorder = types.MetricsRecorder
	ResolveOption   = types.ResolveOption
	StoreFilter     = types.StoreFilter
	ErrorKind       = types.ErrorKind
	UpstreamError   = types.UpstreamError
	ResolveError    = types.ResolveError
)

const (
	FreshnessRealtime    = types.FreshnessRealtime
	FreshnessNeartime    = types.FreshnessNeartime
	FreshnessStabilizing = types.FreshnessStabilizing
	FreshnessFinalized   = types.FreshnessFinalized

	TierMemory  = types.TierMemory
	TierDurable = types.TierDurable
	TierOrigin  = types.TierOrigin

	PriorityLow      = types.PriorityLow
	PriorityNormal   = types.PriorityNormal
	PriorityHigh     = types.PriorityHigh
	PriorityCritical = types.PriorityCritical

	KindRateLimit  = types.KindRateLimit
	KindTimeout    = types.KindTimeout
	KindNetwork    = types.KindNetwork
	KindAuth       = types.KindAuth
	KindValidation = types.KindValidation

	HealthStatusHealthy   = types.HealthStatusHealthy
	HealthStatusDegraded  = types.HealthStatusDegraded
	HealthStatusUnhealthy = types.HealthStatusUnhealthy
)

// Per-call resolve options.
var (
	WithForceRefresh     = types.WithForceRefresh
	WithRequireComplete  = types.WithRequireComplete
	WithResolvePriority  = types.WithPriority
	WithoutStaleFallback = types.WithoutStaleFallback
)

// NewUpstreamError classifies an origin failure for retry decisions.
func NewUpstreamError(kind ErrorKind, err error) *UpstreamError {
	return types.NewUpstreamError(kind, err)
}
