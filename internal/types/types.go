// Package types provides shared types for the stratacache library.
// This package breaks import cycles between pkg/stratacache and the
// internal cache, resilience, and codec packages.
package types

import (
	"fmt"
	"time"
)

// Key identifies one cached unit of upstream data. A key is composed of a
// scope (e.g. an account), a subscope (e.g. a campaign) and a time bucket
// (e.g. "2026-08"). The composite is unique per cached record.
type Key struct {
	Scope    string `json:"scope" msgpack:"scope"`
	Subscope string `json:"subscope" msgpack:"subscope"`
	Bucket   string `json:"bucket" msgpack:"bucket"`
}

// String returns the canonical string form used as the storage key in both
// cache tiers.
func (k Key) String() string {
	return k.Scope + ":" + k.Subscope + ":" + k.Bucket
}

// ScopePrefix returns the storage-key prefix shared by all keys in the same
// scope. Used for scope-wide invalidation and warming queries.
func (k Key) ScopePrefix() string {
	return k.Scope + ":"
}

// FreshnessStatus classifies how likely a cached record still matches the
// origin's current state. Values are ordered: a record only moves forward
// through the sequence as its subject date ages. Only an explicit successful
// refresh resets a record to FreshnessRealtime.
type FreshnessStatus int

const (
	FreshnessRealtime FreshnessStatus = iota + 1
	FreshnessNeartime
	FreshnessStabilizing
	FreshnessFinalized
)

func (s FreshnessStatus) String() string {
	switch s {
	case FreshnessRealtime:
		return "realtime"
	case FreshnessNeartime:
		return "near-time"
	case FreshnessStabilizing:
		return "stabilizing"
	case FreshnessFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// AtLeast reports whether s is at or beyond other in the aging sequence.
func (s FreshnessStatus) AtLeast(other FreshnessStatus) bool {
	return s >= other
}

// Tier identifies one of the three cache layers.
type Tier int

const (
	TierMemory Tier = iota + 1
	TierDurable
	TierOrigin
)

func (t Tier) String() string {
	switch t {
	case TierMemory:
		return "memory"
	case TierDurable:
		return "durable"
	case TierOrigin:
		return "origin"
	default:
		return "unknown"
	}
}

// Priority is the admission priority class for origin calls. Among queued
// calls, priority class strictly dominates arrival order.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a configured priority name to its class. Unknown
// names fall back to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "normal":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// Provenance describes where a resolved record came from and in what state.
// It is attached to every successful Resolve result and never persisted.
type Provenance struct {
	Tier    Tier `json:"tier"`
	Stale   bool `json:"stale"`
	Partial bool `json:"partial"`
}

// Record is one cached unit. Records are owned exclusively by the tiered
// cache manager and mutated only through its refresh path.
//
//nolint:govet // Record mirrors the persisted layout - field grouping prioritized over alignment
type Record struct {
	Key Key `json:"key" msgpack:"key"`

	// Payload holds the fetched data, possibly compressed. Algorithm names
	// the compression applied ("none" or empty means uncompressed).
	Payload   []byte `json:"payload" msgpack:"payload"`
	Algorithm string `json:"algorithm" msgpack:"algorithm"`

	// Checksum is the xxhash64 of Payload as stored. It is verified before
	// every commit and after every read.
	Checksum uint64 `json:"checksum" msgpack:"checksum"`

	Freshness   FreshnessStatus `json:"freshness" msgpack:"freshness"`
	RecordCount int             `json:"recordCount" msgpack:"record_count"`
	Complete    bool            `json:"complete" msgpack:"complete"`

	CreatedAt      time.Time `json:"createdAt" msgpack:"created_at"`
	LastVerifiedAt time.Time `json:"lastVerifiedAt" msgpack:"last_verified_at"`
	NextUpdateAt   time.Time `json:"nextUpdateAt" msgpack:"next_update_at"`

	UpdatePriority Priority `json:"updatePriority" msgpack:"update_priority"`

	FetchDurationMs int64  `json:"fetchDurationMs" msgpack:"fetch_duration_ms"`
	ErrorCount      int    `json:"errorCount" msgpack:"error_count"`
	LastError       string `json:"lastError,omitempty" msgpack:"last_error"`

	// Generation is the fetch-attempt counter for this key at the time the
	// record was committed. Later generations win; a slow stale fetch can
	// never overwrite a newer result.
	Generation uint64 `json:"generation" msgpack:"generation"`

	// Provenance is set by the manager on return and is not persisted.
	Provenance Provenance `json:"-" msgpack:"-"`
}

// IsFresh reports whether the record does not yet need a refresh at the
// given instant. Finalized records never need one.
func (r *Record) IsFresh(now time.Time) bool {
	if r.Freshness == FreshnessFinalized {
		return true
	}
	if r.NextUpdateAt.IsZero() {
		return false
	}
	return now.Before(r.NextUpdateAt)
}

// Payload is the result of a single origin fetch. SubjectDate is the date
// the data describes (not the fetch time); it drives freshness
// classification. A zero SubjectDate is treated as the fetch time.
type Payload struct {
	Data        []byte
	RecordCount int
	Complete    bool
	SubjectDate time.Time
}

// Stats is the caller-facing statistics snapshot.
//
//nolint:govet // Snapshot struct - logical grouping prioritized over alignment
type Stats struct {
	HitRate       float64 `json:"hitRate"`
	APICallsSaved int64   `json:"apiCallsSaved"`
	QueueDepth    int     `json:"queueDepth"`
	CircuitState  string  `json:"circuitState"`

	MemoryHits    int64 `json:"memoryHits"`
	DurableHits   int64 `json:"durableHits"`
	OriginCalls   int64 `json:"originCalls"`
	Misses        int64 `json:"misses"`
	StaleServes   int64 `json:"staleServes"`
	PartialHits   int64 `json:"partialHits"`
	WarmedKeys    int64 `json:"warmedKeys"`
	Invalidations int64 `json:"invalidations"`

	IsolatedSources []string `json:"isolatedSources,omitempty"`
}

// MemoryStats holds the memory tier's operation counters.
type MemoryStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Sets      int64 `json:"sets"`
	Deletes   int64 `json:"deletes"`
	Evictions int64 `json:"evictions"`
}

// StoreFilter selects records from the durable store.
type StoreFilter struct {
	ScopePrefix      string
	NextUpdateBefore time.Time
	Limit            int
}

func (f StoreFilter) String() string {
	return fmt.Sprintf("scope=%q before=%s limit=%d", f.ScopePrefix, f.NextUpdateBefore.Format(time.RFC3339), f.Limit)
}
