package types

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCacheMiss        = errors.New("stratacache: key not found")
	ErrStoreUnavailable = errors.New("stratacache: durable store unavailable")
	ErrCircuitOpen      = errors.New("stratacache: circuit breaker open")
	ErrQueueFull        = errors.New("stratacache: request queue full")
	ErrQueueTimeout     = errors.New("stratacache: queued call deadline exceeded")
	ErrDataIntegrity    = errors.New("stratacache: checksum mismatch")
	ErrSourceIsolated   = errors.New("stratacache: source isolated")
	ErrClosed           = errors.New("stratacache: manager closed")
	ErrInvalidKey       = errors.New("stratacache: invalid key")
	ErrShutdownTimeout  = errors.New("stratacache: shutdown timeout waiting for background operations")
)

// ErrorKind classifies an upstream origin failure. Only rate-limit, timeout
// and network kinds are retryable.
type ErrorKind int

const (
	KindRateLimit ErrorKind = iota + 1
	KindTimeout
	KindNetwork
	KindAuth
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindRateLimit:
		return "rate-limit"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network"
	case KindAuth:
		return "auth"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Retryable reports whether failures of this kind are worth retrying.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindTimeout, KindNetwork:
		return true
	default:
		return false
	}
}

// UpstreamError is a classified failure from the origin API. RetryAfter, when
// non-zero, is the origin's hint for when the next attempt may succeed.
type UpstreamError struct {
	Kind       ErrorKind
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %s error: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("upstream %s error", e.Kind)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewUpstreamError wraps err with an origin error classification.
func NewUpstreamError(kind ErrorKind, err error) *UpstreamError {
	return &UpstreamError{Kind: kind, Err: err}
}

// ResolveError is the typed failure returned to Resolve callers. Tier names
// the last tier attempted before giving up.
type ResolveError struct {
	Key        Key
	Tier       Tier
	Retryable  bool
	RetryAfter time.Duration
	Err        error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %s on %s tier: %v", e.Key, e.Tier, e.Err)
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

// StoreError is a durable-tier failure. The manager degrades the affected
// call to origin-only mode rather than failing it.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s [%s]: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}

func IsQueueFull(err error) bool {
	return errors.Is(err, ErrQueueFull)
}

func IsQueueTimeout(err error) bool {
	return errors.Is(err, ErrQueueTimeout)
}

func IsDataIntegrity(err error) bool {
	return errors.Is(err, ErrDataIntegrity)
}

func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se) || errors.Is(err, ErrStoreUnavailable)
}

// IsRetryable reports whether an error is transient and worth retrying
// against the same source.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Admission failures are decided, not transient: retrying immediately
	// would defeat the backpressure they exist to apply.
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrQueueFull) || errors.Is(err, ErrQueueTimeout) {
		return false
	}

	if errors.Is(err, ErrClosed) || errors.Is(err, ErrInvalidKey) || errors.Is(err, ErrSourceIsolated) {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Kind.Retryable()
	}

	// Unclassified errors (store hiccups, transport) default to retryable.
	return true
}

// RetryAfterHint extracts the origin's retry-after hint, if any.
func RetryAfterHint(err error) time.Duration {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.RetryAfter
	}
	return 0
}
