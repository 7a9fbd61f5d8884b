package types

// ResolveOptions controls a single Resolve call.
type ResolveOptions struct {
	// ForceRefresh bypasses both read tiers and fetches from the origin.
	// Concurrent forced refreshes for the same key are still deduplicated.
	ForceRefresh bool

	// RequireComplete rejects partial records (Complete=false) as misses
	// instead of returning them flagged.
	RequireComplete bool

	// AllowStale permits a stale durable-tier copy to satisfy the call when
	// the origin is unreachable. Defaults to the configured fallback policy.
	AllowStale bool

	// Priority is the admission priority for any origin call this resolve
	// issues. Zero means the configured default.
	Priority Priority
}

// ResolveOption is a functional option for Resolve.
type ResolveOption func(*ResolveOptions)

// WithForceRefresh bypasses the read path and refreshes from the origin.
func WithForceRefresh() ResolveOption {
	return func(o *ResolveOptions) { o.ForceRefresh = true }
}

// WithRequireComplete treats partial records as misses.
func WithRequireComplete() ResolveOption {
	return func(o *ResolveOptions) { o.RequireComplete = true }
}

// WithPriority sets the origin admission priority for this call.
func WithPriority(p Priority) ResolveOption {
	return func(o *ResolveOptions) { o.Priority = p }
}

// WithoutStaleFallback disables serving a stale durable copy on origin
// failure for this call.
func WithoutStaleFallback() ResolveOption {
	return func(o *ResolveOptions) { o.AllowStale = false }
}

// ApplyResolveOptions folds options over the given defaults.
func ApplyResolveOptions(defaults ResolveOptions, opts ...ResolveOption) *ResolveOptions {
	options := defaults
	for _, opt := range opts {
		opt(&options)
	}
	if options.Priority == 0 {
		options.Priority = PriorityNormal
	}
	return &options
}
