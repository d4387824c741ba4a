// Package route implements track selection: a pure, deterministic mapping
// from a classification result to one of the four execution tracks, with
// TTL-bounded decision caching keyed by feature digest.
package route

import (
	"sync"

	"github.com/normanking/verity/internal/task"
)

// Default decision thresholds. Both are tunable configuration; these values
// keep the fast track the majority path.
const (
	DefaultLowThreshold  = 0.35
	DefaultHighThreshold = 0.75
)

// Router selects execution tracks for classified tasks.
type Router struct {
	lowThreshold  float64
	highThreshold float64
	cache         Cache

	// Statistics (thread-safe)
	mu    sync.RWMutex
	stats Stats
}

// Stats holds routing statistics.
type Stats struct {
	TotalDecisions    int64
	CacheHits         int64
	CacheMisses       int64
	TrackDistribution map[task.Track]int64
}

// Option is a functional option for configuring Router.
type Option func(*Router)

// WithThresholds sets custom complexity thresholds.
func WithThresholds(low, high float64) Option {
	return func(r *Router) {
		r.lowThreshold = low
		r.highThreshold = high
	}
}

// WithCache sets the routing-decision cache. Without one, every call routes
// from scratch (still deterministic, just never memoized).
func WithCache(c Cache) Option {
	return func(r *Router) {
		r.cache = c
	}
}

// New creates a Router.
func New(opts ...Option) *Router {
	r := &Router{
		lowThreshold:  DefaultLowThreshold,
		highThreshold: DefaultHighThreshold,
		stats: Stats{
			TrackDistribution: make(map[task.Track]int64),
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route maps a classification result to a track. Pure decision logic: no
// I/O, deterministic for a given result. The policy, in priority order:
//
//  1. Material tasks always take the ensemble track, regardless of
//     complexity. Highest assurance for the smallest fraction of tasks.
//  2. Non-material, low-complexity tasks take the fast track.
//  3. High-complexity tasks take the deep track.
//  4. The middle band takes the hybrid track.
func (r *Router) Route(cls task.ClassificationResult) task.Track {
	track := r.decide(cls)

	// Fallback classifications are never memoized: a transient classifier
	// outage must not pin a digest to the conservative track for a full TTL.
	if r.cache != nil && cls.FeatureDigest != "" && !cls.Fallback {
		r.cache.Set(cls.FeatureDigest, track)
	}

	r.mu.Lock()
	r.stats.TotalDecisions++
	if r.cache != nil {
		r.stats.CacheMisses++
	}
	r.stats.TrackDistribution[track]++
	r.mu.Unlock()

	return track
}

// decide is the pure decision function.
func (r *Router) decide(cls task.ClassificationResult) task.Track {
	switch {
	case cls.MaterialityFlag:
		return task.TrackEnsemble
	case cls.ComplexityScore < r.lowThreshold:
		return task.TrackFast
	case cls.ComplexityScore >= r.highThreshold:
		return task.TrackDeep
	default:
		return task.TrackHybrid
	}
}

// Lookup checks the decision cache for a feature digest. On a hit the
// orchestrator skips re-invoking the classifier entirely, which is the whole
// point of the cache for near-duplicate tasks such as re-analysis requests.
func (r *Router) Lookup(digest string) (task.Track, bool) {
	if r.cache == nil || digest == "" {
		return 0, false
	}

	track, ok := r.cache.Get(digest)
	if ok {
		r.mu.Lock()
		r.stats.TotalDecisions++
		r.stats.CacheHits++
		r.stats.TrackDistribution[track]++
		r.mu.Unlock()
	}
	return track, ok
}

// Stats returns a copy of the current routing statistics.
func (r *Router) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dist := make(map[task.Track]int64, len(r.stats.TrackDistribution))
	for k, v := range r.stats.TrackDistribution {
		dist[k] = v
	}
	return Stats{
		TotalDecisions:    r.stats.TotalDecisions,
		CacheHits:         r.stats.CacheHits,
		CacheMisses:       r.stats.CacheMisses,
		TrackDistribution: dist,
	}
}
