package route

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/task"
)

func TestRouteDecision(t *testing.T) {
	r := New()

	tests := []struct {
		name        string
		complexity  float64
		materiality bool
		want        task.Track
	}{
		{"low complexity", 0.10, false, task.TrackFast},
		{"just below low threshold", 0.349, false, task.TrackFast},
		{"at low threshold", 0.35, false, task.TrackHybrid},
		{"middle band", 0.55, false, task.TrackHybrid},
		{"at high threshold", 0.75, false, task.TrackDeep},
		{"high complexity", 0.95, false, task.TrackDeep},
		{"materiality beats low complexity", 0.05, true, task.TrackEnsemble},
		{"materiality beats high complexity", 0.95, true, task.TrackEnsemble},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(task.ClassificationResult{
				ComplexityScore: tt.complexity,
				MaterialityFlag: tt.materiality,
			})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := New()
	cls := task.ClassificationResult{ComplexityScore: 0.42}
	first := r.Route(cls)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Route(cls))
	}
}

func TestRouteCache(t *testing.T) {
	r := New(WithCache(NewLRUCache(16, time.Minute)))

	cls := task.ClassificationResult{ComplexityScore: 0.9, FeatureDigest: "digest-1"}
	track := r.Route(cls)
	require.Equal(t, task.TrackDeep, track)

	cached, ok := r.Lookup("digest-1")
	require.True(t, ok)
	assert.Equal(t, track, cached)

	_, ok = r.Lookup("digest-2")
	assert.False(t, ok)

	stats := r.Stats()
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.CacheMisses)
	assert.Equal(t, int64(2), stats.TotalDecisions)
}

func TestRouteFallbackNotCached(t *testing.T) {
	r := New(WithCache(NewLRUCache(16, time.Minute)))

	conservative := task.ClassificationResult{
		ComplexityScore: 1.0,
		MaterialityFlag: true,
		FeatureDigest:   "digest-1",
		Fallback:        true,
	}
	require.Equal(t, task.TrackEnsemble, r.Route(conservative))

	_, ok := r.Lookup("digest-1")
	assert.False(t, ok, "a transient classifier outage must not pin the digest")

	// A real classification for the same digest is memoized as usual.
	r.Route(task.ClassificationResult{ComplexityScore: 0.1, FeatureDigest: "digest-1"})
	cached, ok := r.Lookup("digest-1")
	require.True(t, ok)
	assert.Equal(t, task.TrackFast, cached)
}

func TestStatsWithoutCache(t *testing.T) {
	r := New()
	r.Route(task.ClassificationResult{ComplexityScore: 0.1})
	r.Route(task.ClassificationResult{ComplexityScore: 0.9})

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.TotalDecisions)
	assert.Zero(t, stats.CacheMisses, "no cache configured means nothing to miss")
	assert.Zero(t, stats.CacheHits)
}

func TestRouteCacheExpiry(t *testing.T) {
	r := New(WithCache(NewLRUCache(16, 10*time.Millisecond)))

	r.Route(task.ClassificationResult{ComplexityScore: 0.1, FeatureDigest: "d"})
	time.Sleep(30 * time.Millisecond)

	_, ok := r.Lookup("d")
	assert.False(t, ok, "expired entries must miss")
}

func TestRouteCustomThresholds(t *testing.T) {
	r := New(WithThresholds(0.2, 0.5))

	assert.Equal(t, task.TrackFast, r.Route(task.ClassificationResult{ComplexityScore: 0.15}))
	assert.Equal(t, task.TrackHybrid, r.Route(task.ClassificationResult{ComplexityScore: 0.35}))
	assert.Equal(t, task.TrackDeep, r.Route(task.ClassificationResult{ComplexityScore: 0.6}))
}

func TestStatsDistribution(t *testing.T) {
	r := New()
	r.Route(task.ClassificationResult{ComplexityScore: 0.1})
	r.Route(task.ClassificationResult{ComplexityScore: 0.1})
	r.Route(task.ClassificationResult{MaterialityFlag: true})

	stats := r.Stats()
	assert.Equal(t, int64(2), stats.TrackDistribution[task.TrackFast])
	assert.Equal(t, int64(1), stats.TrackDistribution[task.TrackEnsemble])
}
