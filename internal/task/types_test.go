package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFeatureSetDigest(t *testing.T) {
	base := FeatureSet{
		Length:         12000,
		Sections:       map[string]bool{"md&a": true, "notes": true},
		NumericDensity: 0.31,
		PriorDeltas:    map[string]float64{"revenue": 0.05},
		RawFigures:     map[string]float64{"revenue": 1200, "cogs": 800},
	}

	t.Run("stable across calls", func(t *testing.T) {
		assert.Equal(t, base.Digest(), base.Digest())
	})

	t.Run("independent of map iteration order", func(t *testing.T) {
		other := FeatureSet{
			Length:         12000,
			Sections:       map[string]bool{"notes": true, "md&a": true},
			NumericDensity: 0.31,
			PriorDeltas:    map[string]float64{"revenue": 0.05},
			RawFigures:     map[string]float64{"cogs": 800, "revenue": 1200},
		}
		assert.Equal(t, base.Digest(), other.Digest())
	})

	t.Run("changes with any feature", func(t *testing.T) {
		changed := base
		changed.NumericDensity = 0.32
		assert.NotEqual(t, base.Digest(), changed.Digest())

		changed = base
		changed.Length = 12001
		assert.NotEqual(t, base.Digest(), changed.Digest())
	})
}

func TestTrackString(t *testing.T) {
	tests := []struct {
		track Track
		want  string
	}{
		{TrackFast, "fast"},
		{TrackDeep, "deep"},
		{TrackEnsemble, "ensemble"},
		{TrackHybrid, "hybrid"},
		{Track(99), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.track.String())
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical > SeverityHigh)
	assert.True(t, SeverityHigh > SeverityMedium)
	assert.True(t, SeverityMedium > SeverityLow)
	assert.True(t, SeverityLow > SeverityInfo)
	assert.Equal(t, "critical", SeverityCritical.String())
}
