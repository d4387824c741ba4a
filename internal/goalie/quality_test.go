package goalie

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	samples := []FeedbackSample{
		{SignalID: "a", Predicted: true, Actual: true},
		{SignalID: "b", Predicted: true, Actual: true},
		{SignalID: "c", Predicted: true, Actual: false},
		{SignalID: "d", Predicted: false, Actual: true},
		{SignalID: "e", Predicted: false, Actual: false},
	}

	r := Evaluate(samples)
	assert.Equal(t, 5, r.Samples)
	assert.Equal(t, 2, r.TruePositives)
	assert.Equal(t, 1, r.FalsePositives)
	assert.Equal(t, 1, r.FalseNegatives)
	assert.Equal(t, 1, r.TrueNegatives)

	assert.InDelta(t, 0.6, r.Accuracy, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.Precision, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.Recall, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.F1, 1e-9)
}

func TestEvaluateDegenerateCases(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		r := Evaluate(nil)
		assert.Equal(t, 0, r.Samples)
		assert.Zero(t, r.Accuracy)
		assert.Zero(t, r.F1)
	})

	t.Run("no positive predictions", func(t *testing.T) {
		r := Evaluate([]FeedbackSample{{Predicted: false, Actual: true}})
		assert.Zero(t, r.Precision, "undefined precision reports as zero, not NaN")
		assert.Zero(t, r.Recall)
	})
}
