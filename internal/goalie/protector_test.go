package goalie

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/task"
)

func ptr(v float64) *float64 { return &v }

func TestConfidenceNeverInflates(t *testing.T) {
	p := New(DefaultConfig())
	rng := rand.New(rand.NewSource(7))

	tracks := []task.Track{task.TrackFast, task.TrackDeep, task.TrackEnsemble, task.TrackHybrid}

	for i := 0; i < 1000; i++ {
		track := tracks[rng.Intn(len(tracks))]
		raw := rng.Float64()
		agree := rng.Float64()

		sig := task.CandidateSignal{
			SignalID:      "s",
			Category:      task.CategorySentiment,
			Text:          "neutral",
			RawConfidence: raw,
			Agreement:     agree,
		}

		var verdicts []task.ValidationVerdict
		bound := raw
		for n := rng.Intn(6); n > 0; n-- {
			adj := 1 - rng.Float64() // (0, 1]
			verdicts = append(verdicts, task.ValidationVerdict{
				SignalID: "s", Layer: task.LayerLogic,
				Outcome: task.OutcomePass, Adjustment: adj,
			})
			bound *= adj
		}

		got := p.confidence(sig, verdicts, track)
		assert.LessOrEqual(t, got, raw, "confidence above raw input (iteration %d)", i)
		assert.LessOrEqual(t, got, bound+1e-12, "confidence above adjustment product bound (iteration %d)", i)
		assert.GreaterOrEqual(t, got, 0.0)
	}
}

func TestConfidenceFoldsAgreement(t *testing.T) {
	p := New(DefaultConfig())
	sig := task.CandidateSignal{SignalID: "s", RawConfidence: 0.8, Agreement: 0.6}

	assert.InDelta(t, 0.8, p.confidence(sig, nil, task.TrackFast), 1e-9,
		"single-backend tracks ignore agreement")
	assert.InDelta(t, 0.48, p.confidence(sig, nil, task.TrackEnsemble), 1e-9,
		"ensemble tracks multiply agreement in")
}

func TestProtectMathFailScenario(t *testing.T) {
	p := New(DefaultConfig())

	sig := task.CandidateSignal{
		SignalID:      "gross_margin",
		Category:      task.CategoryFinancial,
		Value:         ptr(0.42),
		RawConfidence: 0.9,
		Agreement:     1.0,
	}
	verdicts := []task.ValidationVerdict{
		{
			SignalID: "gross_margin", Layer: task.LayerMath,
			Outcome: task.OutcomeFail, Adjustment: 0.60,
			Detail: "reported 0.4200, recomputed 0.1000", Expected: ptr(0.10),
		},
		{
			SignalID: "gross_margin", Layer: task.LayerCritical,
			Outcome: task.OutcomeInconclusive, Adjustment: 0.85,
		},
	}

	finals, excluded := p.Protect([]task.CandidateSignal{sig}, verdicts, task.TrackFast)
	require.Len(t, finals, 1)
	assert.Empty(t, excluded)

	final := finals[0]
	assert.InDelta(t, 0.9*0.60*0.85, final.FinalConfidence, 1e-9)

	categories := map[task.RiskCategory]task.Severity{}
	for _, r := range final.RiskAssessments {
		categories[r.Category] = r.Severity
	}
	assert.Equal(t, task.SeverityHigh, categories[task.RiskMisstatement])
	assert.Equal(t, task.SeverityMedium, categories[task.RiskOverstatement], "reported above recomputed")

	// High severity shrinks the value toward the neutral baseline.
	require.NotNil(t, final.Value)
	assert.InDelta(t, 0.42-(0.42-0)*0.35, *final.Value, 1e-9)
}

func TestProtectExcludesCriticalFailures(t *testing.T) {
	p := New(DefaultConfig())

	sig := task.CandidateSignal{
		SignalID:      "phantom",
		Category:      task.CategoryFinancial,
		Value:         ptr(99),
		RawConfidence: 0.9,
		Agreement:     1.0,
	}
	verdicts := []task.ValidationVerdict{
		{SignalID: "phantom", Layer: task.LayerMath, Outcome: task.OutcomeFail, Adjustment: 0.60},
		{SignalID: "phantom", Layer: task.LayerCritical, Outcome: task.OutcomeFail, Adjustment: 0.60, Detail: "figure not present in document"},
	}

	finals, excluded := p.Protect([]task.CandidateSignal{sig}, verdicts, task.TrackFast)
	assert.Empty(t, finals)
	require.Len(t, excluded, 1)
	assert.Contains(t, excluded[0].Reason, "critical-layer fail")
	assert.Contains(t, excluded[0].Reason, "figure not present")
}

func TestProtectCriticalPassIsRetained(t *testing.T) {
	p := New(DefaultConfig())

	sig := task.CandidateSignal{
		SignalID:      "m",
		Category:      task.CategoryFinancial,
		Value:         ptr(5),
		RawConfidence: 0.9,
		Agreement:     1.0,
	}
	// Math failed but the arbiter overruled: no unresolved critical fail, so
	// the signal stays, with the fail still reflected in confidence.
	verdicts := []task.ValidationVerdict{
		{SignalID: "m", Layer: task.LayerMath, Outcome: task.OutcomeFail, Adjustment: 0.60},
		{SignalID: "m", Layer: task.LayerCritical, Outcome: task.OutcomePass, Adjustment: 1.0},
	}

	finals, excluded := p.Protect([]task.CandidateSignal{sig}, verdicts, task.TrackFast)
	assert.Empty(t, excluded)
	require.Len(t, finals, 1)
	assert.InDelta(t, 0.9*0.60, finals[0].FinalConfidence, 1e-9)
}

func TestProtectLowAgreement(t *testing.T) {
	p := New(DefaultConfig())

	sig := task.CandidateSignal{
		SignalID:      "tone",
		Category:      task.CategorySentiment,
		Text:          "optimistic",
		RawConfidence: 0.9,
		Agreement:     0.3,
	}

	t.Run("flagged on ensemble track", func(t *testing.T) {
		finals, _ := p.Protect([]task.CandidateSignal{sig}, nil, task.TrackEnsemble)
		require.Len(t, finals, 1)

		var found *task.RiskAssessment
		for i, r := range finals[0].RiskAssessments {
			if r.Category == task.RiskHallucinationSuspect {
				found = &finals[0].RiskAssessments[i]
			}
		}
		require.NotNil(t, found)
		assert.Equal(t, task.SeverityHigh, found.Severity, "shortfall of 0.3 scales to high")
	})

	t.Run("not flagged on single-backend track", func(t *testing.T) {
		finals, _ := p.Protect([]task.CandidateSignal{sig}, nil, task.TrackFast)
		require.Len(t, finals, 1)
		assert.Empty(t, finals[0].RiskAssessments)
	})
}

func TestProtectLegalTerms(t *testing.T) {
	p := New(DefaultConfig())

	sig := task.CandidateSignal{
		SignalID:      "disclosure",
		Category:      task.CategoryRisk,
		Text:          "The company received a subpoena related to revenue recognition.",
		RawConfidence: 0.8,
		Agreement:     1.0,
	}

	finals, _ := p.Protect([]task.CandidateSignal{sig}, nil, task.TrackFast)
	require.Len(t, finals, 1)
	require.Len(t, finals[0].RiskAssessments, 1)
	assert.Equal(t, task.RiskLegalRegulatory, finals[0].RiskAssessments[0].Category)
	assert.Contains(t, finals[0].RiskAssessments[0].Reason, "subpoena")
}

func TestShrinkageProportionalToSeverity(t *testing.T) {
	p := New(DefaultConfig())

	mk := func() task.CandidateSignal {
		return task.CandidateSignal{
			SignalID: "v", Category: task.CategoryFinancial,
			Value: ptr(100), RawConfidence: 0.9, Agreement: 1.0,
		}
	}

	t.Run("medium severity leaves the value alone", func(t *testing.T) {
		verdicts := []task.ValidationVerdict{{
			SignalID: "v", Layer: task.LayerLogic, Outcome: task.OutcomeFail, Adjustment: 0.60,
		}}
		finals, _ := p.Protect([]task.CandidateSignal{mk()}, verdicts, task.TrackFast)
		require.Len(t, finals, 1)
		assert.Equal(t, float64(100), *finals[0].Value)
	})

	t.Run("high severity shrinks toward baseline", func(t *testing.T) {
		verdicts := []task.ValidationVerdict{{
			SignalID: "v", Layer: task.LayerMath, Outcome: task.OutcomeFail, Adjustment: 0.60,
		}}
		finals, _ := p.Protect([]task.CandidateSignal{mk()}, verdicts, task.TrackFast)
		require.Len(t, finals, 1)
		assert.InDelta(t, 65, *finals[0].Value, 1e-9)
	})
}
