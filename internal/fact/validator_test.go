package fact

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

func ptr(v float64) *float64 { return &v }

func validatorRegistry(t *testing.T, backends ...*backend.Func) *backend.Registry {
	t.Helper()
	r := backend.NewRegistry()
	for _, b := range backends {
		require.NoError(t, r.Register(b))
	}
	return r
}

func passingLogic() *backend.Func {
	return &backend.Func{
		BackendID:   "logic",
		BackendRole: backend.RoleLogicValidator,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{Output: `{"contradiction": false}`}, nil
		},
	}
}

func arbiter(outcome string) *backend.Func {
	return &backend.Func{
		BackendID:   "arbiter",
		BackendRole: backend.RoleCriticalValidator,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{Output: `{"outcome": "` + outcome + `", "reason": "reviewed"}`}, nil
		},
	}
}

func figuresTask() *task.Task {
	return &task.Task{
		ID:       "task-1",
		Document: "Margin discussion.",
		Features: task.FeatureSet{
			RawFigures: map[string]float64{
				"gross_profit": 120,
				"revenue":      1200,
			},
		},
	}
}

func TestMathRecomputeRatio(t *testing.T) {
	v := New(validatorRegistry(t, arbiter("pass")), DefaultConfig())

	t.Run("reported figure disagrees with recomputation", func(t *testing.T) {
		sig := task.CandidateSignal{
			SignalID:      "gross_profit_over_revenue",
			Category:      task.CategoryFinancial,
			Value:         ptr(0.42),
			RawConfidence: 0.9,
		}
		verdicts, err := v.Validate(context.Background(), figuresTask(), []task.CandidateSignal{sig})
		require.NoError(t, err)

		require.NotEmpty(t, verdicts)
		math := verdicts[0]
		assert.Equal(t, task.LayerMath, math.Layer)
		assert.Equal(t, task.OutcomeFail, math.Outcome)
		assert.Contains(t, math.Detail, "reported 0.4200")
		assert.Contains(t, math.Detail, "recomputed 0.1000")
		require.NotNil(t, math.Expected)
		assert.InDelta(t, 0.10, *math.Expected, 1e-9)
	})

	t.Run("matching figure passes", func(t *testing.T) {
		sig := task.CandidateSignal{
			SignalID:      "gross_profit_over_revenue",
			Category:      task.CategoryFinancial,
			Value:         ptr(0.1005),
			RawConfidence: 0.9,
		}
		verdicts, err := v.Validate(context.Background(), figuresTask(), []task.CandidateSignal{sig})
		require.NoError(t, err)

		require.Len(t, verdicts, 1, "a passing high-confidence signal never reaches the arbiter")
		assert.Equal(t, task.OutcomePass, verdicts[0].Outcome)
		assert.Equal(t, 1.0, verdicts[0].Adjustment)
	})
}

func TestMathRecomputeFamilies(t *testing.T) {
	figures := map[string]float64{
		"revenue":       1200,
		"revenue_prior": 1000,
		"opex_sales":    50,
		"opex_rnd":      30,
	}

	tests := []struct {
		signalID string
		want     float64
		ok       bool
	}{
		{"revenue_delta", 200, true},
		{"opex_total", 80, true},
		{"revenue_over_opex_total", 0, false},
		{"unknown_metric", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.signalID, func(t *testing.T) {
			got, ok := recompute(tt.signalID, figures)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestMathNoFiguresFallsBackToChecker(t *testing.T) {
	t.Run("checker confirms", func(t *testing.T) {
		checker := &backend.Func{
			BackendID:   "math-check",
			BackendRole: backend.RoleMathValidator,
			Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				return &backend.Response{Output: `{"consistent": true}`}, nil
			},
		}
		v := New(validatorRegistry(t, checker), DefaultConfig())

		sig := task.CandidateSignal{
			SignalID: "unmapped", Category: task.CategoryFinancial,
			Value: ptr(5), RawConfidence: 0.9,
		}
		verdicts, err := v.Validate(context.Background(), &task.Task{Document: "text"}, []task.CandidateSignal{sig})
		require.NoError(t, err)
		assert.Equal(t, task.OutcomePass, verdicts[0].Outcome)
	})

	t.Run("no checker yields inconclusive", func(t *testing.T) {
		v := New(validatorRegistry(t, arbiter("pass")), DefaultConfig())

		sig := task.CandidateSignal{
			SignalID: "unmapped", Category: task.CategoryFinancial,
			Value: ptr(5), RawConfidence: 0.9,
		}
		verdicts, err := v.Validate(context.Background(), &task.Task{}, []task.CandidateSignal{sig})
		require.NoError(t, err)

		math := verdicts[0]
		assert.Equal(t, task.OutcomeInconclusive, math.Outcome)
		assert.Equal(t, DefaultConfig().InconclusivePenalty, math.Adjustment)

		// Inconclusive primary outcome triggers critical escalation.
		require.Len(t, verdicts, 2)
		assert.Equal(t, task.LayerCritical, verdicts[1].Layer)
	})
}

func TestLogicLayer(t *testing.T) {
	t.Run("contradiction fails", func(t *testing.T) {
		logic := &backend.Func{
			BackendID:   "logic",
			BackendRole: backend.RoleLogicValidator,
			Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				return &backend.Response{Output: `{"contradiction": true, "explanation": "tone conflicts with risk disclosure"}`}, nil
			},
		}
		v := New(validatorRegistry(t, logic, arbiter("fail")), DefaultConfig())

		sig := task.CandidateSignal{
			SignalID: "tone", Category: task.CategorySentiment,
			Text: "strongly optimistic", RawConfidence: 0.9,
		}
		verdicts, err := v.Validate(context.Background(), &task.Task{}, []task.CandidateSignal{sig})
		require.NoError(t, err)

		require.Len(t, verdicts, 2, "failed primary layer escalates to critical")
		assert.Equal(t, task.OutcomeFail, verdicts[0].Outcome)
		assert.Contains(t, verdicts[0].Detail, "tone conflicts")
		assert.Equal(t, task.LayerCritical, verdicts[1].Layer)
		assert.Equal(t, task.OutcomeFail, verdicts[1].Outcome)
	})

	t.Run("unreachable validator degrades to inconclusive", func(t *testing.T) {
		v := New(validatorRegistry(t, arbiter("pass")), DefaultConfig())

		sig := task.CandidateSignal{
			SignalID: "tone", Category: task.CategorySentiment,
			Text: "neutral", RawConfidence: 0.9,
		}
		verdicts, err := v.Validate(context.Background(), &task.Task{}, []task.CandidateSignal{sig})
		require.NoError(t, err)
		assert.Equal(t, task.OutcomeInconclusive, verdicts[0].Outcome)
		assert.Equal(t, "logic validator unavailable", verdicts[0].Detail)
	})
}

func TestCriticalEscalationPrecondition(t *testing.T) {
	calls := 0
	countingArbiter := &backend.Func{
		BackendID:   "arbiter",
		BackendRole: backend.RoleCriticalValidator,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			calls++
			return &backend.Response{Output: `{"outcome": "pass"}`}, nil
		},
	}
	v := New(validatorRegistry(t, passingLogic(), countingArbiter), DefaultConfig())

	highConf := task.CandidateSignal{SignalID: "a", Category: task.CategoryRisk, Text: "x", RawConfidence: 0.9}
	lowConf := task.CandidateSignal{SignalID: "b", Category: task.CategoryRisk, Text: "y", RawConfidence: 0.3}

	verdicts, err := v.Validate(context.Background(), &task.Task{}, []task.CandidateSignal{highConf, lowConf})
	require.NoError(t, err)

	assert.Equal(t, 1, calls, "only the low-confidence signal reaches the arbiter")

	perSignal := map[string]int{}
	for _, vd := range verdicts {
		perSignal[vd.SignalID]++
	}
	assert.Equal(t, 1, perSignal["a"])
	assert.Equal(t, 2, perSignal["b"])
}

func TestLayerOrdering(t *testing.T) {
	v := New(validatorRegistry(t, arbiter("inconclusive")), DefaultConfig())

	sig := task.CandidateSignal{
		SignalID:      "gross_profit_over_revenue",
		Category:      task.CategoryFinancial,
		Value:         ptr(0.42),
		RawConfidence: 0.9,
	}
	verdicts, err := v.Validate(context.Background(), figuresTask(), []task.CandidateSignal{sig})
	require.NoError(t, err)

	require.Len(t, verdicts, 2)
	assert.Equal(t, task.LayerMath, verdicts[0].Layer, "layers run strictly in order")
	assert.Equal(t, task.LayerCritical, verdicts[1].Layer)
	assert.Equal(t, task.OutcomeInconclusive, verdicts[1].Outcome)
}

func TestValidateCancellation(t *testing.T) {
	ctxAwareLogic := &backend.Func{
		BackendID:   "logic",
		BackendRole: backend.RoleLogicValidator,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return &backend.Response{Output: `{"contradiction": false}`}, nil
		},
	}
	v := New(validatorRegistry(t, ctxAwareLogic), DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sig := task.CandidateSignal{SignalID: "a", Category: task.CategorySentiment, Text: "x", RawConfidence: 0.9}
	verdicts, err := v.Validate(ctx, &task.Task{}, []task.CandidateSignal{sig})
	// A canceled context surfaces as degraded verdicts, not a hard error:
	// backend calls fail and degrade to inconclusive.
	require.NoError(t, err)
	for _, vd := range verdicts {
		assert.NotEqual(t, task.OutcomePass, vd.Outcome)
	}
}
