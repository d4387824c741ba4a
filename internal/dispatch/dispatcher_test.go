package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/bus"
	"github.com/normanking/verity/internal/task"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FastTimeout = time.Second
	cfg.DeepTimeout = time.Second
	cfg.EnsembleTimeout = time.Second
	return cfg
}

func executorOutput(t *testing.T, signals ...executorSignal) string {
	t.Helper()
	raw, err := json.Marshal(signals)
	require.NoError(t, err)
	return string(raw)
}

func numSignal(id string, value, confidence float64) executorSignal {
	return executorSignal{ID: id, Category: "financial", Value: &value, Confidence: confidence}
}

func sampleTask() *task.Task {
	return &task.Task{ID: "task-1", Document: "Margin was 40% on revenue of $1,200."}
}

func TestSingleTrack(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "fast",
		BackendRole: backend.RoleFastExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{
				Output: executorOutput(t, numSignal("gross_margin", 0.40, 0.8)),
			}, nil
		},
	}))

	d := New(reg, testConfig())
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackFast)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	assert.Equal(t, "gross_margin", signals[0].SignalID)
	assert.Equal(t, 0.40, *signals[0].Value)
	assert.Equal(t, 0.8, signals[0].RawConfidence)
	assert.Equal(t, 1.0, signals[0].Agreement, "single-backend tracks always report full agreement")
	assert.Equal(t, "fast", signals[0].SourceBackendID)
}

func TestSingleTrackRetriesTimeout(t *testing.T) {
	calls := 0
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "deep",
		BackendRole: backend.RoleDeepExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			calls++
			if calls == 1 {
				return nil, backend.ErrBackendTimeout
			}
			return &backend.Response{Output: executorOutput(t, numSignal("s", 1, 0.9))}, nil
		},
	}))

	d := New(reg, testConfig())
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackDeep)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Len(t, signals, 1)
}

func TestSingleTrackDoubleTimeout(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "deep",
		BackendRole: backend.RoleDeepExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return nil, backend.ErrBackendTimeout
		},
	}))

	d := New(reg, testConfig())
	_, err := d.Execute(context.Background(), sampleTask(), task.TrackDeep)
	assert.ErrorIs(t, err, ErrExecutionTimeout)
}

func ensembleMember(t *testing.T, id string, value float64, delay time.Duration) *backend.Func {
	t.Helper()
	return &backend.Func{
		BackendID:   id,
		BackendRole: backend.RoleEnsembleMember,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return &backend.Response{
				Output: executorOutput(t, numSignal("revenue_delta", value, 0.9)),
			}, nil
		},
	}
}

func TestEnsembleQuorumJoin(t *testing.T) {
	reg := backend.NewRegistry()
	// Three fast members agree; two slow ones never finish before quorum.
	require.NoError(t, reg.Register(ensembleMember(t, "a", 0.100, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "b", 0.102, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "c", 0.105, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "d", 0.500, 10*time.Second)))
	require.NoError(t, reg.Register(ensembleMember(t, "e", 0.900, 10*time.Second)))

	d := New(reg, testConfig())
	start := time.Now()
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackEnsemble)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, 0.102, *sig.Value, "median of the quorum answers")
	assert.InDelta(t, 1.0, sig.Agreement, 1e-9, "all quorum answers within tolerance of the median")
	assert.Len(t, sig.Sources, 3, "stragglers are discarded, not awaited")
}

func TestEnsembleInsufficientMembers(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(ensembleMember(t, "a", 0.1, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "b", 0.1, 0)))

	d := New(reg, testConfig())
	_, err := d.Execute(context.Background(), sampleTask(), task.TrackEnsemble)
	assert.ErrorIs(t, err, ErrQuorumNotReached)
}

func TestEnsembleTooManyFailures(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(ensembleMember(t, "a", 0.1, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "b", 0.1, 0)))
	for _, id := range []string{"c", "d", "e"} {
		require.NoError(t, reg.Register(&backend.Func{
			BackendID:   id,
			BackendRole: backend.RoleEnsembleMember,
			Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				return nil, backend.ErrBackendUnavailable
			},
		}))
	}

	d := New(reg, testConfig())
	_, err := d.Execute(context.Background(), sampleTask(), task.TrackEnsemble)
	assert.ErrorIs(t, err, ErrQuorumNotReached)
}

func TestEnsembleDisagreement(t *testing.T) {
	cfg := testConfig()
	cfg.Quorum = 3
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(ensembleMember(t, "a", 0.10, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "b", 0.10, 0)))
	require.NoError(t, reg.Register(ensembleMember(t, "c", 0.90, 0)))

	d := New(reg, cfg)
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackEnsemble)
	require.NoError(t, err)
	require.Len(t, signals, 1)

	assert.Equal(t, 0.10, *signals[0].Value)
	assert.InDelta(t, 2.0/3.0, signals[0].Agreement, 1e-9)
}

func TestHybridDeepSupersedes(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "fast",
		BackendRole: backend.RoleFastExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{Output: executorOutput(t,
				numSignal("revenue", 10, 0.9),
				numSignal("fast_only", 3, 0.7),
			)}, nil
		},
	}))
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "deep",
		BackendRole: backend.RoleDeepExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			assert.Contains(t, req.Context, "revenue", "deep backend sees the fast draft")
			return &backend.Response{Output: executorOutput(t, numSignal("revenue", 12, 0.8))}, nil
		},
	}))

	d := New(reg, testConfig())
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackHybrid)
	require.NoError(t, err)
	require.Len(t, signals, 2)

	bySignal := map[string]task.CandidateSignal{}
	for _, s := range signals {
		bySignal[s.SignalID] = s
	}

	revenue := bySignal["revenue"]
	assert.Equal(t, float64(12), *revenue.Value, "deep output supersedes the fast draft")
	assert.Equal(t, "deep", revenue.SourceBackendID)
	assert.Equal(t, 0.8, revenue.RawConfidence, "confidence is the minimum across both passes")
	assert.Equal(t, 0.5, revenue.Agreement, "fast and deep disagree beyond tolerance")
	assert.Len(t, revenue.Sources, 2)

	fastOnly := bySignal["fast_only"]
	assert.Equal(t, float64(3), *fastOnly.Value, "signals only the fast pass reported survive")
	assert.Equal(t, "fast", fastOnly.SourceBackendID)
}

func TestHybridFastFailureIsAdvisory(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "fast",
		BackendRole: backend.RoleFastExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return nil, backend.ErrBackendUnavailable
		},
	}))
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "deep",
		BackendRole: backend.RoleDeepExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			assert.Empty(t, req.Context)
			return &backend.Response{Output: executorOutput(t, numSignal("s", 1, 0.9))}, nil
		},
	}))

	d := New(reg, testConfig())
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackHybrid)
	require.NoError(t, err)
	assert.Len(t, signals, 1)
}

func TestHybridFastUnparseableIsAdvisory(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "fast",
		BackendRole: backend.RoleFastExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{Output: "not a signal list"}, nil
		},
	}))
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "deep",
		BackendRole: backend.RoleDeepExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			assert.Empty(t, req.Context, "an unparseable fast pass contributes no draft")
			return &backend.Response{Output: executorOutput(t, numSignal("s", 1, 0.9))}, nil
		},
	}))

	d := New(reg, testConfig())
	signals, err := d.Execute(context.Background(), sampleTask(), task.TrackHybrid)
	require.NoError(t, err)
	require.Len(t, signals, 1)
	assert.Equal(t, "deep", signals[0].SourceBackendID)
	assert.Len(t, signals[0].Sources, 1)
}

func TestBackendCallEvents(t *testing.T) {
	eventBus := bus.New()
	defer eventBus.Close()

	events := make(chan bus.Event, 8)
	eventBus.Subscribe(bus.EventBackendCall, func(e bus.Event) { events <- e })

	calls := 0
	reg := backend.NewRegistry()
	require.NoError(t, reg.Register(&backend.Func{
		BackendID:   "fast",
		BackendRole: backend.RoleFastExecutor,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			calls++
			if calls == 1 {
				return nil, backend.ErrBackendUnavailable
			}
			return &backend.Response{Output: executorOutput(t, numSignal("s", 1, 0.9))}, nil
		},
	}))

	d := New(reg, testConfig(), WithBus(eventBus))
	_, err := d.Execute(context.Background(), sampleTask(), task.TrackFast)
	require.NoError(t, err)

	got := make([]bus.Event, 0, 2)
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case e := <-events:
			got = append(got, e)
		case <-deadline:
			t.Fatalf("expected 2 backend_call events, got %d", len(got))
		}
	}

	assert.Equal(t, "fast", got[0].BackendID)
	assert.Contains(t, got[0].Error, "backend unavailable")
	assert.Equal(t, "fast", got[1].BackendID)
	assert.Empty(t, got[1].Error)
	assert.NotEmpty(t, got[1].ID)
}

func TestParseOpinions(t *testing.T) {
	t.Run("confidence falls back to response level", func(t *testing.T) {
		resp := &backend.Response{
			Output:        `[{"id": "s1", "category": "weird", "text": "cautious tone"}]`,
			RawConfidence: 0.65,
		}
		ops, err := parseOpinions("b", resp)
		require.NoError(t, err)
		require.Len(t, ops, 1)
		assert.Equal(t, 0.65, ops[0].Opinion.RawConfidence)
		assert.Equal(t, task.CategoryRisk, ops[0].Category, "unknown categories default to risk")
	})

	t.Run("missing id gets generated", func(t *testing.T) {
		resp := &backend.Response{Output: `[{"category": "sentiment", "text": "upbeat", "confidence": 0.7}]`}
		ops, err := parseOpinions("b", resp)
		require.NoError(t, err)
		assert.NotEmpty(t, ops[0].SignalID)
	})

	t.Run("chatty output", func(t *testing.T) {
		resp := &backend.Response{Output: "Here are the signals: [] done"}
		ops, err := parseOpinions("b", resp)
		require.NoError(t, err)
		assert.Empty(t, ops)
	})

	t.Run("garbage output errors", func(t *testing.T) {
		resp := &backend.Response{Output: "no signals today"}
		_, err := parseOpinions("b", resp)
		assert.Error(t, err)
	})
}

func TestMedian(t *testing.T) {
	tests := []struct {
		values []float64
		want   float64
	}{
		{[]float64{3}, 3},
		{[]float64{1, 9}, 5},
		{[]float64{9, 1, 5}, 5},
		{[]float64{4, 1, 3, 2}, 2.5},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, median(tt.values), fmt.Sprintf("median(%v)", tt.values))
	}
}
