package pipeline

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/bus"
	"github.com/normanking/verity/internal/classify"
	"github.com/normanking/verity/internal/dispatch"
	"github.com/normanking/verity/internal/escalate"
	"github.com/normanking/verity/internal/fact"
	"github.com/normanking/verity/internal/goalie"
	"github.com/normanking/verity/internal/route"
	"github.com/normanking/verity/internal/task"
)

// env wires an orchestrator over an in-memory registry so full runs need
// no network, no disk, and no real backends.
type env struct {
	reg   *backend.Registry
	bus   *bus.Bus
	queue *escalate.MemoryQueue
	orch  *Orchestrator
}

func newEnv(t *testing.T, backends ...*backend.Func) *env {
	t.Helper()

	reg := backend.NewRegistry()
	for _, b := range backends {
		require.NoError(t, reg.Register(b))
	}

	dcfg := dispatch.DefaultConfig()
	dcfg.FastTimeout = time.Second
	dcfg.DeepTimeout = time.Second
	dcfg.EnsembleTimeout = time.Second

	e := &env{
		reg:   reg,
		bus:   bus.New(),
		queue: escalate.NewMemoryQueue(8),
	}
	e.orch = New(Options{
		Classifier: classify.New(reg, time.Second),
		Router:     route.New(route.WithCache(route.NewLRUCache(16, time.Minute))),
		Dispatcher: dispatch.New(reg, dcfg, dispatch.WithBus(e.bus)),
		Validator:  fact.New(reg, fact.DefaultConfig()),
		Protector:  goalie.New(goalie.DefaultConfig()),
		Bus:        e.bus,
		Queue:      e.queue,
	})
	t.Cleanup(func() { _ = e.bus.Close() })
	return e
}

func classifier(output string) *backend.Func {
	return &backend.Func{
		BackendID:   "clf",
		BackendRole: backend.RoleClassifier,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{Output: output}, nil
		},
	}
}

func executor(id string, role backend.Role, signalsJSON string) *backend.Func {
	return &backend.Func{
		BackendID:   id,
		BackendRole: role,
		Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
			return &backend.Response{Output: signalsJSON}, nil
		},
	}
}

func logicPass() *backend.Func {
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

func marginTask() *task.Task {
	return &task.Task{
		Document: "Gross profit was $120 on revenue of $1,200.",
		Features: task.FeatureSet{
			Length:         44,
			NumericDensity: 0.25,
			RawFigures: map[string]float64{
				"gross_profit": 120,
				"revenue":      1200,
			},
		},
	}
}

func stages(res *task.PipelineResult) []string {
	var out []string
	for _, e := range res.DecisionLog {
		out = append(out, e.Stage)
	}
	return out
}

func TestRunFastTrack(t *testing.T) {
	e := newEnv(t,
		classifier(`{"complexity": 0.1, "materiality": false}`),
		executor("fast", backend.RoleFastExecutor,
			`[{"id": "gross_profit_over_revenue", "category": "financial", "value": 0.10, "confidence": 0.9}]`),
		logicPass(),
	)

	completed, wait := collectEvents(e.bus, bus.EventTaskCompleted)
	defer completed()

	res, err := e.orch.Run(context.Background(), marginTask())
	require.NoError(t, err)

	assert.Equal(t, task.TrackFast, res.TrackUsed)
	assert.Equal(t, "fast", res.TrackName)
	assert.NotEmpty(t, res.TaskID, "empty task id is assigned")
	assert.Empty(t, res.Warnings)
	assert.Empty(t, res.Excluded)
	assert.Zero(t, e.queue.Len())

	require.Len(t, res.FinalSignals, 1)
	final := res.FinalSignals[0]
	assert.Equal(t, "gross_profit_over_revenue", final.SignalID)
	assert.InDelta(t, 0.9, final.FinalConfidence, 1e-9, "passing verdicts leave confidence untouched")
	assert.Empty(t, final.RiskAssessments)

	assert.Subset(t, []string{"classify", "route", "execute", "validate", "protect"}, stages(res))
	assert.Contains(t, stages(res), "classify")
	assert.Contains(t, stages(res), "protect")

	events := wait(1)
	require.Len(t, events, 1)
	assert.Equal(t, res.TaskID, events[0].TaskID)
	assert.Equal(t, "fast", events[0].Track)
	assert.Equal(t, 1, events[0].SignalCount)
}

func TestRunClassifierFallback(t *testing.T) {
	member := `[{"id": "revenue_note", "category": "financial", "text": "revenue grew", "confidence": 0.85}]`
	e := newEnv(t,
		&backend.Func{
			BackendID:   "clf",
			BackendRole: backend.RoleClassifier,
			Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				return nil, backend.ErrBackendUnavailable
			},
		},
		executor("m1", backend.RoleEnsembleMember, member),
		executor("m2", backend.RoleEnsembleMember, member),
		executor("m3", backend.RoleEnsembleMember, member),
		logicPass(),
	)

	res, err := e.orch.Run(context.Background(), marginTask())
	require.NoError(t, err)

	assert.Equal(t, task.TrackEnsemble, res.TrackUsed, "conservative fallback takes the highest-assurance track")
	assert.Contains(t, res.Warnings, "classifier unavailable, conservative ensemble routing used")
	require.Len(t, res.FinalSignals, 1)
	assert.Equal(t, "revenue_note", res.FinalSignals[0].SignalID)
}

func TestRunQuorumFailureEscalates(t *testing.T) {
	member := `[{"id": "s", "category": "financial", "value": 1, "confidence": 0.9}]`
	e := newEnv(t,
		classifier(`{"complexity": 0.9, "materiality": true}`),
		executor("m1", backend.RoleEnsembleMember, member),
		executor("m2", backend.RoleEnsembleMember, member),
	)

	escalated, wait := collectEvents(e.bus, bus.EventTaskEscalated)
	defer escalated()

	tk := marginTask()
	tk.ID = "task-quorum"
	_, err := e.orch.Run(context.Background(), tk)
	require.Error(t, err)
	assert.ErrorIs(t, err, dispatch.ErrQuorumNotReached)
	assert.Contains(t, err.Error(), "failed during execute")

	entries := e.queue.Drain()
	require.Len(t, entries, 1)
	assert.Equal(t, "task-quorum", entries[0].TaskID)
	assert.Contains(t, entries[0].Reason, "execution on ensemble track failed")

	events := wait(1)
	require.Len(t, events, 1)
	assert.Equal(t, "task-quorum", events[0].TaskID)
}

func TestRunPublishesBackendCalls(t *testing.T) {
	e := newEnv(t,
		classifier(`{"complexity": 0.1, "materiality": false}`),
		executor("fast", backend.RoleFastExecutor,
			`[{"id": "gross_profit_over_revenue", "category": "financial", "value": 0.10, "confidence": 0.9}]`),
		logicPass(),
	)

	stop, wait := collectEvents(e.bus, bus.EventBackendCall)
	defer stop()

	_, err := e.orch.Run(context.Background(), marginTask())
	require.NoError(t, err)

	events := wait(1)
	require.NotEmpty(t, events, "dispatch calls surface as backend_call events")
	assert.Equal(t, "fast", events[0].BackendID)
	assert.Empty(t, events[0].Error)
}

func TestRunBackendExhaustionEscalates(t *testing.T) {
	t.Run("backend unavailable after retry", func(t *testing.T) {
		e := newEnv(t,
			classifier(`{"complexity": 0.1, "materiality": false}`),
			&backend.Func{
				BackendID:   "fast",
				BackendRole: backend.RoleFastExecutor,
				Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
					return nil, backend.ErrBackendUnavailable
				},
			},
		)

		tk := marginTask()
		tk.ID = "task-unavailable"
		_, err := e.orch.Run(context.Background(), tk)
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrBackendUnavailable)

		entries := e.queue.Drain()
		require.Len(t, entries, 1)
		assert.Equal(t, "task-unavailable", entries[0].TaskID)
		assert.Contains(t, entries[0].Reason, "execution on fast track failed")
	})

	t.Run("no backend registered for track", func(t *testing.T) {
		e := newEnv(t,
			classifier(`{"complexity": 0.1, "materiality": false}`),
		)

		_, err := e.orch.Run(context.Background(), marginTask())
		require.Error(t, err)
		assert.ErrorIs(t, err, backend.ErrNoBackend)

		entries := e.queue.Drain()
		require.Len(t, entries, 1)
		assert.Contains(t, entries[0].Reason, "execution on fast track failed")
	})
}

func TestRunCriticalExclusion(t *testing.T) {
	e := newEnv(t,
		classifier(`{"complexity": 0.1, "materiality": false}`),
		executor("fast", backend.RoleFastExecutor,
			`[{"id": "gross_profit_over_revenue", "category": "financial", "value": 0.42, "confidence": 0.9}]`),
		logicPass(),
		arbiter("fail"),
	)

	res, err := e.orch.Run(context.Background(), marginTask())
	require.NoError(t, err, "exclusion is a result, not a pipeline failure")

	assert.Empty(t, res.FinalSignals)
	require.Len(t, res.Excluded, 1)
	assert.Equal(t, "gross_profit_over_revenue", res.Excluded[0].Signal.SignalID)
	assert.NotEmpty(t, res.Excluded[0].Reason)

	entries := e.queue.Drain()
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Reason, "1 signals excluded by protection")
	require.Len(t, entries[0].Signals, 1)
	assert.Equal(t, "gross_profit_over_revenue", entries[0].Signals[0].SignalID)
}

func TestRunRoutingCacheHit(t *testing.T) {
	var calls atomic.Int64
	e := newEnv(t,
		&backend.Func{
			BackendID:   "clf",
			BackendRole: backend.RoleClassifier,
			Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				calls.Add(1)
				return &backend.Response{Output: `{"complexity": 0.1, "materiality": false}`}, nil
			},
		},
		executor("fast", backend.RoleFastExecutor,
			`[{"id": "gross_profit_over_revenue", "category": "financial", "value": 0.10, "confidence": 0.9}]`),
		logicPass(),
	)

	_, err := e.orch.Run(context.Background(), marginTask())
	require.NoError(t, err)
	require.Equal(t, int64(1), calls.Load())

	res, err := e.orch.Run(context.Background(), marginTask())
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load(), "identical features reuse the cached decision")
	assert.Equal(t, task.TrackFast, res.TrackUsed)

	var cached bool
	for _, entry := range res.DecisionLog {
		if entry.Stage == "route" && strings.Contains(entry.Message, "cache hit") {
			cached = true
		}
	}
	assert.True(t, cached, "decision log records the cache hit")
}

func TestRunCanceledContext(t *testing.T) {
	e := newEnv(t,
		&backend.Func{
			BackendID:   "clf",
			BackendRole: backend.RoleClassifier,
			Fn: func(ctx context.Context, req *backend.Request) (*backend.Response, error) {
				return nil, ctx.Err()
			},
		},
	)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.orch.Run(ctx, marginTask())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "canceled during classify")
	assert.Zero(t, e.queue.Len(), "cancellation is not an escalation")
}

// collectEvents subscribes to one event type and returns an unsubscribe
// func plus a waiter that polls until n events arrive or two seconds pass.
func collectEvents(b *bus.Bus, typ bus.EventType) (func(), func(n int) []bus.Event) {
	events := make(chan bus.Event, 16)
	id := b.Subscribe(typ, func(e bus.Event) { events <- e })

	stop := func() { _ = b.Unsubscribe(id) }
	wait := func(n int) []bus.Event {
		var out []bus.Event
		deadline := time.After(2 * time.Second)
		for len(out) < n {
			select {
			case e := <-events:
				out = append(out, e)
			case <-deadline:
				return out
			}
		}
		return out
	}
	return stop, wait
}
