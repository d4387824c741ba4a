// Package dispatch executes a routed task against the correct set of
// executor backends: one call for the fast and deep tracks, a sequential
// fast-then-deep pair for the hybrid track, and a concurrent quorum fan-out
// for the ensemble track. Raw backend outputs are reconciled into a unified
// candidate signal set before validation.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/bus"
	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/task"
)

var (
	// ErrExecutionTimeout indicates a single-backend track timed out twice,
	// original call and retry.
	ErrExecutionTimeout = errors.New("execution timeout")

	// ErrQuorumNotReached indicates an ensemble dispatch got fewer than
	// quorum responses within the timeout. Non-retryable at the pipeline
	// level; the task is escalated, never silently downgraded.
	ErrQuorumNotReached = errors.New("quorum not reached")
)

// Config controls dispatch behavior. All values are product-tunable.
type Config struct {
	FastTimeout     time.Duration
	DeepTimeout     time.Duration
	EnsembleTimeout time.Duration
	EnsembleSize    int
	Quorum          int
	// Tolerance is the reconciliation epsilon: numeric opinions within
	// tolerance of the median agree.
	Tolerance float64
}

// DefaultConfig returns the dispatch defaults.
func DefaultConfig() Config {
	return Config{
		FastTimeout:     15 * time.Second,
		DeepTimeout:     90 * time.Second,
		EnsembleTimeout: 120 * time.Second,
		EnsembleSize:    5,
		Quorum:          3,
		Tolerance:       0.01,
	}
}

// Dispatcher executes tasks on their selected track.
type Dispatcher struct {
	registry *backend.Registry
	cfg      Config
	bus      *bus.Bus
	log      *logging.Logger
}

// Option is a functional option for configuring Dispatcher.
type Option func(*Dispatcher)

// WithBus publishes a backend_call event for every backend invocation, so
// session collectors can observe call volume and failures.
func WithBus(b *bus.Bus) Option {
	return func(d *Dispatcher) {
		d.bus = b
	}
}

// New creates a Dispatcher.
func New(registry *backend.Registry, cfg Config, opts ...Option) *Dispatcher {
	if cfg.EnsembleSize == 0 {
		cfg = DefaultConfig()
	}
	d := &Dispatcher{
		registry: registry,
		cfg:      cfg,
		log:      logging.Global().WithComponent("dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs the task on the given track and returns the reconciled
// candidate signals.
func (d *Dispatcher) Execute(ctx context.Context, t *task.Task, track task.Track) ([]task.CandidateSignal, error) {
	switch track {
	case task.TrackFast:
		return d.single(ctx, t, backend.RoleFastExecutor, d.cfg.FastTimeout)
	case task.TrackDeep:
		return d.single(ctx, t, backend.RoleDeepExecutor, d.cfg.DeepTimeout)
	case task.TrackEnsemble:
		return d.ensemble(ctx, t)
	case task.TrackHybrid:
		return d.hybrid(ctx, t)
	default:
		return nil, fmt.Errorf("unknown track %v", track)
	}
}

// single dispatches a linear one-backend track. A timed-out call is retried
// once against the same backend; a second timeout fails the task with
// ErrExecutionTimeout.
func (d *Dispatcher) single(ctx context.Context, t *task.Task, role backend.Role, timeout time.Duration) ([]task.CandidateSignal, error) {
	b, err := d.registry.FirstAvailable(role)
	if err != nil {
		return nil, err
	}

	req := &backend.Request{Prompt: executorPrompt(t), Temperature: 0.2}

	resp, err := d.invokeOnce(ctx, b, req, timeout)
	if err != nil {
		if !errors.Is(err, backend.ErrBackendTimeout) && !errors.Is(err, backend.ErrBackendUnavailable) {
			return nil, err
		}
		d.log.Warn("retrying %s after: %v", b.ID(), err)
		resp, err = d.invokeOnce(ctx, b, req, timeout)
		if err != nil {
			if errors.Is(err, backend.ErrBackendTimeout) {
				return nil, fmt.Errorf("%w: %s", ErrExecutionTimeout, b.ID())
			}
			return nil, err
		}
	}

	opinions, err := parseOpinions(b.ID(), resp)
	if err != nil {
		return nil, err
	}
	return d.reconcile(opinions), nil
}

// hybrid dispatches two backends in sequence: the fast backend first, then
// the deep backend with the fast output as additional context. The deep
// backend's output supersedes the fast one's for any signal both reported.
func (d *Dispatcher) hybrid(ctx context.Context, t *task.Task) ([]task.CandidateSignal, error) {
	var fastOps []opinionSet

	fastBackend, err := d.registry.FirstAvailable(backend.RoleFastExecutor)
	if err == nil {
		resp, ferr := d.invokeOnce(ctx, fastBackend, &backend.Request{Prompt: executorPrompt(t), Temperature: 0.2}, d.cfg.FastTimeout)
		if ferr != nil {
			// The fast pass is advisory on this track; the deep backend
			// still runs, just without draft context.
			d.log.Warn("hybrid fast pass failed, continuing deep-only: %v", ferr)
		} else if ops, perr := parseOpinions(fastBackend.ID(), resp); perr != nil {
			d.log.Warn("hybrid fast pass unparseable, continuing deep-only: %v", perr)
		} else {
			fastOps = ops
		}
	}

	deepBackend, err := d.registry.FirstAvailable(backend.RoleDeepExecutor)
	if err != nil {
		return nil, err
	}

	deepReq := &backend.Request{
		Prompt:      executorPrompt(t),
		Context:     draftContext(fastOps),
		Temperature: 0.2,
	}

	resp, err := d.invokeOnce(ctx, deepBackend, deepReq, d.cfg.DeepTimeout)
	if err != nil && (errors.Is(err, backend.ErrBackendTimeout) || errors.Is(err, backend.ErrBackendUnavailable)) {
		d.log.Warn("retrying %s after: %v", deepBackend.ID(), err)
		resp, err = d.invokeOnce(ctx, deepBackend, deepReq, d.cfg.DeepTimeout)
	}
	if err != nil {
		if errors.Is(err, backend.ErrBackendTimeout) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionTimeout, deepBackend.ID())
		}
		return nil, err
	}

	deepOps, err := parseOpinions(deepBackend.ID(), resp)
	if err != nil {
		return nil, err
	}

	return d.mergeHybrid(fastOps, deepOps), nil
}

// invokeOnce performs one backend call under its own timeout, derived from
// the task context so cancellation propagates.
func (d *Dispatcher) invokeOnce(ctx context.Context, b backend.Backend, req *backend.Request, timeout time.Duration) (*backend.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := b.Invoke(callCtx, req)
	if err != nil {
		d.notifyBackend(b.ID(), 0, err)
		return nil, err
	}
	d.notifyBackend(b.ID(), resp.LatencyMs, nil)
	return resp, nil
}

// notifyBackend logs one backend call and, when a bus is wired, publishes
// the matching backend_call event.
func (d *Dispatcher) notifyBackend(id string, latencyMs int64, err error) {
	d.log.Backend(id, latencyMs, err)
	if d.bus == nil {
		return
	}
	e := bus.Event{
		ID:         uuid.NewString(),
		Type:       bus.EventBackendCall,
		BackendID:  id,
		DurationMs: latencyMs,
	}
	if err != nil {
		e.Error = err.Error()
	}
	d.bus.Publish(e)
}
