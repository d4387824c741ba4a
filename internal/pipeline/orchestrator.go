// Package pipeline wires the analysis stages into a single orchestrated run:
// classification, track routing, dispatch, validation, and protection. The
// orchestrator owns cross-stage policy (cancellation, escalation, the
// decision log) while each stage package owns its own timeouts and retries.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/verity/internal/audit"
	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/bus"
	"github.com/normanking/verity/internal/classify"
	"github.com/normanking/verity/internal/dispatch"
	"github.com/normanking/verity/internal/escalate"
	"github.com/normanking/verity/internal/fact"
	"github.com/normanking/verity/internal/goalie"
	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/metrics"
	"github.com/normanking/verity/internal/route"
	"github.com/normanking/verity/internal/task"
)

// Options assembles an Orchestrator. Classifier, Router, Dispatcher,
// Validator, and Protector are required; the rest degrade to no-ops when
// nil.
type Options struct {
	Classifier *classify.Classifier
	Router     *route.Router
	Dispatcher *dispatch.Dispatcher
	Validator  *fact.Validator
	Protector  *goalie.Protector

	Bus   *bus.Bus
	Trail *audit.Trail
	Queue escalate.Queue
	Store *metrics.Store
}

// Orchestrator runs tasks through the full pipeline.
type Orchestrator struct {
	classifier *classify.Classifier
	router     *route.Router
	dispatcher *dispatch.Dispatcher
	validator  *fact.Validator
	protector  *goalie.Protector

	bus   *bus.Bus
	trail *audit.Trail
	queue escalate.Queue
	store *metrics.Store

	log *logging.Logger
}

// New creates an Orchestrator from options.
func New(opts Options) *Orchestrator {
	trail := opts.Trail
	if trail == nil {
		trail, _ = audit.New("")
	}
	return &Orchestrator{
		classifier: opts.Classifier,
		router:     opts.Router,
		dispatcher: opts.Dispatcher,
		validator:  opts.Validator,
		protector:  opts.Protector,
		bus:        opts.Bus,
		trail:      trail,
		queue:      opts.Queue,
		store:      opts.Store,
		log:        logging.Global().WithComponent("pipeline"),
	}
}

// Run executes one task through all stages. A partial result is never
// returned as success: the error path records the failure, escalates when
// the failure means silent-wrong-answer risk, and reports what happened.
func (o *Orchestrator) Run(ctx context.Context, t *task.Task) (*task.PipelineResult, error) {
	start := time.Now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	rec := o.trail.ForTask(t.ID)
	res := &task.PipelineResult{TaskID: t.ID}
	note := func(stage, format string, args ...interface{}) {
		e := task.DecisionEntry{Stage: stage, Message: fmt.Sprintf(format, args...), At: time.Now()}
		res.DecisionLog = append(res.DecisionLog, e)
		rec.Decision(e)
	}

	// ── Stage 1: classification and routing ──
	stageStart := time.Now()
	track, cls, err := o.classifyAndRoute(ctx, t, res, note)
	if err != nil {
		return nil, o.fail(ctx, rec, t, res, "classify", start, err)
	}
	res.TrackUsed = track
	res.TrackName = track.String()
	o.publish(bus.Event{
		Type: bus.EventClassificationDone, TaskID: t.ID, Stage: "classify",
		Track: track.String(), DurationMs: time.Since(stageStart).Milliseconds(),
	})
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, rec, t, res, "classify", start, err)
	}

	// ── Stage 2: execution ──
	stageStart = time.Now()
	signals, err := o.dispatcher.Execute(ctx, t, track)
	if err != nil {
		if unrecoverableDispatch(err) {
			o.escalate(t, fmt.Sprintf("execution on %s track failed: %v", track, err), nil)
			note("execute", "escalated to human review: %v", err)
		}
		return nil, o.fail(ctx, rec, t, res, "execute", start, err)
	}
	note("execute", "%s track produced %d candidate signals", track, len(signals))
	o.publish(bus.Event{
		Type: bus.EventExecutionDone, TaskID: t.ID, Stage: "execute",
		Track: track.String(), SignalCount: len(signals),
		DurationMs: time.Since(stageStart).Milliseconds(),
	})

	// ── Stage 3: validation ──
	stageStart = time.Now()
	verdicts, err := o.validator.Validate(ctx, t, signals)
	if err != nil {
		return nil, o.fail(ctx, rec, t, res, "validate", start, err)
	}
	inconclusive := 0
	for _, v := range verdicts {
		rec.Verdict(v)
		if v.Outcome == task.OutcomeInconclusive {
			inconclusive++
		}
	}
	if inconclusive > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d inconclusive validation verdicts", inconclusive))
	}
	note("validate", "%d verdicts across %d signals (%d inconclusive)", len(verdicts), len(signals), inconclusive)
	o.publish(bus.Event{
		Type: bus.EventValidationDone, TaskID: t.ID, Stage: "validate",
		Track: track.String(), SignalCount: len(signals),
		DurationMs: time.Since(stageStart).Milliseconds(),
	})
	if err := ctx.Err(); err != nil {
		return nil, o.fail(ctx, rec, t, res, "validate", start, err)
	}

	// ── Stage 4: protection ──
	finals, excluded := o.protector.Protect(signals, verdicts, track)
	res.FinalSignals = finals
	res.Excluded = excluded
	note("protect", "published %d signals, excluded %d", len(finals), len(excluded))

	escalated := false
	if len(excluded) > 0 {
		var sigs []task.CandidateSignal
		for _, ex := range excluded {
			rec.Excluded(ex)
			sigs = append(sigs, ex.Signal)
		}
		o.escalate(t, fmt.Sprintf("%d signals excluded by protection", len(excluded)), sigs)
		note("protect", "excluded signals escalated to human review")
		escalated = true
	}
	if cls.Fallback {
		res.Warnings = append(res.Warnings, "classifier unavailable, conservative ensemble routing used")
	}

	res.TotalLatencyMs = time.Since(start).Milliseconds()
	rec.Completed(res)
	o.publish(bus.Event{
		Type: bus.EventTaskCompleted, TaskID: t.ID,
		Track: track.String(), SignalCount: len(finals),
		DurationMs: res.TotalLatencyMs,
	})
	o.record(func() error { return o.store.RecordResult(res, escalated) })
	for _, f := range finals {
		sigID := f.SignalID
		o.record(func() error { return o.store.RecordPrediction(t.ID, sigID, true) })
	}
	for _, ex := range excluded {
		sigID := ex.Signal.SignalID
		o.record(func() error { return o.store.RecordPrediction(t.ID, sigID, false) })
	}

	o.log.Stage(t.ID, "completed", time.Duration(res.TotalLatencyMs)*time.Millisecond)
	return res, nil
}

// classifyAndRoute resolves the execution track, consulting the routing
// cache before spending a classifier call. Classifier failure degrades to
// the conservative result instead of aborting the task.
func (o *Orchestrator) classifyAndRoute(ctx context.Context, t *task.Task, res *task.PipelineResult, note func(string, string, ...interface{})) (task.Track, task.ClassificationResult, error) {
	digest := t.Features.Digest()
	if track, ok := o.router.Lookup(digest); ok {
		note("route", "cache hit for feature digest %s: %s track", digest[:12], track)
		return track, task.ClassificationResult{FeatureDigest: digest}, nil
	}

	cls, err := o.classifier.Classify(ctx, t)
	if err != nil {
		if ctx.Err() != nil {
			return task.TrackFast, cls, ctx.Err()
		}
		o.log.Warn("classifier failed, falling back to conservative routing: %v", err)
		cls = classify.Conservative(t)
		note("classify", "classifier unavailable (%v), conservative fallback", err)
	} else {
		note("classify", "complexity %.2f, materiality %t", cls.ComplexityScore, cls.MaterialityFlag)
	}

	track := o.router.Route(cls)
	note("route", "selected %s track", track)
	return track, cls, nil
}

// fail finalizes an aborted run: audit, metrics, latency.
func (o *Orchestrator) fail(ctx context.Context, rec *audit.Recorder, t *task.Task, res *task.PipelineResult, stage string, start time.Time, err error) error {
	res.TotalLatencyMs = time.Since(start).Milliseconds()
	rec.Failed(stage, err)
	o.record(func() error {
		return o.store.RecordFailure(t.ID, res.TrackName, res.TotalLatencyMs, err)
	})
	if ctx.Err() != nil {
		return fmt.Errorf("task %s canceled during %s: %w", t.ID, stage, err)
	}
	return fmt.Errorf("task %s failed during %s: %w", t.ID, stage, err)
}

// unrecoverableDispatch reports whether an Execute failure exhausted the
// backends for the task's track. These tasks go to human review; anything
// else (cancellation, malformed output) surfaces as a plain error.
func unrecoverableDispatch(err error) bool {
	return errors.Is(err, dispatch.ErrQuorumNotReached) ||
		errors.Is(err, dispatch.ErrExecutionTimeout) ||
		errors.Is(err, backend.ErrBackendUnavailable) ||
		errors.Is(err, backend.ErrNoBackend)
}

// escalate pushes an entry to the review queue and announces it.
func (o *Orchestrator) escalate(t *task.Task, reason string, signals []task.CandidateSignal) {
	if o.queue == nil {
		return
	}
	o.queue.Push(escalate.Entry{TaskID: t.ID, Reason: reason, Signals: signals})
	o.publish(bus.Event{Type: bus.EventTaskEscalated, TaskID: t.ID, Error: reason})
}

// publish sends a bus event, filling in id and timestamp.
func (o *Orchestrator) publish(e bus.Event) {
	if o.bus == nil {
		return
	}
	e.ID = uuid.NewString()
	e.Timestamp = time.Now()
	o.bus.Publish(e)
}

// record runs a metrics write, logging rather than failing the task when
// the store misbehaves.
func (o *Orchestrator) record(fn func() error) {
	if o.store == nil {
		return
	}
	if err := fn(); err != nil {
		o.log.Warn("metrics write failed: %v", err)
	}
}
