// Package fact implements the three-layer validation state machine applied
// to candidate signals: a mathematical layer that recomputes derivable
// quantities, a logical layer that checks textual justifications for
// contradiction, and a conditionally-invoked critical layer whose arbiter
// outcome is authoritative. Transitions are strictly forward; a signal that
// passes its primary layer with high confidence never reaches the critical
// layer, which is what bounds the expensive-backend call rate.
package fact

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/task"
)

// Config controls validation behavior.
type Config struct {
	// Tolerance is the numeric tolerance for mathematical recomputation.
	Tolerance float64
	// EscalationThreshold: signals with raw confidence below this reach the
	// critical layer even when their primary layer passed.
	EscalationThreshold float64
	// InconclusivePenalty is the adjustment for inconclusive verdicts.
	InconclusivePenalty float64
	// FailPenalty is the adjustment for fail-but-retained verdicts.
	FailPenalty float64
	// LogicTimeout bounds logic-validator backend calls.
	LogicTimeout time.Duration
	// CriticalTimeout bounds critical-validator backend calls.
	CriticalTimeout time.Duration
	// MaxConcurrent bounds cross-signal validation parallelism within one
	// task. Zero means unbounded.
	MaxConcurrent int
}

// DefaultConfig returns the validation defaults.
func DefaultConfig() Config {
	return Config{
		Tolerance:           0.01,
		EscalationThreshold: 0.5,
		InconclusivePenalty: 0.85,
		FailPenalty:         0.60,
		LogicTimeout:        30 * time.Second,
		CriticalTimeout:     120 * time.Second,
		MaxConcurrent:       8,
	}
}

// Validator runs the FACT layers over a task's candidate signals.
type Validator struct {
	registry *backend.Registry
	cfg      Config
	log      *logging.Logger
}

// New creates a Validator.
func New(registry *backend.Registry, cfg Config) *Validator {
	if cfg.InconclusivePenalty == 0 {
		cfg = DefaultConfig()
	}
	return &Validator{
		registry: registry,
		cfg:      cfg,
		log:      logging.Global().WithComponent("fact"),
	}
}

// Validate checks every candidate signal and returns the accumulated
// verdicts. Signals are independent units of work and validate
// concurrently; the layers for one signal always run in order.
func (v *Validator) Validate(ctx context.Context, t *task.Task, signals []task.CandidateSignal) ([]task.ValidationVerdict, error) {
	perSignal := make([][]task.ValidationVerdict, len(signals))

	g, gctx := errgroup.WithContext(ctx)
	if v.cfg.MaxConcurrent > 0 {
		g.SetLimit(v.cfg.MaxConcurrent)
	}

	for i := range signals {
		i := i
		g.Go(func() error {
			verdicts, err := v.validateSignal(gctx, t, signals[i], signals)
			if err != nil {
				return err
			}
			perSignal[i] = verdicts
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []task.ValidationVerdict
	for _, vs := range perSignal {
		all = append(all, vs...)
	}
	return all, nil
}

// validateSignal runs the forward layer sequence for one signal.
func (v *Validator) validateSignal(ctx context.Context, t *task.Task, sig task.CandidateSignal, peers []task.CandidateSignal) ([]task.ValidationVerdict, error) {
	var verdicts []task.ValidationVerdict

	// Primary layer by category: math recomputation for financial signals,
	// logical contradiction checks for the rest.
	var primary task.ValidationVerdict
	if sig.Category == task.CategoryFinancial {
		primary = v.mathVerdict(ctx, t, sig)
	} else {
		primary = v.logicVerdict(ctx, sig, peers)
	}
	verdicts = append(verdicts, primary)

	// Critical escalation precondition: a non-pass primary outcome, or raw
	// confidence below the escalation threshold. Nothing else reaches the
	// arbiter.
	if primary.Outcome == task.OutcomePass && sig.RawConfidence >= v.cfg.EscalationThreshold {
		return verdicts, nil
	}

	critical := v.criticalVerdict(ctx, sig, verdicts)
	verdicts = append(verdicts, critical)

	return verdicts, nil
}

// adjustment maps an outcome to its confidence multiplier.
func (v *Validator) adjustment(outcome task.Outcome) float64 {
	switch outcome {
	case task.OutcomePass:
		return 1.0
	case task.OutcomeInconclusive:
		return v.cfg.InconclusivePenalty
	default:
		return v.cfg.FailPenalty
	}
}
