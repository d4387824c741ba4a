package fact

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

// mathVerdict recomputes a financial signal's value from the raw figures
// already present in the task and compares it to the reported value within
// the numeric tolerance. The recomputation itself is pure arithmetic; a
// backend is consulted only when the raw inputs needed for it are absent,
// and an unreachable checker degrades to inconclusive, not a failure.
func (v *Validator) mathVerdict(ctx context.Context, t *task.Task, sig task.CandidateSignal) task.ValidationVerdict {
	verdict := task.ValidationVerdict{
		Layer:    task.LayerMath,
		SignalID: sig.SignalID,
	}

	if sig.Value == nil {
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = "no numeric value to check"
		return verdict
	}

	expected, ok := recompute(sig.SignalID, t.Features.RawFigures)
	if !ok {
		return v.mathCheckVerdict(ctx, t, sig, verdict)
	}

	verdict.Expected = &expected
	diff := math.Abs(*sig.Value - expected)
	if diff > v.cfg.Tolerance {
		verdict.Outcome = task.OutcomeFail
		verdict.Adjustment = v.cfg.FailPenalty
		verdict.Detail = fmt.Sprintf("reported %.4f, recomputed %.4f (tolerance %.4f)", *sig.Value, expected, v.cfg.Tolerance)
		return verdict
	}

	verdict.Outcome = task.OutcomePass
	verdict.Adjustment = 1.0
	verdict.Detail = fmt.Sprintf("recomputed %.4f within tolerance", expected)
	return verdict
}

// mathCheck is the wire format the math-validator backend answers with.
type mathCheck struct {
	Consistent bool   `json:"consistent"`
	Reason     string `json:"reason,omitempty"`
}

// mathCheckVerdict handles the no-raw-figures case: a checker backend is
// asked whether the reported figure is consistent with the document text.
// Without a reachable checker the verdict is inconclusive.
func (v *Validator) mathCheckVerdict(ctx context.Context, t *task.Task, sig task.CandidateSignal, verdict task.ValidationVerdict) task.ValidationVerdict {
	verdict.Outcome = task.OutcomeInconclusive
	verdict.Adjustment = v.cfg.InconclusivePenalty
	verdict.Detail = "raw inputs for recomputation absent"

	b, err := v.registry.FirstAvailable(backend.RoleMathValidator)
	if err != nil {
		return verdict
	}

	callCtx, cancel := context.WithTimeout(ctx, v.cfg.LogicTimeout)
	defer cancel()

	resp, err := b.Invoke(callCtx, &backend.Request{
		Prompt:      mathCheckPrompt(t, sig),
		MaxTokens:   128,
		Temperature: 0,
	})
	if err != nil {
		v.log.Backend(b.ID(), 0, err)
		verdict.Detail = fmt.Sprintf("arithmetic check failed: %v", err)
		return verdict
	}

	var check mathCheck
	if err := json.Unmarshal([]byte(extractJSON(resp.Output)), &check); err != nil {
		verdict.Detail = "unparseable arithmetic check output"
		return verdict
	}

	if !check.Consistent {
		verdict.Outcome = task.OutcomeFail
		verdict.Adjustment = v.cfg.FailPenalty
		verdict.Detail = check.Reason
		return verdict
	}

	verdict.Outcome = task.OutcomePass
	verdict.Adjustment = 1.0
	verdict.Detail = "figure consistent with document text"
	return verdict
}

// mathCheckPrompt renders the consistency check instruction.
func mathCheckPrompt(t *task.Task, sig task.CandidateSignal) string {
	var sb strings.Builder
	sb.WriteString("Check whether this reported figure is arithmetically consistent with the document below.\n")
	fmt.Fprintf(&sb, "Signal %s: value=%.4f text=%s\n\n", sig.SignalID, *sig.Value, sig.Text)
	sb.WriteString(t.Document)
	sb.WriteString("\n")
	sb.WriteString(`Respond as JSON: {"consistent": <bool>, "reason": "..."}`)
	return sb.String()
}

// recompute derives the expected value for a signal from raw figures. Three
// derivation families are supported, keyed by signal id convention:
//
//	"<num>_over_<den>"  ratio of two figures
//	"<name>_delta"      current minus prior figure
//	"<name>_total"      sum of the "<name>_*" component figures
//
// Returns false when the id matches no family or a required figure is
// missing.
func recompute(signalID string, figures map[string]float64) (float64, bool) {
	if len(figures) == 0 {
		return 0, false
	}

	if num, den, ok := strings.Cut(signalID, "_over_"); ok {
		n, nOK := figures[num]
		d, dOK := figures[den]
		if !nOK || !dOK || d == 0 {
			return 0, false
		}
		return n / d, true
	}

	if name, found := strings.CutSuffix(signalID, "_delta"); found {
		current, cOK := figures[name]
		prior, pOK := figures[name+"_prior"]
		if !cOK || !pOK {
			return 0, false
		}
		return current - prior, true
	}

	if name, found := strings.CutSuffix(signalID, "_total"); found {
		sum := 0.0
		components := 0
		prefix := name + "_"
		for k, v := range figures {
			if !strings.HasPrefix(k, prefix) {
				continue
			}
			if strings.HasSuffix(k, "_prior") || k == signalID {
				continue
			}
			sum += v
			components++
		}
		if components == 0 {
			return 0, false
		}
		return sum, true
	}

	return 0, false
}
