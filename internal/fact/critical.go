package fact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

// criticalCheck is the wire format the critical-validator backend answers
// with.
type criticalCheck struct {
	Outcome string `json:"outcome"`
	Reason  string `json:"reason,omitempty"`
}

// criticalVerdict escalates a signal to the strongest available backend for
// arbitration. Its outcome is authoritative and overrides the prior layers'
// outcomes for confidence purposes. An unreachable arbiter yields an
// inconclusive verdict; the task still completes with degraded confidence.
func (v *Validator) criticalVerdict(ctx context.Context, sig task.CandidateSignal, prior []task.ValidationVerdict) task.ValidationVerdict {
	verdict := task.ValidationVerdict{
		Layer:    task.LayerCritical,
		SignalID: sig.SignalID,
	}

	b, err := v.registry.FirstAvailable(backend.RoleCriticalValidator)
	if err != nil {
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = "critical validator unavailable"
		return verdict
	}

	callCtx, cancel := context.WithTimeout(ctx, v.cfg.CriticalTimeout)
	defer cancel()

	resp, err := b.Invoke(callCtx, &backend.Request{
		Prompt:      criticalPrompt(sig, prior),
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		v.log.Backend(b.ID(), 0, err)
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = fmt.Sprintf("arbiter call failed: %v", err)
		return verdict
	}

	var check criticalCheck
	if err := json.Unmarshal([]byte(extractJSON(resp.Output)), &check); err != nil {
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = "unparseable arbiter output"
		return verdict
	}

	switch strings.ToLower(check.Outcome) {
	case "pass":
		verdict.Outcome = task.OutcomePass
	case "fail":
		verdict.Outcome = task.OutcomeFail
	default:
		verdict.Outcome = task.OutcomeInconclusive
	}
	verdict.Adjustment = v.adjustment(verdict.Outcome)
	verdict.Detail = check.Reason
	return verdict
}

// criticalPrompt renders the arbitration instruction, including the prior
// layer verdicts that triggered escalation.
func criticalPrompt(sig task.CandidateSignal, prior []task.ValidationVerdict) string {
	var sb strings.Builder
	sb.WriteString("Arbitrate this flagged analysis signal. Prior validation verdicts are listed below.\n")
	if sig.Value != nil {
		fmt.Fprintf(&sb, "Signal %s (%s): value=%.4f text=%s confidence=%.2f\n",
			sig.SignalID, sig.Category, *sig.Value, sig.Text, sig.RawConfidence)
	} else {
		fmt.Fprintf(&sb, "Signal %s (%s): text=%s confidence=%.2f\n",
			sig.SignalID, sig.Category, sig.Text, sig.RawConfidence)
	}
	for _, p := range prior {
		fmt.Fprintf(&sb, "- %s layer: %s (%s)\n", p.Layer, p.Outcome, p.Detail)
	}
	sb.WriteString(`Respond as JSON: {"outcome": "pass|fail|inconclusive", "reason": "..."}`)
	return sb.String()
}
