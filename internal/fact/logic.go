package fact

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

// logicCheck is the wire format the logic-validator backend answers with.
type logicCheck struct {
	Contradiction bool   `json:"contradiction"`
	Explanation   string `json:"explanation,omitempty"`
}

// logicVerdict asks a reasoning backend whether the signal's textual
// justification contradicts the other signals extracted from the same task.
// A backend failure degrades to inconclusive rather than failing the task:
// an unreachable validator is a reason to trust the signal less, not to
// reject it.
func (v *Validator) logicVerdict(ctx context.Context, sig task.CandidateSignal, peers []task.CandidateSignal) task.ValidationVerdict {
	verdict := task.ValidationVerdict{
		Layer:    task.LayerLogic,
		SignalID: sig.SignalID,
	}

	b, err := v.registry.FirstAvailable(backend.RoleLogicValidator)
	if err != nil {
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = "logic validator unavailable"
		return verdict
	}

	callCtx, cancel := context.WithTimeout(ctx, v.cfg.LogicTimeout)
	defer cancel()

	resp, err := b.Invoke(callCtx, &backend.Request{
		Prompt:      logicPrompt(sig, peers),
		MaxTokens:   256,
		Temperature: 0,
	})
	if err != nil {
		v.log.Backend(b.ID(), 0, err)
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = fmt.Sprintf("logic check failed: %v", err)
		return verdict
	}

	var check logicCheck
	if err := json.Unmarshal([]byte(extractJSON(resp.Output)), &check); err != nil {
		verdict.Outcome = task.OutcomeInconclusive
		verdict.Adjustment = v.cfg.InconclusivePenalty
		verdict.Detail = "unparseable logic check output"
		return verdict
	}

	if check.Contradiction {
		verdict.Outcome = task.OutcomeFail
		verdict.Adjustment = v.cfg.FailPenalty
		verdict.Detail = check.Explanation
		return verdict
	}

	verdict.Outcome = task.OutcomePass
	verdict.Adjustment = 1.0
	return verdict
}

// logicPrompt renders the contradiction check instruction.
func logicPrompt(sig task.CandidateSignal, peers []task.CandidateSignal) string {
	var sb strings.Builder
	sb.WriteString("Check this signal's justification for internal contradiction against the other signals from the same document.\n")
	fmt.Fprintf(&sb, "Signal %s (%s): %s\n", sig.SignalID, sig.Category, sig.Text)
	sb.WriteString("Other signals:\n")
	for _, p := range peers {
		if p.SignalID == sig.SignalID || p.Text == "" {
			continue
		}
		fmt.Fprintf(&sb, "- %s (%s): %s\n", p.SignalID, p.Category, p.Text)
	}
	sb.WriteString(`Respond as JSON: {"contradiction": <bool>, "explanation": "..."}`)
	return sb.String()
}

// extractJSON pulls the first JSON object out of a possibly chatty response.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
