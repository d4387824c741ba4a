// Package goalie implements the final protection stage: risk classification
// over validation history, multi-source confidence scoring, and conservative
// prediction adjustment. The pipeline's core promise is enforced here:
// confidence is only ever preserved or reduced, never inflated, and no
// signal leaves the set without a logged reason.
package goalie

import (
	"fmt"
	"strings"

	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/task"
)

// Config controls protection behavior.
type Config struct {
	// Shrinkage maps severity to the fraction a flagged numeric value is
	// scaled toward the neutral baseline.
	Shrinkage map[task.Severity]float64
	// NeutralBaseline is the value flagged signals shrink toward.
	NeutralBaseline float64
	// AgreementFloor is the reconciliation agreement below which ensemble
	// and hybrid signals are suspected hallucinations. Defaults to the
	// quorum ratio.
	AgreementFloor float64
	// LegalTerms trigger legal-regulatory assessments when present in a
	// signal's text.
	LegalTerms []string
}

// DefaultConfig returns the protection defaults.
func DefaultConfig() Config {
	return Config{
		Shrinkage: map[task.Severity]float64{
			task.SeverityMedium:   0.15,
			task.SeverityHigh:     0.35,
			task.SeverityCritical: 0.60,
		},
		NeutralBaseline: 0,
		AgreementFloor:  0.6,
		LegalTerms: []string{
			"litigation", "subpoena", "consent decree",
			"sec investigation", "material weakness",
		},
	}
}

// Protector performs the GOALIE stage.
type Protector struct {
	cfg Config
	log *logging.Logger
}

// New creates a Protector.
func New(cfg Config) *Protector {
	if cfg.Shrinkage == nil {
		cfg = DefaultConfig()
	}
	return &Protector{
		cfg: cfg,
		log: logging.Global().WithComponent("goalie"),
	}
}

// Protect turns validated candidate signals into the final signal set.
// Signals carrying a critical-severity assessment with an unresolved
// critical-layer fail are excluded and logged, never silently included.
func (p *Protector) Protect(signals []task.CandidateSignal, verdicts []task.ValidationVerdict, track task.Track) ([]task.FinalSignal, []task.ExcludedSignal) {
	bySignal := make(map[string][]task.ValidationVerdict)
	for _, v := range verdicts {
		bySignal[v.SignalID] = append(bySignal[v.SignalID], v)
	}

	var (
		finals   []task.FinalSignal
		excluded []task.ExcludedSignal
	)

	for _, sig := range signals {
		sigVerdicts := bySignal[sig.SignalID]
		risks := p.assess(sig, sigVerdicts, track)

		if reason, drop := p.exclusionReason(risks, sigVerdicts); drop {
			p.log.WithField("signal", sig.SignalID).Warn("excluding signal: %s", reason)
			excluded = append(excluded, task.ExcludedSignal{Signal: sig, Reason: reason})
			continue
		}

		finals = append(finals, task.FinalSignal{
			SignalID:        sig.SignalID,
			Category:        sig.Category,
			Value:           p.adjustValue(sig, risks),
			Text:            sig.Text,
			FinalConfidence: p.confidence(sig, sigVerdicts, track),
			RiskAssessments: risks,
			Verdicts:        sigVerdicts,
		})
	}

	return finals, excluded
}

// confidence computes the final score. The baseline is the minimum raw
// confidence across contributing opinions; every verdict adjustment
// multiplies it down, and ensemble/hybrid tracks additionally fold in the
// reconciliation agreement ratio. Monotonic non-increase by construction.
func (p *Protector) confidence(sig task.CandidateSignal, verdicts []task.ValidationVerdict, track task.Track) float64 {
	conf := sig.RawConfidence
	for _, v := range verdicts {
		if v.Adjustment > 0 {
			conf *= v.Adjustment
		}
	}

	if track == task.TrackEnsemble || track == task.TrackHybrid {
		conf *= sig.Agreement
	}

	if conf < 0 {
		return 0
	}
	return conf
}

// adjustValue applies conservative shrinkage: a high or critical flagged
// numeric value is scaled toward the neutral baseline proportionally to
// severity. A flagged signal is more likely wrong in magnitude than entirely
// absent, so shrinkage dominates outright suppression.
func (p *Protector) adjustValue(sig task.CandidateSignal, risks []task.RiskAssessment) *float64 {
	if sig.Value == nil {
		return nil
	}

	maxSev := maxSeverity(risks)
	if maxSev < task.SeverityHigh {
		v := *sig.Value
		return &v
	}

	frac := p.cfg.Shrinkage[maxSev]
	adjusted := *sig.Value - (*sig.Value-p.cfg.NeutralBaseline)*frac
	p.log.WithFields(map[string]interface{}{
		"signal":   sig.SignalID,
		"severity": maxSev.String(),
	}).Debug("shrinking value %.4f -> %.4f", *sig.Value, adjusted)
	return &adjusted
}

// exclusionReason decides whether a signal must be withheld from the final
// set: critical severity combined with an unresolved critical-layer fail.
func (p *Protector) exclusionReason(risks []task.RiskAssessment, verdicts []task.ValidationVerdict) (string, bool) {
	if maxSeverity(risks) < task.SeverityCritical {
		return "", false
	}
	for _, v := range verdicts {
		if v.Layer == task.LayerCritical && v.Outcome == task.OutcomeFail {
			return fmt.Sprintf("critical severity with unresolved critical-layer fail: %s", v.Detail), true
		}
	}
	return "", false
}

// maxSeverity returns the highest severity among assessments.
func maxSeverity(risks []task.RiskAssessment) task.Severity {
	max := task.SeverityInfo
	for _, r := range risks {
		if r.Severity > max {
			max = r.Severity
		}
	}
	return max
}

// containsTerm reports whether text contains any of the configured terms,
// case-insensitively.
func containsTerm(text string, terms []string) (string, bool) {
	lower := strings.ToLower(text)
	for _, term := range terms {
		if strings.Contains(lower, term) {
			return term, true
		}
	}
	return "", false
}
