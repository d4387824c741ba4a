package goalie

import (
	"fmt"

	"github.com/normanking/verity/internal/task"
)

// assess runs the risk rule set over one signal's validation history.
// Every rule appends; a signal can carry several assessments at once, and
// the worst severity among them drives shrinkage and exclusion.
func (p *Protector) assess(sig task.CandidateSignal, verdicts []task.ValidationVerdict, track task.Track) []task.RiskAssessment {
	var risks []task.RiskAssessment
	add := func(cat task.RiskCategory, sev task.Severity, reason string) {
		risks = append(risks, task.RiskAssessment{
			SignalID: sig.SignalID,
			Category: cat,
			Severity: sev,
			Reason:   reason,
		})
	}

	for _, v := range verdicts {
		switch {
		case v.Layer == task.LayerMath && v.Outcome == task.OutcomeFail:
			if sig.Category == task.CategoryFinancial {
				add(task.RiskMisstatement, task.SeverityHigh,
					fmt.Sprintf("financial figure failed recomputation: %s", v.Detail))
			}
			if over, ok := overstated(sig, v); ok {
				add(task.RiskOverstatement, task.SeverityMedium,
					fmt.Sprintf("reported value exceeds recomputed by %.4f", over))
			}

		case v.Layer == task.LayerMath && v.Outcome == task.OutcomeInconclusive && sig.Category == task.CategoryFinancial:
			add(task.RiskExtractionError, task.SeverityLow,
				"numeric value could not be verified against raw figures")

		case v.Layer == task.LayerLogic && v.Outcome == task.OutcomeFail:
			add(task.RiskAmbiguousContext, task.SeverityMedium,
				fmt.Sprintf("contradiction with peer signals: %s", v.Detail))

		case v.Layer == task.LayerCritical && v.Outcome == task.OutcomeFail:
			add(criticalCategory(sig), task.SeverityCritical,
				fmt.Sprintf("critical review failed: %s", v.Detail))
		}
	}

	if track == task.TrackEnsemble || track == task.TrackHybrid {
		if sig.Agreement < p.cfg.AgreementFloor {
			add(task.RiskHallucinationSuspect, agreementSeverity(p.cfg.AgreementFloor-sig.Agreement),
				fmt.Sprintf("backend agreement %.2f below floor %.2f", sig.Agreement, p.cfg.AgreementFloor))
		}
	}

	if term, ok := containsTerm(sig.Text, p.cfg.LegalTerms); ok {
		add(task.RiskLegalRegulatory, task.SeverityMedium,
			fmt.Sprintf("legal term detected: %q", term))
	}

	return risks
}

// criticalCategory maps a critical-layer failure to a risk category by the
// signal's domain.
func criticalCategory(sig task.CandidateSignal) task.RiskCategory {
	if sig.Category == task.CategoryFinancial {
		return task.RiskMisstatement
	}
	return task.RiskHallucinationSuspect
}

// overstated reports how far a reported value exceeds the recomputed one,
// when the math layer produced a recomputation and the direction is upward.
func overstated(sig task.CandidateSignal, v task.ValidationVerdict) (float64, bool) {
	if sig.Value == nil || v.Expected == nil {
		return 0, false
	}
	over := *sig.Value - *v.Expected
	if over <= 0 {
		return 0, false
	}
	return over, true
}

// agreementSeverity scales hallucination severity with the agreement
// shortfall: a near miss stays medium, a wide miss is critical.
func agreementSeverity(shortfall float64) task.Severity {
	switch {
	case shortfall >= 0.4:
		return task.SeverityCritical
	case shortfall >= 0.2:
		return task.SeverityHigh
	default:
		return task.SeverityMedium
	}
}
