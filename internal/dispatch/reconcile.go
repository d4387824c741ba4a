package dispatch

import (
	"math"
	"sort"

	"github.com/normanking/verity/internal/task"
)

// reconcile merges per-backend opinions into one CandidateSignal per
// signalId. Numeric signals take the median value, with agreement measured
// as the share of opinions within tolerance of the median; text signals take
// the modal answer with exact-match agreement. The agreement ratio rides on
// the merged signal for GOALIE's use; it is not itself a confidence.
func (d *Dispatcher) reconcile(all []opinionSet) []task.CandidateSignal {
	groups, order := groupBySignal(all)

	out := make([]task.CandidateSignal, 0, len(order))
	for _, id := range order {
		group := groups[id]
		out = append(out, d.mergeGroup(id, group))
	}
	return out
}

// mergeGroup reconciles all opinions for one signal.
func (d *Dispatcher) mergeGroup(signalID string, group []opinionSet) task.CandidateSignal {
	sig := task.CandidateSignal{
		SignalID:  signalID,
		Category:  group[0].Category,
		Agreement: 1.0,
	}

	minConf := 1.0
	numeric := true
	for _, op := range group {
		sig.Sources = append(sig.Sources, op.Opinion)
		if op.Opinion.RawConfidence < minConf {
			minConf = op.Opinion.RawConfidence
		}
		if op.Opinion.Value == nil {
			numeric = false
		}
	}
	sig.RawConfidence = minConf

	if len(group) == 1 {
		sig.Value = group[0].Opinion.Value
		sig.Text = group[0].Opinion.Text
		sig.SourceBackendID = group[0].Opinion.BackendID
		return sig
	}

	if numeric {
		values := make([]float64, len(group))
		for i, op := range group {
			values[i] = *op.Opinion.Value
		}
		med := median(values)

		agreeing := 0
		bestIdx := 0
		bestDist := math.Inf(1)
		for i, v := range values {
			dist := math.Abs(v - med)
			if dist <= d.cfg.Tolerance {
				agreeing++
			}
			if dist < bestDist {
				bestDist = dist
				bestIdx = i
			}
		}

		sig.Value = &med
		sig.Text = group[bestIdx].Opinion.Text
		sig.SourceBackendID = group[bestIdx].Opinion.BackendID
		sig.Agreement = float64(agreeing) / float64(len(group))
		return sig
	}

	// Categorical/text signals: exact-match agreement against the modal
	// answer.
	counts := make(map[string]int)
	for _, op := range group {
		counts[op.Opinion.Text]++
	}
	modal := group[0].Opinion.Text
	for text, n := range counts {
		if n > counts[modal] {
			modal = text
		}
	}
	for _, op := range group {
		if op.Opinion.Text == modal {
			sig.Text = modal
			sig.SourceBackendID = op.Opinion.BackendID
			break
		}
	}
	sig.Agreement = float64(counts[modal]) / float64(len(group))
	return sig
}

// mergeHybrid combines the fast and deep passes. The deep backend's output
// supersedes the fast one's for any signal both reported; agreement is
// measured against the superseding value, since on this track the deep
// answer plays the reference role the median plays for ensembles.
func (d *Dispatcher) mergeHybrid(fastOps, deepOps []opinionSet) []task.CandidateSignal {
	fastBySignal := make(map[string]opinionSet, len(fastOps))
	for _, op := range fastOps {
		fastBySignal[op.SignalID] = op
	}

	out := make([]task.CandidateSignal, 0, len(deepOps))
	seen := make(map[string]bool, len(deepOps))

	for _, deep := range deepOps {
		seen[deep.SignalID] = true
		sig := task.CandidateSignal{
			SignalID:        deep.SignalID,
			Category:        deep.Category,
			Value:           deep.Opinion.Value,
			Text:            deep.Opinion.Text,
			SourceBackendID: deep.Opinion.BackendID,
			RawConfidence:   deep.Opinion.RawConfidence,
			Agreement:       1.0,
			Sources:         []task.Opinion{deep.Opinion},
		}

		if fast, ok := fastBySignal[deep.SignalID]; ok {
			sig.Sources = append([]task.Opinion{fast.Opinion}, sig.Sources...)
			if fast.Opinion.RawConfidence < sig.RawConfidence {
				sig.RawConfidence = fast.Opinion.RawConfidence
			}
			sig.Agreement = hybridAgreement(fast.Opinion, deep.Opinion, d.cfg.Tolerance)
		}
		out = append(out, sig)
	}

	// Signals only the fast pass reported survive unsuperseded.
	for _, fast := range fastOps {
		if seen[fast.SignalID] {
			continue
		}
		out = append(out, task.CandidateSignal{
			SignalID:        fast.SignalID,
			Category:        fast.Category,
			Value:           fast.Opinion.Value,
			Text:            fast.Opinion.Text,
			SourceBackendID: fast.Opinion.BackendID,
			RawConfidence:   fast.Opinion.RawConfidence,
			Agreement:       1.0,
			Sources:         []task.Opinion{fast.Opinion},
		})
	}
	return out
}

// hybridAgreement scores how well the fast pass corroborates the deep one.
func hybridAgreement(fast, deep task.Opinion, tolerance float64) float64 {
	if fast.Value != nil && deep.Value != nil {
		if math.Abs(*fast.Value-*deep.Value) <= tolerance {
			return 1.0
		}
		return 0.5
	}
	if fast.Text == deep.Text {
		return 1.0
	}
	return 0.5
}

// groupBySignal groups opinions by signalId, preserving first-seen order.
func groupBySignal(all []opinionSet) (map[string][]opinionSet, []string) {
	groups := make(map[string][]opinionSet)
	var order []string
	for _, op := range all {
		if _, ok := groups[op.SignalID]; !ok {
			order = append(order, op.SignalID)
		}
		groups[op.SignalID] = append(groups[op.SignalID], op)
	}
	return groups, order
}

// median returns the median of values. Even-length inputs average the two
// middle values.
func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
