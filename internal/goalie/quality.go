package goalie

// FeedbackSample pairs the pipeline's call on one signal with ground truth
// collected after the fact. Predicted means the signal was published with
// confidence at or above the reporting threshold; Actual means downstream
// review confirmed it.
type FeedbackSample struct {
	SignalID  string
	Predicted bool
	Actual    bool
}

// QualityReport summarizes protection quality over a feedback window.
type QualityReport struct {
	Samples        int     `json:"samples"`
	TruePositives  int     `json:"true_positives"`
	FalsePositives int     `json:"false_positives"`
	FalseNegatives int     `json:"false_negatives"`
	TrueNegatives  int     `json:"true_negatives"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
}

// Evaluate computes standard classification quality over feedback samples.
// Undefined ratios (no positive predictions, no positive truth) report as
// zero rather than NaN.
func Evaluate(samples []FeedbackSample) QualityReport {
	r := QualityReport{Samples: len(samples)}
	for _, s := range samples {
		switch {
		case s.Predicted && s.Actual:
			r.TruePositives++
		case s.Predicted && !s.Actual:
			r.FalsePositives++
		case !s.Predicted && s.Actual:
			r.FalseNegatives++
		default:
			r.TrueNegatives++
		}
	}

	if r.Samples > 0 {
		r.Accuracy = float64(r.TruePositives+r.TrueNegatives) / float64(r.Samples)
	}
	if predicted := r.TruePositives + r.FalsePositives; predicted > 0 {
		r.Precision = float64(r.TruePositives) / float64(predicted)
	}
	if actual := r.TruePositives + r.FalseNegatives; actual > 0 {
		r.Recall = float64(r.TruePositives) / float64(actual)
	}
	if r.Precision+r.Recall > 0 {
		r.F1 = 2 * r.Precision * r.Recall / (r.Precision + r.Recall)
	}
	return r
}
