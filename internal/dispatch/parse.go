package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/task"
)

// executorSignal is the wire format executor backends answer with: a JSON
// array of extracted signals.
type executorSignal struct {
	ID         string   `json:"id"`
	Category   string   `json:"category"`
	Value      *float64 `json:"value,omitempty"`
	Text       string   `json:"text,omitempty"`
	Confidence float64  `json:"confidence"`
}

// opinionSet pairs one backend opinion with the signal it belongs to.
type opinionSet struct {
	SignalID string
	Category task.Category
	Opinion  task.Opinion
}

// parseOpinions decodes a backend response into per-signal opinions. A
// missing per-signal confidence falls back to the response-level one.
func parseOpinions(backendID string, resp *backend.Response) ([]opinionSet, error) {
	raw := extractArray(resp.Output)

	var signals []executorSignal
	if err := json.Unmarshal([]byte(raw), &signals); err != nil {
		return nil, fmt.Errorf("parse %s output: %w", backendID, err)
	}

	out := make([]opinionSet, 0, len(signals))
	for _, s := range signals {
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		conf := s.Confidence
		if conf == 0 {
			conf = resp.RawConfidence
		}
		out = append(out, opinionSet{
			SignalID: s.ID,
			Category: normalizeCategory(s.Category),
			Opinion: task.Opinion{
				BackendID:     backendID,
				Value:         s.Value,
				Text:          s.Text,
				RawConfidence: clampUnit(conf),
			},
		})
	}
	return out, nil
}

// normalizeCategory maps free-form category strings onto the taxonomy,
// defaulting unknown categories to risk so they get logic validation.
func normalizeCategory(s string) task.Category {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "financial":
		return task.CategoryFinancial
	case "sentiment":
		return task.CategorySentiment
	case "management":
		return task.CategoryManagement
	default:
		return task.CategoryRisk
	}
}

// executorPrompt renders the extraction instruction for executor backends.
func executorPrompt(t *task.Task) string {
	var sb strings.Builder
	sb.WriteString("Extract analysis signals from this filing section. ")
	sb.WriteString(`Respond as a JSON array: [{"id": "...", "category": "financial|sentiment|risk|management", "value": <number or null>, "text": "...", "confidence": <0-1>}]`)
	sb.WriteString("\n\n")
	sb.WriteString(t.Document)
	return sb.String()
}

// draftContext renders a fast backend's opinions as context for the deep
// backend on the hybrid track.
func draftContext(fastOps []opinionSet) string {
	if len(fastOps) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Draft signals from a first-pass model (verify and refine):\n")
	for _, op := range fastOps {
		if op.Opinion.Value != nil {
			fmt.Fprintf(&sb, "- %s (%s): %.4f\n", op.SignalID, op.Category, *op.Opinion.Value)
		} else {
			fmt.Fprintf(&sb, "- %s (%s): %s\n", op.SignalID, op.Category, op.Opinion.Text)
		}
	}
	return sb.String()
}

// extractArray pulls the first JSON array out of a possibly chatty response.
func extractArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

// clampUnit bounds a value to [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
