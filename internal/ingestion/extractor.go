// Package ingestion turns raw filing documents into analysis tasks. It
// extracts the structural features the classifier and the math validation
// layer work from: document length, known sections, numeric density, and
// the raw figures table when a sidecar provides one.
package ingestion

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/normanking/verity/internal/task"
)

var (
	numberRe = regexp.MustCompile(`-?\$?\d[\d,]*(\.\d+)?%?`)
	tokenRe  = regexp.MustCompile(`\S+`)
)

// sectionMarkers maps well-known filing sections to the phrases that mark
// them. Matching is case-insensitive over the whole document.
var sectionMarkers = map[string][]string{
	"md&a":         {"management's discussion and analysis", "md&a"},
	"risk_factors": {"risk factors"},
	"notes":        {"notes to consolidated financial statements", "notes to financial statements"},
	"controls":     {"controls and procedures"},
	"legal":        {"legal proceedings"},
}

// Sidecar is the optional companion file carrying structured data the
// document itself only renders: tabulated figures and prior-period deltas.
type Sidecar struct {
	RawFigures  map[string]float64 `json:"raw_figures"`
	PriorDeltas map[string]float64 `json:"prior_deltas"`
}

// NewTask builds a task from document text and an optional sidecar.
func NewTask(document string, sidecar *Sidecar) *task.Task {
	t := &task.Task{
		ID:        uuid.NewString(),
		Document:  document,
		Features:  ExtractFeatures(document),
		CreatedAt: time.Now(),
	}
	if sidecar != nil {
		t.Features.RawFigures = sidecar.RawFigures
		t.Features.PriorDeltas = sidecar.PriorDeltas
	}
	return t
}

// LoadTask reads a document file and, when sidecarPath is non-empty, its
// structured sidecar.
func LoadTask(docPath, sidecarPath string) (*task.Task, error) {
	document, err := os.ReadFile(docPath)
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}

	var sidecar *Sidecar
	if sidecarPath != "" {
		raw, err := os.ReadFile(sidecarPath)
		if err != nil {
			return nil, fmt.Errorf("reading sidecar: %w", err)
		}
		sidecar = &Sidecar{}
		if err := json.Unmarshal(raw, sidecar); err != nil {
			return nil, fmt.Errorf("parsing sidecar: %w", err)
		}
	}

	return NewTask(string(document), sidecar), nil
}

// ExtractFeatures computes structural features from document text.
func ExtractFeatures(document string) task.FeatureSet {
	tokens := tokenRe.FindAllString(document, -1)

	numeric := 0
	for _, tok := range tokens {
		if numberRe.MatchString(tok) {
			numeric++
		}
	}
	density := 0.0
	if len(tokens) > 0 {
		density = float64(numeric) / float64(len(tokens))
	}

	lower := strings.ToLower(document)
	sections := make(map[string]bool)
	for name, markers := range sectionMarkers {
		for _, m := range markers {
			if strings.Contains(lower, m) {
				sections[name] = true
				break
			}
		}
	}

	return task.FeatureSet{
		Length:         len(document),
		Sections:       sections,
		NumericDensity: density,
	}
}

// ParseFigure parses one rendered figure ("$1,234.5", "12.3%") into a
// float. Percentages stay in percent units.
func ParseFigure(s string) (float64, error) {
	clean := strings.NewReplacer("$", "", ",", "", "%", "").Replace(strings.TrimSpace(s))
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, fmt.Errorf("unparseable figure %q: %w", s, err)
	}
	return v, nil
}
