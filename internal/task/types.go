// Package task defines the data model shared by every stage of the Verity
// analysis pipeline: the immutable input Task, the routing artifacts, the
// candidate signals produced by execution, and the validated final signals.
package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TASK
// ═══════════════════════════════════════════════════════════════════════════════

// Task is one document-analysis request. It is created by the ingestion
// collaborator with pre-extracted features and is read-only for the entire
// pipeline; no stage re-derives features from raw document bytes.
type Task struct {
	// ID uniquely identifies the task (UUID assigned at ingestion).
	ID string `json:"id"`

	// Document is the opaque document payload (section text, already parsed).
	Document string `json:"document"`

	// Features are the pre-extracted feature values used for classification
	// and mathematical validation.
	Features FeatureSet `json:"features"`

	// CreatedAt is when the ingestion collaborator created the task.
	CreatedAt time.Time `json:"created_at"`
}

// FeatureSet holds the extracted feature values for a document.
type FeatureSet struct {
	// Length is the document length in characters.
	Length int `json:"length"`

	// Sections flags which well-known sections are present
	// (e.g., "md&a", "risk_factors", "notes").
	Sections map[string]bool `json:"sections"`

	// NumericDensity is the share of numeric tokens in the document (0-1).
	NumericDensity float64 `json:"numeric_density"`

	// PriorDeltas are change indicators against the prior filing,
	// keyed by metric name.
	PriorDeltas map[string]float64 `json:"prior_deltas"`

	// RawFigures are the named figures lifted from the document
	// (e.g., "revenue", "net_income"). The mathematical validation layer
	// recomputes derived quantities from these.
	RawFigures map[string]float64 `json:"raw_figures"`
}

// Digest returns a stable hash of the feature set. Tasks with identical
// features share a digest, which is what makes routing-decision caching safe.
func (f FeatureSet) Digest() string {
	h := sha256.New()
	fmt.Fprintf(h, "len=%d;nd=%.6f;", f.Length, f.NumericDensity)

	keys := make([]string, 0, len(f.Sections))
	for k := range f.Sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "s:%s=%t;", k, f.Sections[k])
	}

	keys = keys[:0]
	for k := range f.PriorDeltas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "d:%s=%.6f;", k, f.PriorDeltas[k])
	}

	keys = keys[:0]
	for k := range f.RawFigures {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(h, "r:%s=%.6f;", k, f.RawFigures[k])
	}

	return hex.EncodeToString(h.Sum(nil))
}

// ═══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION & ROUTING
// ═══════════════════════════════════════════════════════════════════════════════

// ClassificationResult is the Complexity Classifier's judgment of a task.
type ClassificationResult struct {
	// ComplexityScore is the estimated processing difficulty (0-1).
	ComplexityScore float64 `json:"complexity_score"`

	// MaterialityFlag marks tasks whose outcome is financially material.
	// Material tasks always take the Ensemble track.
	MaterialityFlag bool `json:"materiality_flag"`

	// FeatureDigest is the digest of the task's feature set, used as the
	// routing cache key.
	FeatureDigest string `json:"feature_digest"`

	// Fallback is true when the classifier backend could not be reached and
	// the conservative default classification was applied.
	Fallback bool `json:"fallback,omitempty"`
}

// Track is one of the four execution strategies.
type Track int

const (
	// TrackFast is a single cheap backend call. The majority path.
	TrackFast Track = iota

	// TrackDeep is a single call to a deep model for complex documents.
	TrackDeep

	// TrackEnsemble fans out to N backends and joins on quorum.
	// Reserved for material tasks.
	TrackEnsemble

	// TrackHybrid runs a fast backend first, then feeds its output to a
	// deep backend as additional context.
	TrackHybrid
)

// String returns the track name for logs and persistence.
func (t Track) String() string {
	switch t {
	case TrackFast:
		return "fast"
	case TrackDeep:
		return "deep"
	case TrackEnsemble:
		return "ensemble"
	case TrackHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNALS
// ═══════════════════════════════════════════════════════════════════════════════

// Category classifies what a signal is about.
type Category string

const (
	CategoryFinancial  Category = "financial"
	CategorySentiment  Category = "sentiment"
	CategoryRisk       Category = "risk"
	CategoryManagement Category = "management"
)

// Opinion is a single backend's answer for one signal. Ensemble and hybrid
// tracks produce several opinions per signal; they are reconciled into one
// CandidateSignal before validation.
type Opinion struct {
	BackendID     string   `json:"backend_id"`
	Value         *float64 `json:"value,omitempty"`
	Text          string   `json:"text,omitempty"`
	RawConfidence float64  `json:"raw_confidence"`
}

// CandidateSignal is one reconciled signal awaiting validation.
type CandidateSignal struct {
	SignalID string   `json:"signal_id"`
	Category Category `json:"category"`

	// Value is the numeric payload, nil for text-only signals.
	Value *float64 `json:"value,omitempty"`

	// Text is the textual payload or justification.
	Text string `json:"text,omitempty"`

	// SourceBackendID identifies the backend whose answer was kept after
	// reconciliation.
	SourceBackendID string `json:"source_backend_id"`

	// RawConfidence is the minimum confidence across contributing opinions.
	RawConfidence float64 `json:"raw_confidence"`

	// Agreement is the reconciliation agreement ratio (0-1). Always 1.0 for
	// single-backend tracks. This is not a confidence value; GOALIE folds it
	// in separately.
	Agreement float64 `json:"agreement"`

	// Sources retains every contributing backend opinion for audit.
	Sources []Opinion `json:"sources,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// VALIDATION
// ═══════════════════════════════════════════════════════════════════════════════

// Layer identifies which FACT validation layer produced a verdict.
type Layer string

const (
	LayerMath     Layer = "math"
	LayerLogic    Layer = "logic"
	LayerCritical Layer = "critical"
)

// Outcome is a validation layer's judgment of one signal.
type Outcome string

const (
	OutcomePass         Outcome = "pass"
	OutcomeFail         Outcome = "fail"
	OutcomeInconclusive Outcome = "inconclusive"
)

// ValidationVerdict is one layer's judgment of one signal. Verdicts are
// appended, never mutated; a signal accumulates one verdict per layer it
// passed through.
type ValidationVerdict struct {
	Layer    Layer   `json:"layer"`
	SignalID string  `json:"signal_id"`
	Outcome  Outcome `json:"outcome"`

	// Adjustment is the confidence multiplier this verdict contributes,
	// in (0,1]. Pass is always 1.0.
	Adjustment float64 `json:"adjustment"`

	// Detail is an optional human-readable explanation (recomputed values,
	// contradiction description).
	Detail string `json:"detail,omitempty"`

	// Expected carries the independently recomputed value for math-layer
	// verdicts, when one could be derived.
	Expected *float64 `json:"expected,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// RISK
// ═══════════════════════════════════════════════════════════════════════════════

// RiskCategory is the six-way taxonomy of signal risks.
type RiskCategory string

const (
	RiskMisstatement         RiskCategory = "misstatement"
	RiskOverstatement        RiskCategory = "overstatement"
	RiskLegalRegulatory      RiskCategory = "legal-regulatory"
	RiskExtractionError      RiskCategory = "extraction-error"
	RiskHallucinationSuspect RiskCategory = "hallucination-suspected"
	RiskAmbiguousContext     RiskCategory = "ambiguous-context"
)

// Severity grades a risk assessment.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskAssessment flags one risk on one signal.
type RiskAssessment struct {
	SignalID string       `json:"signal_id"`
	Category RiskCategory `json:"category"`
	Severity Severity     `json:"severity"`

	// Reason describes what triggered the assessment.
	Reason string `json:"reason,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// FINAL RESULT
// ═══════════════════════════════════════════════════════════════════════════════

// FinalSignal is the validated, confidence-scored unit persisted and returned.
// Created once by GOALIE and immutable afterwards.
type FinalSignal struct {
	SignalID string   `json:"signal_id"`
	Category Category `json:"category"`
	Value    *float64 `json:"value,omitempty"`
	Text     string   `json:"text,omitempty"`

	// FinalConfidence is never greater than the minimum raw confidence of
	// the contributing candidates times the product of verdict adjustments.
	FinalConfidence float64 `json:"final_confidence"`

	RiskAssessments []RiskAssessment    `json:"risk_assessments,omitempty"`
	Verdicts        []ValidationVerdict `json:"verdicts,omitempty"`
}

// ExcludedSignal records a signal removed from the final set together with
// the reason. No signal is ever dropped silently.
type ExcludedSignal struct {
	Signal CandidateSignal `json:"signal"`
	Reason string          `json:"reason"`
}

// DecisionEntry is one line of the per-task decision log.
type DecisionEntry struct {
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// PipelineResult is the record the Orchestrator emits per task.
type PipelineResult struct {
	TaskID         string           `json:"task_id"`
	FinalSignals   []FinalSignal    `json:"final_signals"`
	Excluded       []ExcludedSignal `json:"excluded,omitempty"`
	DecisionLog    []DecisionEntry  `json:"decision_log"`
	TrackUsed      Track            `json:"-"`
	TrackName      string           `json:"track_used"`
	TotalLatencyMs int64            `json:"total_latency_ms"`

	// Warnings surface degraded-but-returned conditions (classifier
	// fallback, inconclusive validations).
	Warnings []string `json:"warnings,omitempty"`
}
