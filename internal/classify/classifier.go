// Package classify implements the complexity classifier: one cheap backend
// call that scores a task on complexity and materiality before routing.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/normanking/verity/internal/backend"
	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/task"
)

// Classifier scores tasks using the classifier-role backend.
type Classifier struct {
	registry *backend.Registry
	timeout  time.Duration
	log      *logging.Logger
}

// New creates a classifier. The timeout is kept sub-second; classification
// must stay cheap relative to the tracks it gates.
func New(registry *backend.Registry, timeout time.Duration) *Classifier {
	if timeout == 0 {
		timeout = 800 * time.Millisecond
	}
	return &Classifier{
		registry: registry,
		timeout:  timeout,
		log:      logging.Global().WithComponent("classify"),
	}
}

// classification is the wire format the classifier backend answers with.
type classification struct {
	Complexity  float64 `json:"complexity"`
	Materiality bool    `json:"materiality"`
}

// Classify scores one task. On backend failure the error is returned to the
// orchestrator, which applies the conservative fallback; no fallback happens
// here so call sites can distinguish a real score from a forced one.
func (c *Classifier) Classify(ctx context.Context, t *task.Task) (task.ClassificationResult, error) {
	b, err := c.registry.FirstAvailable(backend.RoleClassifier)
	if err != nil {
		return task.ClassificationResult{}, err
	}

	req := &backend.Request{
		Prompt:      buildPrompt(t),
		MaxTokens:   128,
		Temperature: 0,
	}

	resp, err := c.invokeWithRetry(ctx, b, req)
	if err != nil {
		return task.ClassificationResult{}, err
	}

	var cls classification
	if err := json.Unmarshal([]byte(extractJSON(resp.Output)), &cls); err != nil {
		c.log.Warn("unparseable classifier output for task %s: %v", t.ID, err)
		return task.ClassificationResult{}, fmt.Errorf("%w: classifier output: %v", backend.ErrBackendUnavailable, err)
	}

	return task.ClassificationResult{
		ComplexityScore: clampUnit(cls.Complexity),
		MaterialityFlag: cls.Materiality,
		FeatureDigest:   t.Features.Digest(),
	}, nil
}

// Conservative returns the fallback classification applied when the
// classifier backend cannot be reached: maximum complexity and materiality,
// forcing the most expensive track. Cost-skipping must never happen because
// classification itself failed.
func Conservative(t *task.Task) task.ClassificationResult {
	return task.ClassificationResult{
		ComplexityScore: 1.0,
		MaterialityFlag: true,
		FeatureDigest:   t.Features.Digest(),
		Fallback:        true,
	}
}

// invokeWithRetry calls the backend once, retrying a single time on
// unavailability or timeout.
func (c *Classifier) invokeWithRetry(ctx context.Context, b backend.Backend, req *backend.Request) (*backend.Response, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		resp, err := b.Invoke(callCtx, req)
		cancel()

		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !errors.Is(err, backend.ErrBackendUnavailable) && !errors.Is(err, backend.ErrBackendTimeout) {
			return nil, err
		}
		c.log.Backend(b.ID(), 0, err)
	}
	return nil, lastErr
}

// buildPrompt renders the classification instruction from task features.
// The backend sees feature values, never raw document bytes.
func buildPrompt(t *task.Task) string {
	var sb strings.Builder
	sb.WriteString("Score this filing section for analysis complexity (0-1) and materiality (true/false).\n")
	fmt.Fprintf(&sb, "length=%d numeric_density=%.3f\n", t.Features.Length, t.Features.NumericDensity)
	for name, present := range t.Features.Sections {
		if present {
			fmt.Fprintf(&sb, "section:%s\n", name)
		}
	}
	for name, delta := range t.Features.PriorDeltas {
		fmt.Fprintf(&sb, "delta:%s=%.3f\n", name, delta)
	}
	sb.WriteString(`Respond as JSON: {"complexity": <0-1>, "materiality": <bool>}`)
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

// clampUnit bounds a score to [0,1].
func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
