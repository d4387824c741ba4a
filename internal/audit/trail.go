// Package audit writes the append-only decision trail. Every routing
// decision, validation verdict, exclusion, and escalation lands here as one
// JSON line, so a reviewer can reconstruct exactly why a signal was
// published at the confidence it was.
package audit

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/normanking/verity/internal/task"
)

// Trail is the process-wide audit writer. Safe for concurrent use; zerolog
// serializes each event into a single write.
type Trail struct {
	log    zerolog.Logger
	closer io.Closer
}

// New opens (or creates) the audit file at path. An empty path yields a
// no-op trail.
func New(path string) (*Trail, error) {
	if path == "" {
		return &Trail{log: zerolog.Nop()}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return &Trail{
		log:    zerolog.New(f).With().Timestamp().Logger(),
		closer: f,
	}, nil
}

// NewWriter builds a trail over an arbitrary writer. Used by tests.
func NewWriter(w io.Writer) *Trail {
	return &Trail{log: zerolog.New(w).With().Timestamp().Logger()}
}

// Close flushes and closes the underlying file.
func (t *Trail) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

// ForTask returns a recorder whose every event carries the task id.
func (t *Trail) ForTask(taskID string) *Recorder {
	return &Recorder{log: t.log.With().Str("task_id", taskID).Logger()}
}

// Recorder emits audit events for one task.
type Recorder struct {
	log zerolog.Logger
}

// Decision records one pipeline decision.
func (r *Recorder) Decision(e task.DecisionEntry) {
	r.log.Info().
		Str("event", "decision").
		Str("stage", e.Stage).
		Time("at", e.At).
		Msg(e.Message)
}

// Verdict records a validation layer's judgment of a signal.
func (r *Recorder) Verdict(v task.ValidationVerdict) {
	r.log.Info().
		Str("event", "verdict").
		Str("signal_id", v.SignalID).
		Str("layer", string(v.Layer)).
		Str("outcome", string(v.Outcome)).
		Float64("adjustment", v.Adjustment).
		Msg(v.Detail)
}

// Excluded records a signal removed from the final set.
func (r *Recorder) Excluded(e task.ExcludedSignal) {
	r.log.Warn().
		Str("event", "excluded").
		Str("signal_id", e.Signal.SignalID).
		Msg(e.Reason)
}

// Escalated records that the task was pushed to the human-review queue.
func (r *Recorder) Escalated(reason string) {
	r.log.Warn().
		Str("event", "escalated").
		Msg(reason)
}

// Completed records the task's final summary line.
func (r *Recorder) Completed(res *task.PipelineResult) {
	r.log.Info().
		Str("event", "completed").
		Str("track", res.TrackName).
		Int("signals", len(res.FinalSignals)).
		Int("excluded", len(res.Excluded)).
		Int64("latency_ms", res.TotalLatencyMs).
		Strs("warnings", res.Warnings).
		Msg("task completed")
}

// Failed records a terminal pipeline error.
func (r *Recorder) Failed(stage string, err error) {
	r.log.Error().
		Str("event", "failed").
		Str("stage", stage).
		Err(err).
		Msg("task failed")
}
