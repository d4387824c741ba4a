// Package bus provides the event distribution system for the Verity pipeline.
// The orchestrator publishes a progress event after each stage completes so
// consumers get intermediate visibility without polling; the metrics
// collector and result sinks subscribe here.
package bus

import "time"

// EventType identifies what a pipeline event reports.
type EventType string

const (
	// Stage progress events, one per task per stage.
	EventClassificationDone EventType = "classification_done"
	EventExecutionDone      EventType = "execution_done"
	EventValidationDone     EventType = "validation_done"

	// Task lifecycle events.
	EventTaskCompleted EventType = "task_completed"
	EventTaskEscalated EventType = "task_escalated"

	// Backend call telemetry.
	EventBackendCall EventType = "backend_call"
)

// Event is a single pipeline event.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`

	// TaskID scopes the event to one analysis task.
	TaskID string `json:"task_id,omitempty"`

	// Stage names the pipeline stage that emitted the event.
	Stage string `json:"stage,omitempty"`

	// Track is the execution track, once routing has decided it.
	Track string `json:"track,omitempty"`

	// BackendID identifies the backend for backend_call events.
	BackendID string `json:"backend_id,omitempty"`

	// SignalCount is the number of signals the stage produced.
	SignalCount int `json:"signal_count,omitempty"`

	// DurationMs is how long the stage or call took.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// Error carries the failure description for escalation events.
	Error string `json:"error,omitempty"`
}
