package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/task"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	return lines
}

func TestRecorderEvents(t *testing.T) {
	var buf bytes.Buffer
	rec := NewWriter(&buf).ForTask("task-7")

	rec.Decision(task.DecisionEntry{Stage: "route", Message: "selected ensemble track", At: time.Now()})
	rec.Verdict(task.ValidationVerdict{
		SignalID: "s1", Layer: task.LayerMath, Outcome: task.OutcomeFail,
		Adjustment: 0.6, Detail: "reported 0.42, recomputed 0.10",
	})
	rec.Excluded(task.ExcludedSignal{
		Signal: task.CandidateSignal{SignalID: "s1"},
		Reason: "critical fail",
	})
	rec.Escalated("quorum not reached")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 4)

	for _, line := range lines {
		assert.Equal(t, "task-7", line["task_id"], "every event carries the task id")
		assert.NotEmpty(t, line["time"])
	}

	assert.Equal(t, "decision", lines[0]["event"])
	assert.Equal(t, "route", lines[0]["stage"])

	assert.Equal(t, "verdict", lines[1]["event"])
	assert.Equal(t, "math", lines[1]["layer"])
	assert.Equal(t, "fail", lines[1]["outcome"])
	assert.Equal(t, 0.6, lines[1]["adjustment"])

	assert.Equal(t, "excluded", lines[2]["event"])
	assert.Equal(t, "s1", lines[2]["signal_id"])

	assert.Equal(t, "escalated", lines[3]["event"])
	assert.Equal(t, "quorum not reached", lines[3]["message"])
}

func TestCompletedSummary(t *testing.T) {
	var buf bytes.Buffer
	rec := NewWriter(&buf).ForTask("task-1")

	rec.Completed(&task.PipelineResult{
		TaskID:         "task-1",
		TrackName:      "hybrid",
		FinalSignals:   []task.FinalSignal{{SignalID: "a"}, {SignalID: "b"}},
		TotalLatencyMs: 412,
		Warnings:       []string{"classifier fallback"},
	})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "completed", lines[0]["event"])
	assert.Equal(t, "hybrid", lines[0]["track"])
	assert.Equal(t, float64(2), lines[0]["signals"])
	assert.Equal(t, float64(412), lines[0]["latency_ms"])
}

func TestFileTrailAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "trail.jsonl")

	trail, err := New(path)
	require.NoError(t, err)
	trail.ForTask("t1").Escalated("first")
	require.NoError(t, trail.Close())

	trail, err = New(path)
	require.NoError(t, err)
	trail.ForTask("t2").Escalated("second")
	require.NoError(t, trail.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(raw, []byte("\n")), "reopening appends, never truncates")
}

func TestEmptyPathIsNoop(t *testing.T) {
	trail, err := New("")
	require.NoError(t, err)
	trail.ForTask("t").Escalated("goes nowhere")
	assert.NoError(t, trail.Close())
}
