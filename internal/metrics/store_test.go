package metrics

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/verity/internal/task"
)

func memoryStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryRuns(t *testing.T) {
	s := memoryStore(t)

	require.NoError(t, s.RecordRun(&TaskRun{
		TaskID: "t1", Track: "fast", SignalCount: 3, TotalLatencyMs: 120, Success: true,
	}))
	require.NoError(t, s.RecordRun(&TaskRun{
		TaskID: "t2", Track: "fast", SignalCount: 1, TotalLatencyMs: 80, Success: true, Escalated: true,
	}))
	require.NoError(t, s.RecordFailure("t3", "ensemble", 5000, errors.New("quorum not reached")))

	stats, err := s.GetTrackStats(7)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byTrack := map[string]TrackStats{}
	for _, ts := range stats {
		byTrack[ts.Track] = ts
	}

	fast := byTrack["fast"]
	assert.Equal(t, int64(2), fast.Runs)
	assert.InDelta(t, 1.0, fast.SuccessRate, 1e-9)
	assert.InDelta(t, 100, fast.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.5, fast.EscalationRate, 1e-9)

	ensemble := byTrack["ensemble"]
	assert.Equal(t, int64(1), ensemble.Runs)
	assert.InDelta(t, 0.0, ensemble.SuccessRate, 1e-9)

	runs, err := s.RecentRuns(2)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, "quorum not reached", runs[0].ErrorMsg)
}

func TestRecordResult(t *testing.T) {
	s := memoryStore(t)

	v := 1.5
	res := &task.PipelineResult{
		TaskID:         "t1",
		TrackName:      "hybrid",
		FinalSignals:   []task.FinalSignal{{SignalID: "a", Value: &v}},
		Excluded:       []task.ExcludedSignal{{Reason: "x"}},
		Warnings:       []string{"w"},
		TotalLatencyMs: 900,
	}
	require.NoError(t, s.RecordResult(res, true))

	runs, err := s.RecentRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].SignalCount)
	assert.Equal(t, 1, runs[0].ExcludedCount)
	assert.Equal(t, 1, runs[0].WarningCount)
	assert.True(t, runs[0].Escalated)
	assert.True(t, runs[0].Success)
}

func TestFeedbackLifecycle(t *testing.T) {
	s := memoryStore(t)

	require.NoError(t, s.RecordPrediction("t1", "sig-a", true))
	require.NoError(t, s.RecordPrediction("t1", "sig-b", false))

	samples, err := s.FeedbackSamples()
	require.NoError(t, err)
	assert.Empty(t, samples, "unlabeled predictions are excluded")

	require.NoError(t, s.LabelSignal("t1", "sig-a", true))
	require.NoError(t, s.LabelSignal("t1", "sig-b", true))

	samples, err = s.FeedbackSamples()
	require.NoError(t, err)
	require.Len(t, samples, 2)

	err = s.LabelSignal("t1", "missing", true)
	assert.Error(t, err, "labeling an unrecorded prediction errors")
}

func TestOpenCreatesFile(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "nested", "metrics.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.RecordRun(&TaskRun{TaskID: "t", Track: "fast", TotalLatencyMs: 1, Success: true}))
}
