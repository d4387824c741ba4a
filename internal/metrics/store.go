// Package metrics provides SQLite-based outcome storage for pipeline runs.
// Recorded runs feed the stats command and the quality feedback loop.
package metrics

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/normanking/verity/internal/goalie"
	"github.com/normanking/verity/internal/task"
)

// ═══════════════════════════════════════════════════════════════════════════════
// OUTCOME TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// TaskRun records one completed (or failed) pipeline run.
type TaskRun struct {
	ID             int64     `json:"id"`
	TaskID         string    `json:"task_id"`
	Track          string    `json:"track"`
	SignalCount    int       `json:"signal_count"`
	ExcludedCount  int       `json:"excluded_count"`
	WarningCount   int       `json:"warning_count"`
	TotalLatencyMs int64     `json:"total_latency_ms"`
	Escalated      bool      `json:"escalated"`
	Success        bool      `json:"success"`
	ErrorMsg       string    `json:"error_msg,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// TrackStats aggregates runs per execution track.
type TrackStats struct {
	Track          string  `json:"track"`
	Runs           int64   `json:"runs"`
	SuccessRate    float64 `json:"success_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	AvgSignals     float64 `json:"avg_signals"`
	EscalationRate float64 `json:"escalation_rate"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// OUTCOME STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store persists run outcomes and signal feedback in SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the database file (and parent directory) and initializes the
// schema.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating metrics directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening metrics database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with a single writer

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting %s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing metrics schema: %w", err)
	}
	return s, nil
}

// NewStore wraps an existing database connection. Used by tests with
// in-memory databases.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initializing metrics schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS task_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		track TEXT NOT NULL,
		signal_count INTEGER DEFAULT 0,
		excluded_count INTEGER DEFAULT 0,
		warning_count INTEGER DEFAULT 0,
		total_latency_ms INTEGER NOT NULL,
		escalated BOOLEAN DEFAULT 0,
		success BOOLEAN NOT NULL,
		error_msg TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_task_runs_created_at ON task_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_task_runs_track ON task_runs(track);

	CREATE TABLE IF NOT EXISTS signal_feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		signal_id TEXT NOT NULL,
		predicted BOOLEAN NOT NULL,
		actual BOOLEAN,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_signal_feedback_task ON signal_feedback(task_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ═══════════════════════════════════════════════════════════════════════════════
// RECORDING
// ═══════════════════════════════════════════════════════════════════════════════

// RecordRun stores one pipeline run outcome.
func (s *Store) RecordRun(run *TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO task_runs (task_id, track, signal_count, excluded_count, warning_count, total_latency_ms, escalated, success, error_msg)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.TaskID, run.Track, run.SignalCount, run.ExcludedCount, run.WarningCount,
		run.TotalLatencyMs, run.Escalated, run.Success, run.ErrorMsg)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	return nil
}

// RecordResult is a convenience wrapper deriving a TaskRun from a pipeline
// result.
func (s *Store) RecordResult(res *task.PipelineResult, escalated bool) error {
	return s.RecordRun(&TaskRun{
		TaskID:         res.TaskID,
		Track:          res.TrackName,
		SignalCount:    len(res.FinalSignals),
		ExcludedCount:  len(res.Excluded),
		WarningCount:   len(res.Warnings),
		TotalLatencyMs: res.TotalLatencyMs,
		Escalated:      escalated,
		Success:        true,
	})
}

// RecordFailure stores a run that ended in a terminal error.
func (s *Store) RecordFailure(taskID, track string, latencyMs int64, err error) error {
	return s.RecordRun(&TaskRun{
		TaskID:         taskID,
		Track:          track,
		TotalLatencyMs: latencyMs,
		Success:        false,
		ErrorMsg:       err.Error(),
	})
}

// RecordPrediction stores the pipeline's published/withheld call on one
// signal, with ground truth unknown until labeled later.
func (s *Store) RecordPrediction(taskID, signalID string, predicted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO signal_feedback (task_id, signal_id, predicted) VALUES (?, ?, ?)
	`, taskID, signalID, predicted)
	if err != nil {
		return fmt.Errorf("recording prediction: %w", err)
	}
	return nil
}

// LabelSignal attaches ground truth to a previously recorded prediction.
func (s *Store) LabelSignal(taskID, signalID string, actual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE signal_feedback SET actual = ? WHERE task_id = ? AND signal_id = ?
	`, actual, taskID, signalID)
	if err != nil {
		return fmt.Errorf("labeling signal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("no prediction recorded for task %s signal %s", taskID, signalID)
	}
	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ═══════════════════════════════════════════════════════════════════════════════

// GetTrackStats aggregates run outcomes per track over the last `days` days.
func (s *Store) GetTrackStats(days int) ([]TrackStats, error) {
	rows, err := s.db.Query(`
		SELECT track,
		       COUNT(*),
		       AVG(CASE WHEN success THEN 1.0 ELSE 0.0 END),
		       AVG(total_latency_ms),
		       AVG(signal_count),
		       AVG(CASE WHEN escalated THEN 1.0 ELSE 0.0 END)
		FROM task_runs
		WHERE created_at >= datetime('now', ?)
		GROUP BY track
		ORDER BY COUNT(*) DESC
	`, fmt.Sprintf("-%d days", days))
	if err != nil {
		return nil, fmt.Errorf("querying track stats: %w", err)
	}
	defer rows.Close()

	var stats []TrackStats
	for rows.Next() {
		var ts TrackStats
		if err := rows.Scan(&ts.Track, &ts.Runs, &ts.SuccessRate, &ts.AvgLatencyMs, &ts.AvgSignals, &ts.EscalationRate); err != nil {
			return nil, fmt.Errorf("scanning track stats: %w", err)
		}
		stats = append(stats, ts)
	}
	return stats, rows.Err()
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]TaskRun, error) {
	rows, err := s.db.Query(`
		SELECT id, task_id, track, signal_count, excluded_count, warning_count,
		       total_latency_ms, escalated, success, COALESCE(error_msg, ''), created_at
		FROM task_runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent runs: %w", err)
	}
	defer rows.Close()

	var runs []TaskRun
	for rows.Next() {
		var r TaskRun
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Track, &r.SignalCount, &r.ExcludedCount,
			&r.WarningCount, &r.TotalLatencyMs, &r.Escalated, &r.Success, &r.ErrorMsg, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// FeedbackSamples returns all labeled predictions for quality evaluation.
func (s *Store) FeedbackSamples() ([]goalie.FeedbackSample, error) {
	rows, err := s.db.Query(`
		SELECT signal_id, predicted, actual FROM signal_feedback WHERE actual IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer rows.Close()

	var samples []goalie.FeedbackSample
	for rows.Next() {
		var fs goalie.FeedbackSample
		if err := rows.Scan(&fs.SignalID, &fs.Predicted, &fs.Actual); err != nil {
			return nil, fmt.Errorf("scanning feedback: %w", err)
		}
		samples = append(samples, fs)
	}
	return samples, rows.Err()
}
