package metrics

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
)

// RenderTrackStats formats per-track aggregates as an aligned text table.
func RenderTrackStats(stats []TrackStats) string {
	if len(stats) == 0 {
		return "no runs recorded\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tRUNS\tSUCCESS\tAVG LATENCY\tAVG SIGNALS\tESCALATED")
	for _, ts := range stats {
		fmt.Fprintf(w, "%s\t%d\t%.0f%%\t%s\t%.1f\t%.0f%%\n",
			ts.Track, ts.Runs, ts.SuccessRate*100,
			(time.Duration(ts.AvgLatencyMs) * time.Millisecond).Round(time.Millisecond),
			ts.AvgSignals, ts.EscalationRate*100)
	}
	w.Flush()
	return sb.String()
}

// RenderRecentRuns formats recent runs, newest first.
func RenderRecentRuns(runs []TaskRun) string {
	if len(runs) == 0 {
		return "no runs recorded\n"
	}

	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tTRACK\tSIGNALS\tEXCLUDED\tLATENCY\tSTATUS\tWHEN")
	for _, r := range runs {
		status := "ok"
		switch {
		case !r.Success:
			status = "failed"
		case r.Escalated:
			status = "escalated"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			shortID(r.TaskID), r.Track, r.SignalCount, r.ExcludedCount,
			(time.Duration(r.TotalLatencyMs) * time.Millisecond).Round(time.Millisecond),
			status, r.CreatedAt.Format("01-02 15:04"))
	}
	w.Flush()
	return sb.String()
}

// RenderSession formats current-process counters.
func RenderSession(s SessionStats) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "session up %s\n", time.Since(s.StartTime).Round(time.Second))
	fmt.Fprintf(&sb, "  tasks completed:  %d\n", s.TasksCompleted)
	fmt.Fprintf(&sb, "  tasks escalated:  %d\n", s.TasksEscalated)
	fmt.Fprintf(&sb, "  signals emitted:  %d\n", s.SignalsEmitted)
	fmt.Fprintf(&sb, "  backend calls:    %d (%d failed)\n", s.BackendCalls, s.BackendFailures)
	if s.TasksCompleted > 0 {
		avg := time.Duration(s.TotalLatencyMs/int64(s.TasksCompleted)) * time.Millisecond
		fmt.Fprintf(&sb, "  avg task latency: %s\n", avg.Round(time.Millisecond))
	}
	return sb.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
