package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/normanking/verity/internal/task"
)

// printResult renders a pipeline result for terminal consumption.
func printResult(res *task.PipelineResult) {
	fmt.Printf("task %s  track=%s  latency=%s\n\n",
		res.TaskID, res.TrackName,
		(time.Duration(res.TotalLatencyMs) * time.Millisecond).Round(time.Millisecond))

	if len(res.FinalSignals) == 0 {
		fmt.Println("no signals published")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SIGNAL\tCATEGORY\tVALUE\tCONFIDENCE\tRISKS")
		for _, s := range res.FinalSignals {
			value := "-"
			if s.Value != nil {
				value = fmt.Sprintf("%.4f", *s.Value)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n",
				s.SignalID, s.Category, value, s.FinalConfidence, riskSummary(s.RiskAssessments))
		}
		w.Flush()
	}

	for _, ex := range res.Excluded {
		fmt.Printf("excluded %s: %s\n", ex.Signal.SignalID, ex.Reason)
	}
	for _, warn := range res.Warnings {
		fmt.Printf("warning: %s\n", warn)
	}
}

func riskSummary(risks []task.RiskAssessment) string {
	if len(risks) == 0 {
		return "-"
	}
	parts := make([]string, len(risks))
	for i, r := range risks {
		parts[i] = fmt.Sprintf("%s/%s", r.Category, r.Severity)
	}
	return strings.Join(parts, ",")
}
