// Package main is the entry point for the Verity CLI. Verity analyzes
// financial filing documents through a multi-backend pipeline with
// arithmetic and logical validation and conservative confidence scoring.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/normanking/verity/internal/config"
	"github.com/normanking/verity/internal/goalie"
	"github.com/normanking/verity/internal/ingestion"
	"github.com/normanking/verity/internal/logging"
	"github.com/normanking/verity/internal/metrics"
	"github.com/normanking/verity/internal/pipeline"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "verity",
		Short:         "Validated financial filing analysis",
		Long:          "Verity routes filing sections across model backends, validates every extracted signal, and publishes only what it can stand behind.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.verity/config.yaml)")

	root.AddCommand(
		analyzeCmd(&configPath),
		statsCmd(&configPath),
		labelCmd(&configPath),
		qualityCmd(&configPath),
		versionCmd(),
	)
	return root
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	if cfg.Logging.File != "" {
		if ferr := logging.Global().SetFileOutput(cfg.Logging.File); ferr != nil {
			logging.Global().Warn("log file unavailable: %v", ferr)
		}
	}
	return cfg, nil
}

func analyzeCmd(configPath *string) *cobra.Command {
	var (
		sidecarPath string
		asJSON      bool
		session     bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "analyze <document>",
		Short: "Run one document through the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			sys, err := pipeline.Build(cfg)
			if err != nil {
				return err
			}
			defer sys.Close()

			t, err := ingestion.LoadTask(args[0], sidecarPath)
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if timeout > 0 {
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			res, err := sys.Orchestrator.Run(ctx, t)
			if err != nil {
				if pending := sys.Queue.Drain(); len(pending) > 0 {
					fmt.Fprintf(os.Stderr, "%d escalation(s) pending human review\n", len(pending))
				}
				return err
			}

			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			printResult(res)
			if session {
				fmt.Print(metrics.RenderSession(sys.Collector.GetSessionStats()))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&sidecarPath, "sidecar", "", "JSON sidecar with raw figures and prior deltas")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the full result as JSON")
	cmd.Flags().BoolVar(&session, "session", false, "print session backend-call counters after the run")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "overall task timeout (0 disables)")
	return cmd
}

func statsCmd(configPath *string) *cobra.Command {
	var (
		days   int
		recent int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded run outcomes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := metrics.Open(cfg.Metrics.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			tracks, err := store.GetTrackStats(days)
			if err != nil {
				return err
			}
			fmt.Print(metrics.RenderTrackStats(tracks))

			if recent > 0 {
				runs, err := store.RecentRuns(recent)
				if err != nil {
					return err
				}
				fmt.Println()
				fmt.Print(metrics.RenderRecentRuns(runs))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "aggregation window in days")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent runs to list (0 disables)")
	return cmd
}

func labelCmd(configPath *string) *cobra.Command {
	var correct bool

	cmd := &cobra.Command{
		Use:   "label <task-id> <signal-id>",
		Short: "Attach ground truth to a published or withheld signal",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := metrics.Open(cfg.Metrics.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			return store.LabelSignal(args[0], args[1], correct)
		},
	}

	cmd.Flags().BoolVar(&correct, "correct", true, "whether the signal was confirmed correct")
	return cmd
}

func qualityCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "quality",
		Short: "Evaluate protection quality over labeled feedback",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			store, err := metrics.Open(cfg.Metrics.DBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			samples, err := store.FeedbackSamples()
			if err != nil {
				return err
			}
			report := goalie.Evaluate(samples)
			if report.Samples == 0 {
				fmt.Println("no labeled feedback yet")
				return nil
			}
			fmt.Printf("samples:   %d\n", report.Samples)
			fmt.Printf("accuracy:  %.3f\n", report.Accuracy)
			fmt.Printf("precision: %.3f\n", report.Precision)
			fmt.Printf("recall:    %.3f\n", report.Recall)
			fmt.Printf("f1:        %.3f\n", report.F1)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("verity", version)
		},
	}
}
