package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/smartacus-io/smartacus/internal/pipeline"
)

var (
	runSkipIngestion bool
	runSkipEvents    bool
	runMaxASINs      int
	runThreshold     int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute the daily scan pipeline",
	Long: `Run the full daily pipeline: catalog ingestion, event detection,
opportunity scoring, shortlist generation and view maintenance.

Example usage:
  smartacus run                      # Full daily run
  smartacus run --skip-ingestion     # Rescore existing data
  smartacus run --max-asins=200      # Bounded test run`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runSkipIngestion, "skip-ingestion", false, "Skip the Keepa ingestion stage")
	runCmd.Flags().BoolVar(&runSkipEvents, "skip-events", false, "Skip the event detection stage")
	runCmd.Flags().IntVar(&runMaxASINs, "max-asins", 0, "Cap the number of ASINs processed (0 = no cap)")
	runCmd.Flags().IntVar(&runThreshold, "threshold", pipeline.DefaultScoreThreshold, "Minimum score for persisted opportunities")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := a.pipeline()
	p.SetScoreThreshold(runThreshold)

	result, err := p.Run(ctx, pipeline.Options{
		SkipIngestion: runSkipIngestion,
		SkipEvents:    runSkipEvents,
		MaxASINs:      runMaxASINs,
	})
	if err != nil {
		return fmt.Errorf("pipeline failed: %w", err)
	}

	a.metrics.RecordRun(string(result.Status), result.TokensConsumed, result.ASINsProcessed)
	if a.budget != nil {
		if status, err := a.budget.Status(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to read budget status after run")
		} else {
			a.metrics.RecordBudget(status.TokensRemaining, status.UtilizationPct/100)
		}
	}

	fmt.Printf("Run %s finished: %s in %s\n", result.RunID, result.Status, result.Duration().Round(time.Second))
	fmt.Printf("  scored: %d, above threshold: %d, tokens: %d\n",
		result.TotalScored, result.AboveThreshold, result.TokensConsumed)
	for stage, r := range result.Stages {
		fmt.Printf("  %-16s %s (%s)\n", stage, r.Status, r.Duration().Round(time.Millisecond))
	}

	if result.Status == pipeline.StatusFailed {
		return fmt.Errorf("all pipeline stages failed")
	}
	return nil
}
