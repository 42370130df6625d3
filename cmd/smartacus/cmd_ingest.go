package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/smartacus-io/smartacus/internal/ingest"
)

var (
	ingestASINs    string
	ingestForce    bool
	ingestMaxASINs int
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run catalog ingestion only",
	Long: `Pull fresh catalog data from Keepa without scoring: discovery,
criteria filtering, batched product fetches and snapshot writes.

Example usage:
  smartacus ingest                              # Full daily ingestion
  smartacus ingest --asins=B0ABC,B0DEF --force  # Refresh specific ASINs`,
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringVar(&ingestASINs, "asins", "", "Comma-separated ASINs to ingest (skips discovery)")
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false, "Ingest even when snapshots are fresh")
	ingestCmd.Flags().IntVar(&ingestMaxASINs, "max-asins", 0, "Cap the number of ASINs processed (0 = no cap)")
}

func runIngest(cmd *cobra.Command, args []string) error {
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

	ing := a.ingester()

	var result *ingest.Result
	if ingestASINs != "" {
		asins := strings.Split(ingestASINs, ",")
		result, err = ing.RunIncremental(ctx, asins, ingestForce)
	} else {
		result, err = ing.RunDaily(ctx, ingest.Options{MaxASINs: ingestMaxASINs})
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}

	fmt.Printf("Batch %s finished in %s\n", result.BatchID, result.Duration().Round(time.Second))
	fmt.Printf("  discovered: %d, requested: %d, processed: %d, skipped: %d\n",
		result.ASINsDiscovered, result.ASINsRequested, result.ASINsProcessed, result.ASINsSkipped)
	fmt.Printf("  snapshots: %d, tokens used: %d, tokens left: %d\n",
		result.SnapshotsInserted, result.TokensConsumed, result.TokensRemaining)
	if result.Failed() > 0 {
		fmt.Printf("  failed ASINs: %d\n", result.Failed())
		for _, e := range result.Errors {
			fmt.Printf("    %s [%s]: %s\n", e.ASIN, e.Kind, e.Message)
		}
	}
	return nil
}
