package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/smartacus-io/smartacus/internal/ops"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read-only ops HTTP API",
	Long: `Expose health, budget, shortlist, opportunities, recent runs and
Prometheus metrics over HTTP. The API is read-only.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := a.cfg.Server
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var budgetSrc ops.BudgetSource
	if a.budget != nil {
		budgetSrc = a.budget
	}

	server := ops.NewServer(cfg, a.db.Repository(), a.db.Health(), budgetSrc, a.keepa, prometheus.DefaultGatherer)

	fmt.Printf("Ops server on %s. Ctrl-C to stop.\n", cfg.ListenAddr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ops server failed: %w", err)
	}
	return nil
}
