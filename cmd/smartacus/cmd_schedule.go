package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/smartacus-io/smartacus/internal/scheduler"
)

var (
	scheduleDaemon bool
	scheduleStatus bool
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled category scans within the token budget",
	Long: `Select the stalest categories that fit the daily token budget and run
the pipeline for each. With --daemon, repeat at the configured interval
until interrupted.`,
	RunE: runSchedule,
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().BoolVar(&scheduleDaemon, "daemon", false, "Keep running at the configured interval")
	scheduleCmd.Flags().BoolVar(&scheduleStatus, "status", false, "Show scheduler config and readiness without running")
}

func runSchedule(cmd *cobra.Command, args []string) error {
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

	repos := a.db.Repository()
	cfg := scheduler.LoadConfig(ctx, repos.Scheduler)
	sched := scheduler.New(cfg, repos.Strategy, a.budget, a.pipeline())
	sched.SetPlanner(a.planner(nil))

	if scheduleStatus {
		ok, reason, err := sched.ShouldRun(ctx)
		if err != nil {
			return fmt.Errorf("failed to check scheduler state: %w", err)
		}
		fmt.Printf("Enabled:            %t\n", cfg.Enabled)
		fmt.Printf("Run interval:       %s\n", cfg.RunInterval)
		fmt.Printf("Min tokens per run: %d\n", cfg.MinTokensPerRun)
		fmt.Printf("Max categories:     %d\n", cfg.MaxCategoriesPerRun)
		fmt.Printf("Max ASINs/category: %d\n", cfg.MaxASINsPerCategory)
		fmt.Printf("Discovery:          %t\n", cfg.DiscoveryEnabled)
		fmt.Printf("Target domains:     %s\n", strings.Join(cfg.TargetDomains, ", "))
		if ok {
			fmt.Println("Ready to run.")
		} else {
			fmt.Printf("Not ready: %s\n", reason)
		}
		return nil
	}

	if scheduleDaemon {
		fmt.Printf("Scheduler daemon running every %s. Ctrl-C to stop.\n", cfg.RunInterval)
		err := sched.StartDaemon(ctx)
		if err == context.Canceled {
			return nil
		}
		return err
	}

	summary, err := sched.Run(ctx)
	if err != nil {
		return fmt.Errorf("scheduled run failed: %w", err)
	}

	fmt.Printf("Scheduled run: %s\n", summary.Status)
	if summary.Reason != "" {
		fmt.Printf("  reason: %s\n", summary.Reason)
	}
	for _, r := range summary.Results {
		state := "ok"
		if !r.Success {
			state = "failed: " + r.Error
		}
		fmt.Printf("  %s (%d): %s, %d tokens, %d opportunities\n",
			r.CategoryName, r.CategoryNodeID, state, r.TokensUsed, r.OpportunitiesFound)
	}
	for _, name := range summary.Activated {
		fmt.Printf("  activated: %s\n", name)
	}
	for _, name := range summary.Deactivated {
		fmt.Printf("  paused: %s\n", name)
	}
	return nil
}
