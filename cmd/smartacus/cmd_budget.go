package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show the monthly Keepa token budget",
	RunE:  runBudget,
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}

func runBudget(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	ctx := context.Background()
	status, err := a.budget.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to load budget status: %w", err)
	}
	daily, err := a.budget.DailyBudget(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute daily budget: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Month\t%s\n", status.Month)
	fmt.Fprintf(w, "Monthly limit\t%d\n", status.MonthlyLimit)
	fmt.Fprintf(w, "Tokens used\t%d (%.1f%%)\n", status.TokensUsed, status.UtilizationPct)
	fmt.Fprintf(w, "Tokens remaining\t%d\n", status.TokensRemaining)
	fmt.Fprintf(w, "Daily budget\t%d\n", daily)
	fmt.Fprintf(w, "Discovery allocation\t%d\n", status.DiscoveryBudget)
	fmt.Fprintf(w, "Scanning allocation\t%d\n", status.ScanningBudget)
	fmt.Fprintf(w, "Runs completed\t%d\n", status.RunsCompleted)
	fmt.Fprintf(w, "Categories scanned\t%d\n", status.CategoriesScanned)
	fmt.Fprintf(w, "Opportunities found\t%d\n", status.OpportunitiesFound)
	fmt.Fprintf(w, "Bucket tokens left\t%d\n", a.keepa.TokensLeft())
	return w.Flush()
}
