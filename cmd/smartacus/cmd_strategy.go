package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/smartacus-io/smartacus/internal/strategy"
)

var (
	strategyDomainID int
	strategyBudget   int
)

// fixedBudget overrides the ledger-derived cycle budget.
type fixedBudget int

func (f fixedBudget) DailyBudget(_ context.Context) (int, error) {
	return int(f), nil
}

var strategyCmd = &cobra.Command{
	Use:   "strategy",
	Short: "Run an allocation cycle over the category portfolio",
	Long: `Score every tracked category on yield, density and freshness, split the
daily token budget 70/20/10 across exploit, explore and reserve, and
persist the decision. Identical portfolios reuse the cached decision.`,
	RunE: runStrategy,
}

func init() {
	rootCmd.AddCommand(strategyCmd)
	strategyCmd.Flags().IntVar(&strategyDomainID, "domain", 0, "Keepa domain ID (default from config)")
	strategyCmd.Flags().IntVar(&strategyBudget, "budget", 0, "Override the cycle token budget (0 = from ledger)")
}

func runStrategy(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	domainID := strategyDomainID
	if domainID == 0 {
		domainID = a.cfg.Strategy.DomainID
	}

	var tokens strategy.TokenSource
	if strategyBudget > 0 {
		tokens = fixedBudget(strategyBudget)
	}

	decision, err := a.planner(tokens).RunCycle(context.Background(), domainID)
	if err != nil {
		return fmt.Errorf("allocation cycle failed: %w", err)
	}

	fmt.Printf("Cycle %s (domain %s, budget %d tokens)\n",
		decision.CycleID, strategy.DomainName(domainID), decision.BudgetTotal)
	fmt.Printf("  exploit: %d, explore: %d, reserve: %d\n",
		decision.BudgetExploit, decision.BudgetExplore, decision.BudgetReserve)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NICHE\tSTATUS\tSCORE\tTOKENS\tASINS\tREASON")
	for _, as := range decision.Assessments {
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%d\t%d\t%s\n",
			as.Name, as.Status, as.Score, as.Tokens, as.MaxASINs, as.Justification)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, note := range decision.RiskNotes {
		fmt.Printf("  note: %s\n", note)
	}
	return nil
}
