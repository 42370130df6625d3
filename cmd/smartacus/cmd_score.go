package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var scoreJSON bool

var scoreCmd = &cobra.Command{
	Use:   "score <asin>",
	Short: "Score one ASIN from its stored snapshots",
	Args:  cobra.ExactArgs(1),
	RunE:  runScore,
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "Output as JSON")
}

func runScore(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	asin := args[0]
	result, opp, err := a.pipeline().ScoreASIN(context.Background(), asin)
	if err != nil {
		return fmt.Errorf("failed to score %s: %w", asin, err)
	}

	if scoreJSON {
		data, err := json.MarshalIndent(map[string]interface{}{
			"score":       result,
			"opportunity": opp,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%s: %d/100 (%s)\n", result.ASIN, result.TotalScore, result.Status)
	if !result.IsValid {
		fmt.Printf("  invalid: %s\n", result.RejectionReason)
		return nil
	}
	fmt.Printf("  window: %d days (%s)\n", result.WindowDays, result.WindowEstimate)

	names := make([]string, 0, len(result.Components))
	for name := range result.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := result.Components[name]
		fmt.Printf("  %-14s %d/%d  %s\n", name, c.Score, c.MaxScore, c.Details)
	}

	if opp != nil {
		fmt.Printf("  economics: final %d, %s window, risk-adjusted $%s/yr\n",
			opp.FinalScore, opp.UrgencyLabel, opp.RiskAdjustedValue.StringFixed(0))
		fmt.Printf("  thesis: %s\n", opp.Thesis)
	}
	return nil
}
