package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	shortlistJSON bool
	shortlistMax  int
)

var shortlistCmd = &cobra.Command{
	Use:   "shortlist",
	Short: "Show the latest action shortlist",
	RunE:  runShortlist,
}

func init() {
	rootCmd.AddCommand(shortlistCmd)
	shortlistCmd.Flags().BoolVar(&shortlistJSON, "json", false, "Output as JSON")
	shortlistCmd.Flags().IntVar(&shortlistMax, "max", 0, "Show at most N items (0 = all)")
}

func runShortlist(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	list, err := a.db.Repository().Opportunities.LatestShortlist(context.Background())
	if err != nil {
		return fmt.Errorf("failed to load shortlist: %w", err)
	}
	if list == nil {
		fmt.Println("No shortlist generated yet. Run 'smartacus run' first.")
		return nil
	}

	if shortlistMax > 0 && len(list.Items) > shortlistMax {
		list.Items = list.Items[:shortlistMax]
	}

	if shortlistJSON {
		data, err := list.ExportJSON()
		if err != nil {
			return fmt.Errorf("failed to export shortlist: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Print(list.Render())
	return nil
}
