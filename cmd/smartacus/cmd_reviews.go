package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	reviewsFromShortlist bool
	reviewsLimit         int
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews [asin...]",
	Short: "Extract review intelligence and generate spec bundles",
	Long: `Fetch a balanced review sample for each ASIN, extract defect and wish
signals, build the improvement profile, and render the OEM spec bundle.
With --shortlist, the current shortlist and viable opportunities are
analyzed instead of explicit ASINs.`,
	RunE: runReviews,
}

func init() {
	rootCmd.AddCommand(reviewsCmd)
	reviewsCmd.Flags().BoolVar(&reviewsFromShortlist, "shortlist", false, "Analyze the shortlisted ASINs")
	reviewsCmd.Flags().IntVar(&reviewsLimit, "limit", 10, "Max ASINs to analyze with --shortlist")
}

func runReviews(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && !reviewsFromShortlist {
		return fmt.Errorf("provide at least one ASIN or use --shortlist")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	fetcher, err := a.reviewFetcher()
	if err != nil {
		return err
	}

	p := a.pipeline()
	p.SetReviewSource(fetcher)

	ctx := context.Background()
	asins := args
	if reviewsFromShortlist {
		targets, err := p.ReviewTargets(ctx, reviewsLimit)
		if err != nil {
			return fmt.Errorf("failed to resolve review targets: %w", err)
		}
		if len(targets) == 0 {
			fmt.Println("No shortlisted ASINs to analyze. Run the pipeline first.")
			return nil
		}
		asins = append(asins, targets...)
	}

	failed := 0
	for _, asin := range asins {
		intel, err := p.AnalyzeReviews(ctx, asin)
		if err != nil {
			failed++
			log.Error().Err(err).Str("asin", asin).Msg("review analysis failed")
			continue
		}

		fmt.Printf("%s: %d reviews (%d negative), improvement score %.3f\n",
			asin, intel.ReviewsFetched, intel.NegativeReviews, intel.Profile.ImprovementScore)
		if intel.Profile.DominantPain != "" {
			fmt.Printf("  dominant pain: %s\n", intel.Profile.DominantPain)
		}
		for _, d := range intel.Profile.TopDefects {
			fmt.Printf("  defect: %-22s severity %.2f (%d reviews)\n",
				d.DefectType, d.SeverityScore, d.Frequency)
		}
		for _, w := range intel.Profile.MissingFeatures {
			fmt.Printf("  wish:   %q (%d mentions, strength %.1f)\n",
				w.Feature, w.Mentions, w.WishStrength)
		}
		if intel.Bundle != nil {
			fmt.Printf("  spec bundle %s (mapping %s) generated\n",
				intel.Bundle.InputsHash, intel.Bundle.MappingVersion)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d ASINs failed", failed, len(asins))
	}
	return nil
}
