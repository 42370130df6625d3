package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var specsPart string

var specsCmd = &cobra.Command{
	Use:   "specs <asin>",
	Short: "Show the latest generated spec bundle for an ASIN",
	Long: `Print the most recent spec bundle: the OEM specification, the QC
checklist, or the supplier RFQ message. Bundles are generated by the
reviews command.`,
	Args: cobra.ExactArgs(1),
	RunE: runSpecs,
}

func init() {
	rootCmd.AddCommand(specsCmd)
	specsCmd.Flags().StringVar(&specsPart, "part", "oem", "Deliverable to print: oem, qc or rfq")
}

func runSpecs(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.requireDB(); err != nil {
		return err
	}

	asin := args[0]
	bundle, err := a.db.Repository().Specs.LatestBundle(context.Background(), asin)
	if err != nil {
		return fmt.Errorf("failed to load spec bundle: %w", err)
	}
	if bundle == nil {
		fmt.Printf("No spec bundle stored for %s. Run: smartacus reviews %s\n", asin, asin)
		return nil
	}

	fmt.Printf("Bundle %s (mapping %s, generated %s, %d reviews)\n\n",
		bundle.InputsHash, bundle.MappingVersion,
		bundle.GeneratedAt.Format("2006-01-02 15:04"), bundle.ReviewsAnalyzed)

	switch specsPart {
	case "oem":
		fmt.Println(bundle.OEMSpec.RenderedText)
	case "qc":
		fmt.Println(bundle.QCChecklist.RenderedText)
	case "rfq":
		fmt.Printf("Subject: %s\n\n%s\n", bundle.RFQMessage.SubjectLine, bundle.RFQMessage.BodyText)
	default:
		return fmt.Errorf("unknown part %q, use oem, qc or rfq", specsPart)
	}
	return nil
}
