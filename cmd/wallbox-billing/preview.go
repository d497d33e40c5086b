package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var previewOut string

var previewCmd = &cobra.Command{
	Use:   "preview [installation]",
	Short: "Render the invoice PDF to a file without sending it",
	Long: `Runs the read and compute steps of a billing cycle and writes the rendered
PDF to a local file. Nothing is emailed and the baseline is not advanced.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewOut, "out", "", "Output file (default: Wallbox_Abrechnung_<period>.pdf)")
	rootCmd.AddCommand(previewCmd)
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	inst, err := resolveInstallation(cfg, args)
	if err != nil {
		return err
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	pdfBytes, res, err := engine.Preview(context.Background(), *inst)
	if err != nil {
		return fmt.Errorf("rendering preview: %w", err)
	}

	out := previewOut
	if out == "" {
		out = fmt.Sprintf("Wallbox_Abrechnung_%s.pdf", res.PeriodFrom.Format("2006-01"))
	}

	if err := os.WriteFile(out, pdfBytes, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", out, err)
	}

	fmt.Printf("✓ Wrote %s (%d bytes)\n", out, len(pdfBytes))
	fmt.Printf("  Period:      %s – %s\n",
		res.PeriodFrom.Format("2006-01-02"), res.PeriodTo.Format("2006-01-02"))
	fmt.Printf("  Consumption: %s kWh\n", res.Consumption.StringFixed(3))
	fmt.Printf("  Total cost:  %s EUR\n", res.TotalCost.StringFixed(2))
	return nil
}
