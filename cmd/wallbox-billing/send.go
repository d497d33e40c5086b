package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send [installation]",
	Short: "Run one billing cycle and email the invoice now",
	Long: `Reads the current meter value, computes consumption and cost since the last
invoice, renders the PDF and sends it to the configured recipient. The stored
baseline only advances when the send succeeds; a failed cycle can simply be
re-triggered later.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
}

func runSend(cmd *cobra.Command, args []string) error {
	fmt.Printf("=== Billing cycle started at %s ===\n", time.Now().Format("2006-01-02 15:04:05 MST"))

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

	fmt.Printf("Billing installation %s (sensor %s)...\n", inst.ID, inst.EnergySensor)
	res, err := engine.RunCycle(context.Background(), *inst)
	if err != nil {
		return fmt.Errorf("billing cycle: %w", err)
	}

	fmt.Printf("✓ Invoice sent to %s\n", inst.RecipientEmail)
	fmt.Printf("  Period:      %s – %s\n",
		res.PeriodFrom.Format("2006-01-02"), res.PeriodTo.Format("2006-01-02"))
	fmt.Printf("  Consumption: %s kWh\n", res.Consumption.StringFixed(3))
	fmt.Printf("  Total cost:  %s EUR\n", res.TotalCost.StringFixed(2))
	return nil
}
