package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status [installation]",
	Short: "Show the billing baseline and accrued consumption",
	Long: `Shows the stored (or configured initial) baseline together with the live
meter reading and the consumption and cost accrued since the last invoice.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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
	st, err := engine.Status(context.Background(), *inst)
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	fmt.Printf("Installation:       %s (%s)\n", inst.ID, inst.OwnerName)
	fmt.Printf("Meter:              %s\n", inst.MeterNumber)
	fmt.Printf("Last billed:        %s at %s kWh\n",
		st.LastDate.Format("2006-01-02"), st.LastReading.StringFixed(3))

	if st.Current == nil {
		fmt.Printf("Current reading:    unavailable (sensor %s)\n", inst.EnergySensor)
		return nil
	}

	fmt.Printf("Current reading:    %s kWh\n", st.Current.StringFixed(3))
	fmt.Printf("Since last invoice: %s kWh / %s EUR (at %.4f EUR/kWh)\n",
		st.Consumption.StringFixed(3), st.Cost.StringFixed(2), inst.GetPricePerKWh())
	return nil
}
