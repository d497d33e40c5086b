package main

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

var (
	resetReading string
	resetDate    string
)

var resetCmd = &cobra.Command{
	Use:   "reset [installation]",
	Short: "Delete or reseed the stored billing baseline",
	Long: `Administrative baseline maintenance. Without flags the stored baseline is
deleted, so the next cycle bootstraps from the configured initial values.
With --reading (and optionally --date) the baseline is overwritten instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReset,
}

func init() {
	resetCmd.Flags().StringVar(&resetReading, "reading", "", "Seed the baseline with this meter reading (kWh)")
	resetCmd.Flags().StringVar(&resetDate, "date", "", "Baseline date for --reading (YYYY-MM-DD, default: today)")
	rootCmd.AddCommand(resetCmd)
}

func runReset(cmd *cobra.Command, args []string) error {
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

	if resetReading == "" {
		if resetDate != "" {
			return fmt.Errorf("--date requires --reading")
		}
		if err := db.Delete(inst.ID); err != nil {
			return fmt.Errorf("deleting baseline: %w", err)
		}
		fmt.Printf("✓ Baseline for %s deleted; next cycle uses the configured initial values\n", inst.ID)
		return nil
	}

	value, err := decimal.NewFromString(resetReading)
	if err != nil {
		return fmt.Errorf("invalid --reading: %w", err)
	}

	date := time.Now()
	if resetDate != "" {
		date, err = time.Parse("2006-01-02", resetDate)
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	b := models.Baseline{LastReading: value, LastDate: date}
	if err := db.Save(inst.ID, b); err != nil {
		return fmt.Errorf("saving baseline: %w", err)
	}

	fmt.Printf("✓ Baseline for %s set to %s kWh on %s\n",
		inst.ID, value.StringFixed(3), date.Format("2006-01-02"))
	return nil
}
