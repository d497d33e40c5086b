package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured installations and their stored baselines",
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	baselines, err := db.List()
	if err != nil {
		return fmt.Errorf("listing baselines: %w", err)
	}

	if len(cfg.Installations) == 0 {
		fmt.Println("No installations configured")
		return nil
	}

	fmt.Printf("%-16s %-24s %-14s %-12s %s\n", "ID", "OWNER", "LAST READING", "LAST DATE", "SCHEDULE")
	for _, inst := range cfg.Installations {
		lastReading := "-"
		lastDate := "never billed"
		if b, ok := baselines[inst.ID]; ok {
			lastReading = b.LastReading.StringFixed(3)
			lastDate = b.LastDate.Format("2006-01-02")
		}
		schedule := inst.Schedule
		if schedule == "" {
			schedule = "-"
		}
		fmt.Printf("%-16s %-24s %-14s %-12s %s\n", inst.ID, inst.OwnerName, lastReading, lastDate, schedule)
	}
	return nil
}
