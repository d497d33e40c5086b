package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Feberdin/ha-wallbox-billing/internal/billing"
	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/internal/invoice"
	"github.com/Feberdin/ha-wallbox-billing/internal/mailer"
	"github.com/Feberdin/ha-wallbox-billing/internal/reading"
	"github.com/Feberdin/ha-wallbox-billing/internal/store"
)

var (
	cfgFile string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "wallbox-billing",
	Short: "Bill EV charging costs from a wallbox energy meter",
	Long: `Wallbox Billing computes energy consumption since the last invoice from a
Home Assistant energy sensor, renders a PDF reimbursement invoice and sends it
via SMTP. The billing baseline is stored in a local SQLite database and only
advances after a confirmed send.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database file (default is ./billing.db)")
}

// getConfigPath returns the config file path
func getConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

// getDBPath returns the database file path (local directory)
func getDBPath() string {
	if dbPath != "" {
		return dbPath
	}
	return "billing.db"
}

// loadConfig loads and validates the configuration file
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// openStore opens the baseline database
func openStore() (*store.DB, error) {
	path := getDBPath()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	return store.New(path)
}

// buildEngine wires the billing engine over its collaborators
func buildEngine(cfg *config.Config, db *store.DB) *billing.Engine {
	return billing.New(
		db,
		reading.NewHASource(cfg.HomeAssistant),
		invoice.NewPDFRenderer(),
		mailer.New(cfg.SMTP),
	)
}

// resolveInstallation picks the installation from the command argument, or
// the only configured one when the argument is omitted
func resolveInstallation(cfg *config.Config, args []string) (*config.Installation, error) {
	if len(args) > 0 {
		inst := cfg.Installation(args[0])
		if inst == nil {
			return nil, fmt.Errorf("unknown installation: %s", args[0])
		}
		return inst, nil
	}

	switch len(cfg.Installations) {
	case 0:
		return nil, fmt.Errorf("no installations configured in %s", getConfigPath())
	case 1:
		return &cfg.Installations[0], nil
	default:
		return nil, fmt.Errorf("multiple installations configured, specify an id (see 'wallbox-billing list')")
	}
}
