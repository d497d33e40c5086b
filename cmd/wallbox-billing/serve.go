package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/internal/notify"
	"github.com/Feberdin/ha-wallbox-billing/internal/server"
)

var (
	serveListen string
	serveDebug  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as a daemon with an HTTP API and invoice schedules",
	Long: `Runs the billing engine as a long-lived service. Cycles can be triggered via
POST /api/v1/installations/{id}/invoice or by per-installation cron schedules
from the config file. Exposes /metrics for Prometheus and reloads the config
file when it changes on disk.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides config, default :8099)")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable debug logging")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if serveDebug {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	db, err := openStore()
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	engine := buildEngine(cfg, db)
	engine.SetLogger(log)

	if cfg.MQTT.Enabled {
		pub, err := notify.New(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer pub.Close()
		engine.SetNotifier(pub)
		log.WithField("broker", cfg.MQTT.Broker).Info("MQTT completion signals enabled")
	}

	srv := server.New(cfg, engine, log)

	watcher, err := config.NewWatcher(getConfigPath(), log, func(newCfg *config.Config) {
		if serveListen != "" {
			newCfg.Server.Listen = serveListen
		}
		srv.UpdateConfig(newCfg)
	})
	if err != nil {
		log.WithError(err).Warn("config hot reload disabled")
	} else {
		defer watcher.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("installations", len(cfg.Installations)).Info("wallbox-billing daemon starting")
	return srv.Start(ctx)
}
