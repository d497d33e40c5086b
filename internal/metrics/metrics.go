// Package metrics exposes Prometheus collectors for billing cycles.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

var (
	cyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wallbox_billing_cycles_total",
			Help: "Billing cycles by installation and outcome.",
		},
		[]string{"installation", "result"},
	)
	cycleDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wallbox_billing_cycle_duration_seconds",
			Help:    "End-to-end billing cycle latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"installation"},
	)
	lastConsumptionKWh = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallbox_billing_last_consumption_kwh",
			Help: "Consumption billed by the most recent successful cycle.",
		},
		[]string{"installation"},
	)
	lastCostEUR = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "wallbox_billing_last_cost_eur",
			Help: "Total cost billed by the most recent successful cycle.",
		},
		[]string{"installation"},
	)
)

// ObserveCycle records the outcome and duration of one billing cycle
func ObserveCycle(installation, result string, dur time.Duration) {
	cyclesTotal.WithLabelValues(installation, result).Inc()
	cycleDurationSeconds.WithLabelValues(installation).Observe(dur.Seconds())
}

// ObserveResult records the billed amounts of a successful cycle
func ObserveResult(installation string, res models.CycleResult) {
	consumption, _ := res.Consumption.Float64()
	cost, _ := res.TotalCost.Float64()
	lastConsumptionKWh.WithLabelValues(installation).Set(consumption)
	lastCostEUR.WithLabelValues(installation).Set(cost)
}
