// Package notify publishes billing events and sensor states for Home
// Assistant dashboards over MQTT.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Feberdin/ha-wallbox-billing/internal/config"
	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// Publisher emits the invoice-sent completion signal and retained baseline
// states to an MQTT broker
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// New connects to the configured MQTT broker
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID("wallbox-billing")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return &Publisher{
		client:      client,
		topicPrefix: cfg.GetTopicPrefix(),
	}, nil
}

// invoiceSentEvent is the completion-signal payload
type invoiceSentEvent struct {
	InstallationID string `json:"installation_id"`
	ConsumptionKWh string `json:"consumption_kwh"`
	TotalCost      string `json:"total_cost"`
	PeriodFrom     string `json:"period_from"`
	PeriodTo       string `json:"period_to"`
	SentAt         string `json:"sent_at"`
}

// InvoiceSent publishes the completion signal for a finished cycle plus
// retained last_reading/last_date states that dashboards read back on
// startup.
func (p *Publisher) InvoiceSent(inst config.Installation, res models.CycleResult, b models.Baseline) error {
	event := invoiceSentEvent{
		InstallationID: inst.ID,
		ConsumptionKWh: res.Consumption.String(),
		TotalCost:      res.TotalCost.String(),
		PeriodFrom:     res.PeriodFrom.Format("2006-01-02"),
		PeriodTo:       res.PeriodTo.Format("2006-01-02"),
		SentAt:         time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	eventTopic := fmt.Sprintf("%s/%s/invoice_sent", p.topicPrefix, inst.ID)
	if token := p.client.Publish(eventTopic, 1, false, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("publishing invoice_sent: %w", token.Error())
	}

	// Retained so dashboards see the latest baseline after reconnecting.
	states := map[string]string{
		"last_billing_reading": b.LastReading.String(),
		"last_billing_date":    b.LastDate.Format("2006-01-02"),
	}
	for name, value := range states {
		topic := fmt.Sprintf("%s/%s/%s", p.topicPrefix, inst.ID, name)
		if token := p.client.Publish(topic, 1, true, value); token.Wait() && token.Error() != nil {
			return fmt.Errorf("publishing %s: %w", name, token.Error())
		}
	}

	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
