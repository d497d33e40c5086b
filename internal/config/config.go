package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Defaults applied by the getters below
const (
	DefaultPricePerKWh = 0.30
	DefaultSMTPPort    = 587
	DefaultTopicPrefix = "wallbox-billing"
	DefaultListenAddr  = ":8099"
)

// Config holds the application configuration
type Config struct {
	Installations []Installation `yaml:"installations"`
	SMTP          SMTPConfig     `yaml:"smtp"`
	HomeAssistant HAConfig       `yaml:"home_assistant"`
	MQTT          MQTTConfig     `yaml:"mqtt,omitempty"`
	Server        ServerConfig   `yaml:"server,omitempty"`
}

// Installation is one configured billing setup: one meter, one owner, one
// recipient. It is read-only for the duration of a billing cycle.
type Installation struct {
	ID             string   `yaml:"id"`
	OwnerName      string   `yaml:"owner_name"`
	MeterNumber    string   `yaml:"meter_number"`
	EnergySensor   string   `yaml:"energy_sensor"`             // e.g., "sensor.wallbox_energy_total"
	RecipientEmail string   `yaml:"recipient_email"`
	PricePerKWh    *float64 `yaml:"price_per_kwh,omitempty"`   // EUR per kWh (fallback: 0.30)
	InitialReading float64  `yaml:"initial_reading,omitempty"` // Meter reading at setup time
	InitialDate    string   `yaml:"initial_date,omitempty"`    // YYYY-MM-DD
	Schedule       string   `yaml:"schedule,omitempty"`        // Cron expression for serve mode
}

// SMTPConfig holds the outgoing mail connection parameters
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port,omitempty"`     // Fallback: 587
	Username  string `yaml:"username,omitempty"` // Empty disables authentication
	Password  string `yaml:"password,omitempty"`
	FromEmail string `yaml:"from_email"`
	UseTLS    *bool  `yaml:"use_tls,omitempty"` // STARTTLS (fallback: true)
	UseSSL    bool   `yaml:"use_ssl,omitempty"` // Implicit TLS
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	URL   string `yaml:"url"`   // e.g., "http://homeassistant.local:8123"
	Token string `yaml:"token"` // Long-lived access token
}

// MQTTConfig holds the broker used for invoice-sent signals and sensor states
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"` // Fallback: "wallbox-billing"
}

// ServerConfig holds serve-mode settings
type ServerConfig struct {
	Listen string `yaml:"listen,omitempty"` // Fallback: ":8099"
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// Validate checks the shared sections and every installation
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for i, inst := range c.Installations {
		if inst.ID == "" {
			return fmt.Errorf("installation %d: id is required", i)
		}
		if seen[inst.ID] {
			return fmt.Errorf("installation %q: duplicate id", inst.ID)
		}
		seen[inst.ID] = true
		if inst.EnergySensor == "" {
			return fmt.Errorf("installation %q: energy_sensor is required", inst.ID)
		}
		if inst.RecipientEmail == "" {
			return fmt.Errorf("installation %q: recipient_email is required", inst.ID)
		}
		if inst.OwnerName == "" {
			return fmt.Errorf("installation %q: owner_name is required", inst.ID)
		}
		if inst.PricePerKWh != nil && *inst.PricePerKWh < 0 {
			return fmt.Errorf("installation %q: price_per_kwh must not be negative", inst.ID)
		}
		if inst.InitialDate != "" {
			if _, err := time.Parse("2006-01-02", inst.InitialDate); err != nil {
				return fmt.Errorf("installation %q: invalid initial_date: %w", inst.ID, err)
			}
		}
		if inst.Schedule != "" {
			if _, err := cron.ParseStandard(inst.Schedule); err != nil {
				return fmt.Errorf("installation %q: invalid schedule: %w", inst.ID, err)
			}
		}
	}
	if c.SMTP.Host == "" {
		return fmt.Errorf("smtp.host is required")
	}
	if c.SMTP.FromEmail == "" {
		return fmt.Errorf("smtp.from_email is required")
	}
	if c.HomeAssistant.URL == "" {
		return fmt.Errorf("home_assistant.url is required")
	}
	if c.HomeAssistant.Token == "" {
		return fmt.Errorf("home_assistant.token is required")
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	return nil
}

// Installation returns the installation with the given id, or nil
func (c *Config) Installation(id string) *Installation {
	for i := range c.Installations {
		if c.Installations[i].ID == id {
			return &c.Installations[i]
		}
	}
	return nil
}

// GetPricePerKWh returns the configured rate with a default of 0.30 EUR.
// An explicit zero is a valid rate (free charging), not "unset".
func (inst *Installation) GetPricePerKWh() float64 {
	if inst.PricePerKWh == nil {
		return DefaultPricePerKWh
	}
	return *inst.PricePerKWh
}

// GetInitialDate returns the parsed initial date, or zero when unset
func (inst *Installation) GetInitialDate() time.Time {
	if inst.InitialDate == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", inst.InitialDate)
	if err != nil {
		return time.Time{}
	}
	return t
}

// GetPort returns the SMTP port with a default of 587
func (s *SMTPConfig) GetPort() int {
	if s.Port <= 0 {
		return DefaultSMTPPort
	}
	return s.Port
}

// GetUseTLS returns whether STARTTLS should be used (default true)
func (s *SMTPConfig) GetUseTLS() bool {
	if s.UseTLS == nil {
		return true
	}
	return *s.UseTLS
}

// GetTopicPrefix returns the MQTT topic prefix with its default
func (m *MQTTConfig) GetTopicPrefix() string {
	if m.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return m.TopicPrefix
}

// GetListen returns the serve-mode listen address with its default
func (s *ServerConfig) GetListen() string {
	if s.Listen == "" {
		return DefaultListenAddr
	}
	return s.Listen
}
