// Package config handles configuration management with validation for
// the pivot-ratio trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration structure loaded from YAML.
type Config struct {
	Trading   TradingConfig   `yaml:"trading"`
	Broker    BrokerConfig    `yaml:"broker"`
	Storage   StorageConfig   `yaml:"storage"`
	System    SystemConfig    `yaml:"system"`
	Timing    TimingConfig    `yaml:"timing"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerting  AlertingConfig  `yaml:"alerting"`
}

// AlertingConfig wires the optional fatal-error notification channels
// (spec.md §4.12). Every field left empty simply disables that channel.
type AlertingConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// TradingConfig holds the parameters named in spec.md §6.
type TradingConfig struct {
	Market           string  `yaml:"market" validate:"required"`
	Pivot            float64 `yaml:"pivot" validate:"required,gt=0"`
	MinNotional      float64 `yaml:"min_notional"`
	ProfitThreshold  float64 `yaml:"profit_threshold"`
}

// BrokerConfig holds exchange credentials; these are opaque to the
// trading core (spec.md §6 — "credentials for the broker").
type BrokerConfig struct {
	APIKey    Secret `yaml:"api_key" validate:"required"`
	SecretKey Secret `yaml:"secret_key" validate:"required"`
	BaseURL   string `yaml:"base_url"`

	// FeedURL is optional: a websocket endpoint for the advisory price
	// feed (spec.md §4.11). Left empty, the engine runs on
	// Broker.CurrentPrice/GetOrders alone.
	FeedURL string `yaml:"feed_url"`
}

// StorageConfig points at the PivotStore/HistoryStore backing files.
type StorageConfig struct {
	Driver string `yaml:"driver" validate:"oneof=memory sqlite"`
	DSN    string `yaml:"dsn"`
}

// SystemConfig contains system-level settings.
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// TimingConfig contains the engine's polling and retry cadences.
type TimingConfig struct {
	OrderPollIntervalMS   int `yaml:"order_poll_interval_ms" validate:"min=1"`
	RateLimitRetryDelayMS int `yaml:"rate_limit_retry_delay_ms" validate:"min=1"`
	BrokerMaxRetries      int `yaml:"broker_max_retries" validate:"min=1,max=10"`
	BrokerRetryDelayMS    int `yaml:"broker_retry_delay_ms" validate:"min=1"`
}

// OrderPollInterval returns order_poll_interval_ms as a duration. The
// engine does not read it: its order poll is the fixed one-second
// pollInterval in internal/engine.
func (t TimingConfig) OrderPollInterval() time.Duration {
	return time.Duration(t.OrderPollIntervalMS) * time.Millisecond
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTracing bool `yaml:"enable_tracing"`
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Trading.Market == "" {
		errs = append(errs, "trading.market is required")
	}
	if c.Trading.Pivot <= 0 {
		errs = append(errs, "trading.pivot must be positive")
	}
	if c.Trading.MinNotional <= 0 {
		errs = append(errs, "trading.min_notional must be positive")
	}
	if c.Trading.ProfitThreshold <= 0 || c.Trading.ProfitThreshold >= 1 {
		errs = append(errs, "trading.profit_threshold must be in (0, 1)")
	}
	if c.Broker.APIKey == "" {
		errs = append(errs, "broker.api_key is required")
	}
	if c.Broker.SecretKey == "" {
		errs = append(errs, "broker.secret_key is required")
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		errs = append(errs, fmt.Sprintf("system.log_level must be one of: %s", strings.Join(validLevels, ", ")))
	}

	if c.Storage.Driver != "memory" && c.Storage.Driver != "sqlite" {
		errs = append(errs, "storage.driver must be one of: memory, sqlite")
	}
	if c.Storage.Driver == "sqlite" && c.Storage.DSN == "" {
		errs = append(errs, "storage.dsn is required when storage.driver is sqlite")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

// String returns a string representation of the configuration with
// sensitive data redacted (Secret.MarshalYAML does this).
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing.
func DefaultConfig() *Config {
	return &Config{
		Trading: TradingConfig{
			Market:          "KRW-XRP",
			Pivot:           1000,
			MinNotional:     5000,
			ProfitThreshold: 0.005,
		},
		Broker: BrokerConfig{
			APIKey:    "test_api_key",
			SecretKey: "test_secret_key",
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
		Timing: TimingConfig{
			OrderPollIntervalMS:   1000,
			RateLimitRetryDelayMS: 500,
			BrokerMaxRetries:      3,
			BrokerRetryDelayMS:    1000,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
			EnableTracing: false,
		},
	}
}
