// Package config loads and validates pinch configuration.
//
// DESIGN: One YAML file, typed structs with Validate() methods per section.
// Missing file is not an error: every field has a usable default so the
// daemon runs with zero configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/pinch/internal/pricing"
)

// Config is the root pinch configuration.
type Config struct {
	// DataDir holds the record log, aggregates, and state files.
	DataDir string `yaml:"data_dir"`

	// LogLevel is a zerolog level name (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	Budget        BudgetConfig                `yaml:"budget"`
	Dashboard     DashboardConfig             `yaml:"dashboard"`
	Alerts        AlertConfig                 `yaml:"alerts"`
	Pricing       map[string]pricing.Override `yaml:"pricing"`
	PricingFile   string                      `yaml:"pricing_file"`
	RetentionDays int                         `yaml:"retention_days"`
}

// BudgetConfig holds spend ceilings in USD. Zero means not checked.
type BudgetConfig struct {
	Daily   float64 `yaml:"daily"`
	Weekly  float64 `yaml:"weekly"`
	Monthly float64 `yaml:"monthly"`
}

// Validate checks budget configuration.
func (c *BudgetConfig) Validate() error {
	if c.Daily < 0 {
		return fmt.Errorf("budget.daily must be >= 0, got %f", c.Daily)
	}
	if c.Weekly < 0 {
		return fmt.Errorf("budget.weekly must be >= 0, got %f", c.Weekly)
	}
	if c.Monthly < 0 {
		return fmt.Errorf("budget.monthly must be >= 0, got %f", c.Monthly)
	}
	return nil
}

// Configured reports whether any ceiling is set.
func (c *BudgetConfig) Configured() bool {
	return c.Daily > 0 || c.Weekly > 0 || c.Monthly > 0
}

// DashboardConfig controls the query API / dashboard HTTP server.
type DashboardConfig struct {
	Enabled *bool `yaml:"enabled"` // nil = enabled
	Port    int   `yaml:"port"`
}

// IsEnabled returns the effective enabled flag.
func (c *DashboardConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Validate checks dashboard configuration.
func (c *DashboardConfig) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("dashboard.port must be 0-65535, got %d", c.Port)
	}
	return nil
}

// AlertConfig selects the outbound alert transport.
type AlertConfig struct {
	// Channel is one of "webhook", "telegram", "log" (default).
	Channel    string         `yaml:"channel"`
	WebhookURL string         `yaml:"webhook_url"`
	Telegram   TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds Telegram bot delivery settings.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

// Validate checks alert configuration.
func (c *AlertConfig) Validate() error {
	switch c.Channel {
	case "", "log":
	case "webhook":
		if c.WebhookURL == "" {
			return fmt.Errorf("alerts.webhook_url required for channel webhook")
		}
	case "telegram":
		if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
			return fmt.Errorf("alerts.telegram.bot_token and chat_id required for channel telegram")
		}
	default:
		return fmt.Errorf("alerts.channel must be webhook, telegram, or log, got %q", c.Channel)
	}
	return nil
}

// Load reads YAML config from path, applies defaults, and validates.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.DataDir = filepath.Join(home, ".openclaw", "data", "pinch")
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = DefaultDashboardPort
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = DefaultRetentionDays
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be >= 1, got %d", c.RetentionDays)
	}
	if err := c.Budget.Validate(); err != nil {
		return err
	}
	if err := c.Dashboard.Validate(); err != nil {
		return err
	}
	if err := c.Alerts.Validate(); err != nil {
		return err
	}
	return nil
}
