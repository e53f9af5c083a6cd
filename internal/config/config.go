package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Note      NoteConfig      `yaml:"note"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Server    ServerConfig    `yaml:"server"`
}

// DatabaseConfig configures SQLite storage.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// NoteConfig holds note.com credentials and fetch settings.
type NoteConfig struct {
	AuthToken    string `yaml:"auth_token"`
	SessionToken string `yaml:"session_token"`
	Username     string `yaml:"username"`
	MaxPages     int    `yaml:"max_pages"`
}

// ScheduleConfig configures the periodic sync interval.
type ScheduleConfig struct {
	SyncInterval string `yaml:"sync_interval"`
}

// ParseSyncInterval returns the sync interval as time.Duration.
func (s ScheduleConfig) ParseSyncInterval() time.Duration {
	d, err := time.ParseDuration(s.SyncInterval)
	if err != nil {
		return 6 * time.Hour
	}
	return d
}

// DiscoveryConfig configures RSS article discovery.
type DiscoveryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// AlertsConfig configures alert destinations.
type AlertsConfig struct {
	Slack   SlackConfig   `yaml:"slack"`
	Discord DiscordConfig `yaml:"discord"`
	Webhook WebhookConfig `yaml:"webhook"`
}

// SlackConfig for Slack webhook alerts.
type SlackConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// DiscordConfig for Discord webhook alerts.
type DiscordConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
}

// WebhookConfig for generic webhook alerts.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Secret  string `yaml:"secret"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./notepulse.db"},
		Note:     NoteConfig{MaxPages: 20},
		Schedule: ScheduleConfig{SyncInterval: "6h"},
		Discovery: DiscoveryConfig{
			Enabled: true,
		},
		Alerts: AlertsConfig{},
		Server: ServerConfig{Port: 8080},
	}
}

// Load reads configuration from a YAML file and applies env var overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides overrides config values with environment variables.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("NOTEPULSE_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("NOTE_AUTH_TOKEN"); v != "" {
		cfg.Note.AuthToken = v
	}
	if v := os.Getenv("NOTE_SESSION_TOKEN"); v != "" {
		cfg.Note.SessionToken = v
	}
	if v := os.Getenv("NOTE_USERNAME"); v != "" {
		cfg.Note.Username = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Slack.WebhookURL = v
		cfg.Alerts.Slack.Enabled = true
	}
	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Alerts.Discord.WebhookURL = v
		cfg.Alerts.Discord.Enabled = true
	}
}
