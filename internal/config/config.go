// Package config loads the service configuration from YAML with ${ENV}
// placeholders, after reading an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	EnvPath     = "SPABOOK_CONFIG_PATH"
	DefaultPath = "configs/config.yaml"
)

type Config struct {
	Server struct {
		Port                  int      `yaml:"port"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
		APIKeys               []APIKey `yaml:"api_keys"`
	} `yaml:"server"`

	Database struct {
		Path     string `yaml:"path"`
		SeedPath string `yaml:"seed_path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`

	Notifications struct {
		DefaultLanguage string  `yaml:"default_language"`
		TemplatesPath   string  `yaml:"templates_path"`
		RatePerSecond   float64 `yaml:"rate_per_second"`
		Burst           int     `yaml:"burst"`
		RetryDelays     []int   `yaml:"retry_delays_seconds"`

		Email struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
			From   string `yaml:"from"`
		} `yaml:"email"`

		SMS struct {
			URL    string `yaml:"url"`
			APIKey string `yaml:"api_key"`
			Sender string `yaml:"sender"`
		} `yaml:"sms"`

		Telegram struct {
			BotToken string  `yaml:"bot_token"`
			Admins   []int64 `yaml:"admins"`
		} `yaml:"telegram"`
	} `yaml:"notifications"`

	Reminders struct {
		Enabled              bool `yaml:"enabled"`
		CheckIntervalMinutes int  `yaml:"check_interval_minutes"`
		LookAheadHours       int  `yaml:"look_ahead_hours"`
		MaxConcurrent        int  `yaml:"max_concurrent"`
	} `yaml:"reminders"`

	Reports struct {
		Enabled    bool   `yaml:"enabled"`
		Dir        string `yaml:"dir"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"reports"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		Sheet           string `yaml:"sheet"`
	} `yaml:"sheets"`

	Vouchers struct {
		ValidityMonths int `yaml:"validity_months"`
	} `yaml:"vouchers"`
}

// APIKey grants Role (admin, staff or member) to an x-api-key value. A member
// key with UserID may only act for that user.
type APIKey struct {
	Key    string `yaml:"key"`
	Role   string `yaml:"role"`
	UserID string `yaml:"user_id"`
}

// Load reads path, or SPABOOK_CONFIG_PATH, or configs/config.yaml. A .env file
// in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse expands ${ENV_VAR} placeholders, decodes and applies defaults.
func Parse(data []byte) (*Config, error) {
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/spabook.db"
	}
	if c.Backup.Path == "" {
		c.Backup.Path = "data/backups"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.Notifications.DefaultLanguage == "" {
		c.Notifications.DefaultLanguage = "en"
	}
	if c.Notifications.TemplatesPath == "" {
		c.Notifications.TemplatesPath = "configs/templates.yaml"
	}
	if c.Sheets.Sheet == "" {
		c.Sheets.Sheet = "Ledger"
	}
}

func (c *Config) RequestTimeout() time.Duration {
	if c.Server.RequestTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(c.Server.RequestTimeoutSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) CacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) ReminderInterval() time.Duration {
	if c.Reminders.CheckIntervalMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Reminders.CheckIntervalMinutes) * time.Minute
}

func (c *Config) ReminderLookAhead() time.Duration {
	if c.Reminders.LookAheadHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Reminders.LookAheadHours) * time.Hour
}

// NotificationRetryDelays returns nil when unset so the delivery defaults apply.
func (c *Config) NotificationRetryDelays() []time.Duration {
	if len(c.Notifications.RetryDelays) == 0 {
		return nil
	}
	out := make([]time.Duration, len(c.Notifications.RetryDelays))
	for i, s := range c.Notifications.RetryDelays {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}

// ActiveAPIKeys returns the keys with a value. Keys whose environment
// variable is unset expand to "" and are skipped.
func (c *Config) ActiveAPIKeys() []APIKey {
	var out []APIKey
	for _, k := range c.Server.APIKeys {
		if k.Key != "" {
			out = append(out, k)
		}
	}
	return out
}
