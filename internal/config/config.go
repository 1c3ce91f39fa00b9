package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// PlaceholderDeploymentID marks an endpoint URL copied from the sample config.
const PlaceholderDeploymentID = "YOUR_DEPLOYMENT_ID_HERE"

// ErrEndpointMisconfigured means the deployment URL is empty or still the placeholder.
var ErrEndpointMisconfigured = errors.New("config: endpoint url is not configured")

type Config struct {
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		Debug    bool   `yaml:"debug"`
	} `yaml:"telegram"`

	Endpoint struct {
		URL            string  `yaml:"url"`
		TimeoutSeconds int     `yaml:"timeout_seconds"`
		RatePerSecond  float64 `yaml:"rate_per_second"`
		Burst          int     `yaml:"burst"`
	} `yaml:"endpoint"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		Dir           string `yaml:"dir"`
		IntervalHours int    `yaml:"interval_hours"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Session struct {
		DraftTTLMinutes  int `yaml:"draft_ttl_minutes"`
		DialogTTLMinutes int `yaml:"dialog_ttl_minutes"`
	} `yaml:"session"`

	Booking struct {
		ContactMethods []string `yaml:"contact_methods"`
		UserRateLimit  float64  `yaml:"user_rate_limit"`
		UserBurst      int      `yaml:"user_burst"`
	} `yaml:"booking"`

	Timezone string `yaml:"timezone"`

	Monitoring struct {
		Port              int  `yaml:"port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Log struct {
		Level string `yaml:"level"`
		JSON  bool   `yaml:"json"`
	} `yaml:"log"`

	Managers []int64 `yaml:"managers"`
}

// Load reads the YAML config at path, defaulting to configs/config.yaml.
// A .env file in the working directory is loaded first when present, and
// ${ENV_VAR} placeholders in the YAML are expanded.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = "data/yoyaku.db"
	}
	if c.Backup.Dir == "" {
		c.Backup.Dir = "data/backups"
	}
	if c.Backup.IntervalHours <= 0 {
		c.Backup.IntervalHours = 24
	}
	if c.Backup.RetentionDays <= 0 {
		c.Backup.RetentionDays = 14
	}
	if c.Endpoint.TimeoutSeconds <= 0 {
		c.Endpoint.TimeoutSeconds = 15
	}
	if c.Endpoint.RatePerSecond <= 0 {
		c.Endpoint.RatePerSecond = 5
	}
	if c.Endpoint.Burst <= 0 {
		c.Endpoint.Burst = 10
	}
	if c.Session.DraftTTLMinutes <= 0 {
		c.Session.DraftTTLMinutes = 60
	}
	if c.Session.DialogTTLMinutes <= 0 {
		c.Session.DialogTTLMinutes = 30
	}
	if len(c.Booking.ContactMethods) == 0 {
		c.Booking.ContactMethods = []string{"meet", "phone"}
	}
	if c.Booking.UserRateLimit <= 0 {
		c.Booking.UserRateLimit = 2
	}
	if c.Booking.UserBurst <= 0 {
		c.Booking.UserBurst = 5
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Tokyo"
	}
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 8090
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// EndpointConfigured reports whether the deployment URL can be called.
func (c *Config) EndpointConfigured() bool {
	return CheckEndpoint(c.Endpoint.URL) == nil
}

// CheckEndpoint returns ErrEndpointMisconfigured for an empty or placeholder URL.
func CheckEndpoint(raw string) error {
	u := strings.TrimSpace(raw)
	if u == "" || strings.Contains(u, PlaceholderDeploymentID) {
		return ErrEndpointMisconfigured
	}
	return nil
}

func (c *Config) EndpointTimeout() time.Duration {
	return time.Duration(c.Endpoint.TimeoutSeconds) * time.Second
}

func (c *Config) BackupInterval() time.Duration {
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) DraftTTL() time.Duration {
	return time.Duration(c.Session.DraftTTLMinutes) * time.Minute
}

func (c *Config) DialogTTL() time.Duration {
	return time.Duration(c.Session.DialogTTLMinutes) * time.Minute
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
