package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full pipeline configuration: YAML file first, environment
// overrides second, so deployments can keep secrets out of the file.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Checker CheckerConfig `yaml:"checker"`
	Gate    GateConfig    `yaml:"gate"`
	Trust   TrustConfig   `yaml:"trust"`
	Notify  NotifyConfig  `yaml:"notify"`
	Serve   ServeConfig   `yaml:"serve"`
	Log     LogConfig     `yaml:"log"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `yaml:"driver"`
	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type CheckerConfig struct {
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Backoff     time.Duration `yaml:"backoff"`
	UserAgent   string        `yaml:"user_agent"`
	// RatePerSecond caps outbound probe rate across the whole pool.
	RatePerSecond float64 `yaml:"rate_per_second"`
}

type GateConfig struct {
	// ExpectedTotal is the known national municipality count.
	ExpectedTotal int `yaml:"expected_total"`
}

type TrustConfig struct {
	// AllowedDomains lists non-standard but legitimate civic domains.
	AllowedDomains []string `yaml:"allowed_domains"`
}

type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url"`
}

type ServeConfig struct {
	Addr     string        `yaml:"addr"`
	Interval time.Duration `yaml:"interval"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    "kaisou.db",
		},
		Checker: CheckerConfig{
			Concurrency:   10,
			Timeout:       15 * time.Second,
			MaxRetries:    1,
			Backoff:       time.Second,
			RatePerSecond: 5,
		},
		Gate: GateConfig{
			ExpectedTotal: 1737,
		},
		Serve: ServeConfig{
			Addr:     ":9180",
			Interval: 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("KAISOU_STORE_DRIVER"); v != "" {
		c.Store.Driver = v
	}
	if v := os.Getenv("KAISOU_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("KAISOU_WEBHOOK_URL"); v != "" {
		c.Notify.WebhookURL = v
	}
	if v := os.Getenv("KAISOU_EXPECTED_TOTAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Gate.ExpectedTotal = n
		}
	}
	if v := os.Getenv("KAISOU_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c Config) validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported store driver %q", c.Store.Driver)
	}
	if c.Checker.Concurrency <= 0 {
		return fmt.Errorf("checker concurrency must be positive, got %d", c.Checker.Concurrency)
	}
	if c.Gate.ExpectedTotal <= 0 {
		return fmt.Errorf("expected total must be positive, got %d", c.Gate.ExpectedTotal)
	}
	return nil
}
