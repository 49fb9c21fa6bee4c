/*
Package config loads server configuration.

PRECEDENCE (later wins):
  1. Defaults()
  2. YAML file passed to Load (optional)
  3. .env in the working directory, then the process environment
  4. command-line flags, applied by cmd/server

ENVIRONMENT:
  PORT, DB_DRIVER, DB_DSN, REDIS_ADDRESS, KAFKA_BROKERS, KAFKA_TOPIC,
  LOG_LEVEL, HOLD_TIMEOUT

MONEY:
  Tax rate and tier thresholds are decimal strings ("0.1", "100000000") and
  are parsed with shopspring/decimal, never through float64.
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/warp/unit-ledger/inventory"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Log      LogConfig      `yaml:"log"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

type ServerConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite3 | postgres
	DSN    string `yaml:"dsn"`
}

// RedisConfig enables distributed unit locks when Address is set.
type RedisConfig struct {
	Address string        `yaml:"address"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// KafkaConfig enables event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers string `yaml:"brokers"`
	Topic   string `yaml:"topic"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type LedgerConfig struct {
	HoldTimeout       time.Duration `yaml:"hold_timeout"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	DispatchInterval  time.Duration `yaml:"dispatch_interval"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `yaml:"retry_max_delay"`

	DefaultTaxRate         string      `yaml:"default_tax_rate"`
	PhoneRegion            string      `yaml:"phone_region"`
	AllowDefectiveReimport bool        `yaml:"allow_defective_reimport"`
	Prefixes               Prefixes    `yaml:"prefixes"`
	Tiers                  TierAmounts `yaml:"tiers"`
}

type Prefixes struct {
	Sale   string `yaml:"sale"`
	Return string `yaml:"return"`
	Intake string `yaml:"intake"`
}

type TierAmounts struct {
	Regular  string `yaml:"regular"`
	VIP      string `yaml:"vip"`
	Platinum string `yaml:"platinum"`
}

func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
		},
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "ledger.db"},
		Redis:    RedisConfig{LockTTL: 30 * time.Second},
		Kafka:    KafkaConfig{Topic: "ledger-events"},
		Log:      LogConfig{Level: "info"},
		Ledger: LedgerConfig{
			HoldTimeout:       15 * time.Minute,
			LockTimeout:       5 * time.Second,
			SweepInterval:     30 * time.Second,
			DispatchInterval:  2 * time.Second,
			ReconcileInterval: time.Hour,
			RetryAttempts:     5,
			RetryBaseDelay:    10 * time.Millisecond,
			RetryMaxDelay:     500 * time.Millisecond,
			DefaultTaxRate:    "0.1",
			PhoneRegion:       "VN",
			Prefixes:          Prefixes{Sale: "SO", Return: "RT", Intake: "PO"},
			Tiers:             TierAmounts{Regular: "0", VIP: "100000000", Platinum: "200000000"},
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("DB_DRIVER", &c.Database.Driver)
	str("DB_DSN", &c.Database.DSN)
	str("REDIS_ADDRESS", &c.Redis.Address)
	str("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("LOG_LEVEL", &c.Log.Level)

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("HOLD_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("HOLD_TIMEOUT: %w", err)
		}
		c.Ledger.HoldTimeout = d
	}
	return nil
}

// Validate checks the values the engines cannot default on their own.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Ledger.HoldTimeout <= 0 {
		return errors.New("ledger.hold_timeout must be positive")
	}
	if _, err := c.TaxRate(); err != nil {
		return err
	}
	if _, err := c.TierThresholds(); err != nil {
		return err
	}
	return nil
}

func (c Config) TaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.Ledger.DefaultTaxRate))
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger.default_tax_rate: %w", err)
	}
	if rate.IsNegative() {
		return decimal.Zero, errors.New("ledger.default_tax_rate must not be negative")
	}
	return rate, nil
}

func (c Config) TierThresholds() (inventory.TierThresholds, error) {
	var (
		t   inventory.TierThresholds
		err error
	)
	parse := func(name, s string) decimal.Decimal {
		if err != nil {
			return decimal.Zero
		}
		var d decimal.Decimal
		if d, err = decimal.NewFromString(strings.TrimSpace(s)); err != nil {
			err = fmt.Errorf("ledger.tiers.%s: %w", name, err)
		}
		return d
	}
	t.Regular = parse("regular", c.Ledger.Tiers.Regular)
	t.VIP = parse("vip", c.Ledger.Tiers.VIP)
	t.Platinum = parse("platinum", c.Ledger.Tiers.Platinum)
	if err != nil {
		return inventory.TierThresholds{}, err
	}
	if t.VIP.LessThan(t.Regular) || t.Platinum.LessThan(t.VIP) {
		return inventory.TierThresholds{}, errors.New("ledger.tiers must be ascending")
	}
	return t, nil
}

func (c Config) RetryPolicy() inventory.RetryPolicy {
	return inventory.RetryPolicy{
		MaxAttempts: c.Ledger.RetryAttempts,
		BaseDelay:   c.Ledger.RetryBaseDelay,
		MaxDelay:    c.Ledger.RetryMaxDelay,
	}
}

func (c Config) NumberPrefixes() inventory.NumberPrefixes {
	return inventory.NumberPrefixes{
		Sale:   c.Ledger.Prefixes.Sale,
		Return: c.Ledger.Prefixes.Return,
		Intake: c.Ledger.Prefixes.Intake,
	}
}

func (c Config) ReimportPolicy() inventory.ReimportPolicy {
	return inventory.ReimportPolicy{AllowDefective: c.Ledger.AllowDefectiveReimport}
}
