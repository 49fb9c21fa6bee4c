package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, 15*time.Minute, cfg.Ledger.HoldTimeout)
	rate, err := cfg.TaxRate()
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.1")))

	tiers, err := cfg.TierThresholds()
	require.NoError(t, err)
	assert.True(t, tiers.VIP.Equal(decimal.NewFromInt(100_000_000)))
	assert.True(t, tiers.Platinum.Equal(decimal.NewFromInt(200_000_000)))
	assert.Equal(t, "SO", cfg.NumberPrefixes().Sale)
	assert.False(t, cfg.ReimportPolicy().AllowDefective)
}

func TestLoad_YAMLThenEnvironment(t *testing.T) {
	// GIVEN: a YAML file and an environment override
	path := filepath.Join(t.TempDir(), "ledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: postgres
  dsn: postgres://ledger@db/ledger?sslmode=disable
ledger:
  hold_timeout: 5m
  retry_attempts: 8
  default_tax_rate: "0.08"
  allow_defective_reimport: true
  tiers:
    regular: "0"
    vip: "50000000"
    platinum: "150000000"
`), 0o600))
	t.Setenv("PORT", "9100")
	t.Setenv("HOLD_TIMEOUT", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	// WHEN: loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: the environment wins over the file, the file over defaults
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Ledger.HoldTimeout)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 8, cfg.RetryPolicy().MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryPolicy().BaseDelay)
	assert.Equal(t, "k1:9092,k2:9092", cfg.Kafka.Brokers)
	assert.True(t, cfg.ReimportPolicy().AllowDefective)
	tiers, err := cfg.TierThresholds()
	require.NoError(t, err)
	assert.True(t, tiers.VIP.Equal(decimal.NewFromInt(50_000_000)))
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown driver", yaml: "database:\n  driver: mysql\n"},
		{name: "bad tax rate", yaml: "ledger:\n  default_tax_rate: ten\n"},
		{name: "negative tax rate", yaml: "ledger:\n  default_tax_rate: \"-0.1\"\n"},
		{name: "descending tiers", yaml: "ledger:\n  tiers:\n    regular: \"0\"\n    vip: \"5\"\n    platinum: \"1\"\n"},
		{name: "bad port", env: map[string]string{"PORT": "eighty"}},
		{name: "bad hold timeout", env: map[string]string{"HOLD_TIMEOUT": "soon"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o600))
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestLogError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug")
	logger.SetOutput(&buf)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	LogError(logger, "sale", "ClaimAndSell", "commit", map[string]string{"order_id": "o-1"}, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "sale", entry["module"])
	assert.Equal(t, "ClaimAndSell", entry["funcName"])
	assert.Equal(t, map[string]any{"order_id": "o-1"}, entry["data"])

	assert.Equal(t, logrus.InfoLevel, NewLogger("loud").GetLevel())
}
