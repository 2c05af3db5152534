package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.True(t, decimal.RequireFromString("0.05").Equal(cfg.PlatformFeeRate))
	assert.Equal(t, 5*time.Minute, cfg.ProcessorInterval)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  port: "9000"
database:
  driver: postgres
  dsn: host=db user=funding
auth:
  operators:
    ops-key: ops-secret
settlement:
  platform_fee_rate: "0.08"
  processor_interval_seconds: 30
  simulate_gateway: false
kafka:
  brokers: [" kafka-1:9092 ", "kafka-2:9092"]
`), 0o600))

	t.Setenv("PORT", "9100")
	t.Setenv("PLATFORM_FEE_RATE", "0.1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Port)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "host=db user=funding", cfg.DBDSN)
	assert.Equal(t, "ops-secret", cfg.Operators["ops-key"])
	assert.True(t, decimal.RequireFromString("0.1").Equal(cfg.PlatformFeeRate))
	assert.Equal(t, 30*time.Second, cfg.ProcessorInterval)
	assert.False(t, cfg.SimulateGateway)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"fee above one", map[string]string{"PLATFORM_FEE_RATE": "1.5"}},
		{"negative fee", map[string]string{"PLATFORM_FEE_RATE": "-0.01"}},
		{"unparseable fee", map[string]string{"PLATFORM_FEE_RATE": "five percent"}},
		{"unknown driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"success rate", map[string]string{"GATEWAY_SUCCESS_RATE": "2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig("")
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service: [unterminated"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
