package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, "payment.succeeded", cfg.Kafka.Topic)
	assert.Equal(t, 30*time.Second, cfg.Gateways.MomoPay.Timeout)
	assert.Len(t, cfg.Methods, 5)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE", "memory")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092,kafka-2:9092")
	t.Setenv("GATEWAYS_MOMOPAY_API_KEY", "env-key")
	t.Setenv("GATEWAYS_SWIFTPAY_TIMEOUT", "5s")
	t.Setenv("TRACING_ENDPOINT", "jaeger:4318")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "env-key", cfg.Gateways.MomoPay.APIKey)
	assert.Equal(t, 5*time.Second, cfg.Gateways.SwiftPay.Timeout)
	assert.Equal(t, "jaeger:4318", cfg.Tracing.Endpoint)
	assert.True(t, cfg.Tracing.Insecure)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage: memory
gateways:
  ussdgw:
    sp_id: sp-77
methods:
  - code: MOBILE_MONEY
    active: true
    currencies: [XAF]
    gateway: MOMOPAY
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sp-77", cfg.Gateways.USSD.SPID)
	require.Len(t, cfg.Methods, 1)
	assert.Equal(t, "MOMOPAY", cfg.Methods[0].Gateway)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	t.Setenv("STORAGE", "mongo")
	_, err := Load("")
	assert.Error(t, err)
}
