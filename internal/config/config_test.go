package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "http://localhost:8080", cfg.PublicBaseURL)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
	assert.Equal(t, int32(2), cfg.DBMinConns)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyTTL)
	assert.Equal(t, 10*time.Minute, cfg.TxTimeout)
	assert.Equal(t, 2*time.Second, cfg.ChargePollInterval)
	assert.Equal(t, int32(20), cfg.ChargeBatchSize)
	assert.Equal(t, 8, cfg.ChargeConcurrency)
	assert.Equal(t, int32(8), cfg.DeliveryMaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.DeliveryBaseBackoff)
	assert.Equal(t, 24*time.Hour, cfg.CashOutInterval)
	assert.False(t, cfg.SandboxEnabled)
	assert.Equal(t, "sandbox", cfg.MTN.Environment)
	assert.Empty(t, cfg.MongoURL)
}

func TestLoadReadsPrefixedAliases(t *testing.T) {
	t.Setenv("IKWEN_JWT_SECRET", testSecret)
	t.Setenv("IKWEN_PUBLIC_BASE_URL", "https://pay.ikwen.com/")
	t.Setenv("IKWEN_ORANGE_CLIENT_ID", "orange-client")
	t.Setenv("DELIVERY_BASE_BACKOFF", "1m")
	t.Setenv("SANDBOX_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://pay.ikwen.com", cfg.PublicBaseURL)
	assert.Equal(t, "orange-client", cfg.Orange.ClientID)
	assert.Equal(t, time.Minute, cfg.DeliveryBaseBackoff)
	assert.True(t, cfg.SandboxEnabled)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing secret", map[string]string{"JWT_SECRET": ""}, "JWT_SECRET is required"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "at least 32 characters"},
		{"bad duration", map[string]string{"JWT_SECRET": testSecret, "TX_TIMEOUT": "soon"}, "invalid TX_TIMEOUT"},
		{"relative base url", map[string]string{"JWT_SECRET": testSecret, "PUBLIC_BASE_URL": "/callbacks"}, "PUBLIC_BASE_URL"},
		{"failure rate", map[string]string{"JWT_SECRET": testSecret, "SANDBOX_FAILURE_RATE": "1.5"}, "SANDBOX_FAILURE_RATE"},
		{"half bootstrap", map[string]string{"JWT_SECRET": testSecret, "BOOTSTRAP_ADMIN_EMAIL": "ops@ikwen.com"}, "must be set together"},
		{"pool bounds", map[string]string{"JWT_SECRET": testSecret, "DB_MIN_CONNS": "20"}, "DB_MIN_CONNS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
