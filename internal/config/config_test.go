package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("SB_GATEWAY_SECRET", "from_env")

	yamlContent := `
database:
  path: "test.db"
api:
  auth:
    jwt_secret: "jwt"
gateway:
  key_id: "rzp_test"
  key_secret: "${SB_GATEWAY_SECRET}"
  webhook_secret: "whsec"
pricing:
  chargeable_age_threshold: 3
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "from_env", cfg.Gateway.KeySecret)
	assert.Equal(t, 3, cfg.Pricing.ChargeableAgeThreshold)
	assert.Equal(t, 8080, cfg.API.HTTP.Port)
	assert.Equal(t, "INR", cfg.Gateway.Currency)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.TTL())
	assert.Equal(t, 30*time.Minute, cfg.Booking.DraftTTL())
	assert.Equal(t, 10*time.Second, cfg.Gateway.Timeout())
	assert.Equal(t, time.Minute, cfg.Pricing.RuleCacheTTL())
	assert.Equal(t, "0.001", cfg.Pricing.Tolerance().String())
	assert.Equal(t, 500*time.Millisecond, cfg.Notify.RetryDelay())
	assert.Equal(t, time.Minute, cfg.Notify.MaxRetryDelay())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{
			Database: DatabaseConfig{Path: "path"},
			API:      APIConfig{Auth: APIAuthConfig{JWTSecret: "s"}},
			Gateway:  GatewayConfig{KeyID: "id", KeySecret: "secret", WebhookSecret: "wh"},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "missing jwt secret", mutate: func(c *Config) { c.API.Auth.JWTSecret = "" }, wantErr: true},
		{name: "missing gateway secret", mutate: func(c *Config) { c.Gateway.KeySecret = "" }, wantErr: true},
		{name: "missing webhook secret", mutate: func(c *Config) { c.Gateway.WebhookSecret = "" }, wantErr: true},
		{name: "tolerance too large", mutate: func(c *Config) { c.Pricing.PriceTolerance = "0.5" }, wantErr: true},
		{name: "tolerance garbage", mutate: func(c *Config) { c.Pricing.PriceTolerance = "abc" }, wantErr: true},
		{name: "negative age threshold", mutate: func(c *Config) { c.Pricing.ChargeableAgeThreshold = -1 }, wantErr: true},
		{name: "jitter of one", mutate: func(c *Config) { c.Notify.RetryJitter = 1 }, wantErr: true},
		{name: "retry cap below base", mutate: func(c *Config) { c.Notify.MaxRetryDelayMs = 100 }, wantErr: true},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "k", Name: "a"}, {Key: "k", Name: "b"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
