package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App         AppConfig         `yaml:"app"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	Logging     LoggingConfig     `yaml:"logging"`
	API         APIConfig         `yaml:"api"`
	Pricing     PricingConfig     `yaml:"pricing"`
	Booking     BookingConfig     `yaml:"booking"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Gateway     GatewayConfig     `yaml:"gateway"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Google      GoogleConfig      `yaml:"google"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Exports     ExportConfig      `yaml:"exports"`
	Backup      BackupConfig      `yaml:"backup"`
	Notify      NotifyConfig      `yaml:"notifications"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type APIConfig struct {
	HTTP        APIHTTPConfig      `yaml:"http"`
	GRPC        APIGRPCConfig      `yaml:"grpc"`
	Auth        APIAuthConfig      `yaml:"auth"`
	RateLimit   APIRateLimitConfig `yaml:"rate_limit"`
	CORSOrigins []string           `yaml:"cors_origins"`
}

type APIHTTPConfig struct {
	Port int `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	JWTSecret        string         `yaml:"jwt_secret"`
	HeaderAPIKey     string         `yaml:"header_api_key"`
	HeaderGuestToken string         `yaml:"header_guest_token"`
	APIKeys          []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type PricingConfig struct {
	ChargeableAgeThreshold int    `yaml:"chargeable_age_threshold"`
	RuleCacheTTLSeconds    int    `yaml:"rule_cache_ttl_seconds"`
	PriceTolerance         string `yaml:"price_tolerance"`
}

type BookingConfig struct {
	DraftTTLMinutes int `yaml:"draft_ttl_minutes"`
}

type IdempotencyConfig struct {
	TTLHours    int `yaml:"ttl_hours"`
	LockSeconds int `yaml:"lock_seconds"`
}

type GatewayConfig struct {
	BaseURL        string `yaml:"base_url"`
	KeyID          string `yaml:"key_id"`
	KeySecret      string `yaml:"key_secret"`
	WebhookSecret  string `yaml:"webhook_secret"`
	Currency       string `yaml:"currency"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type GoogleConfig struct {
	CredentialsFile     string `yaml:"credentials_file"`
	LedgerSpreadsheetID string `yaml:"ledger_spreadsheet_id"`
}

type CatalogConfig struct {
	SeedPath string `yaml:"seed_path"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Interval      string `yaml:"interval"`
	StoragePath   string `yaml:"storage_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// NotifyConfig tunes the async notification worker.
type NotifyConfig struct {
	QueueSize       int     `yaml:"queue_size"`
	MaxRetries      int     `yaml:"max_retries"`
	RetryDelayMs    int     `yaml:"retry_delay_ms"`
	MaxRetryDelayMs int     `yaml:"max_retry_delay_ms"`
	RetryJitter     float64 `yaml:"retry_jitter"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required")
	}
	if c.Gateway.KeyID == "" || c.Gateway.KeySecret == "" {
		return errors.New("gateway key_id and key_secret are required")
	}
	if c.Gateway.WebhookSecret == "" {
		return errors.New("gateway webhook_secret is required")
	}
	if c.Pricing.ChargeableAgeThreshold < 0 {
		return fmt.Errorf("pricing.chargeable_age_threshold must be >= 0, got %d", c.Pricing.ChargeableAgeThreshold)
	}
	tol, err := decimal.NewFromString(c.Pricing.PriceTolerance)
	if err != nil {
		return fmt.Errorf("pricing.price_tolerance: %w", err)
	}
	if tol.IsNegative() || tol.GreaterThanOrEqual(decimal.NewFromFloat(0.01)) {
		return fmt.Errorf("pricing.price_tolerance must be in [0, 0.01), got %s", tol)
	}
	if c.Notify.RetryJitter < 0 || c.Notify.RetryJitter >= 1 {
		return fmt.Errorf("notify.retry_jitter must be in [0, 1), got %g", c.Notify.RetryJitter)
	}
	if c.Notify.MaxRetryDelayMs < c.Notify.RetryDelayMs {
		return fmt.Errorf("notify.max_retry_delay_ms (%d) is below retry_delay_ms (%d)", c.Notify.MaxRetryDelayMs, c.Notify.RetryDelayMs)
	}
	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if strings.TrimSpace(k.Key) == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "safarbook"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderGuestToken == "" {
		c.API.Auth.HeaderGuestToken = "x-guest-token"
	}

	if c.Pricing.ChargeableAgeThreshold == 0 {
		c.Pricing.ChargeableAgeThreshold = 5
	}
	if c.Pricing.RuleCacheTTLSeconds == 0 {
		c.Pricing.RuleCacheTTLSeconds = 60
	}
	if c.Pricing.PriceTolerance == "" {
		c.Pricing.PriceTolerance = "0.001"
	}

	if c.Booking.DraftTTLMinutes == 0 {
		c.Booking.DraftTTLMinutes = 30
	}

	if c.Idempotency.TTLHours == 0 {
		c.Idempotency.TTLHours = 24
	}
	if c.Idempotency.LockSeconds == 0 {
		c.Idempotency.LockSeconds = 30
	}

	if c.Gateway.BaseURL == "" {
		c.Gateway.BaseURL = "https://api.razorpay.com"
	}
	if c.Gateway.Currency == "" {
		c.Gateway.Currency = "INR"
	}
	if c.Gateway.TimeoutSeconds == 0 {
		c.Gateway.TimeoutSeconds = 10
	}

	if c.Backup.Interval == "" {
		c.Backup.Interval = "24h"
	}
	if c.Notify.QueueSize == 0 {
		c.Notify.QueueSize = 256
	}
	if c.Notify.MaxRetries == 0 {
		c.Notify.MaxRetries = 3
	}
	if c.Notify.RetryDelayMs == 0 {
		c.Notify.RetryDelayMs = 500
	}
	if c.Notify.MaxRetryDelayMs == 0 {
		c.Notify.MaxRetryDelayMs = 60000
	}
}

// RuleCacheTTL returns how long a package's rule set may be served from cache.
func (c PricingConfig) RuleCacheTTL() time.Duration {
	return time.Duration(c.RuleCacheTTLSeconds) * time.Second
}

// Tolerance is only called after Validate, so the parse cannot fail.
func (c PricingConfig) Tolerance() decimal.Decimal {
	return decimal.RequireFromString(c.PriceTolerance)
}

func (c BookingConfig) DraftTTL() time.Duration {
	return time.Duration(c.DraftTTLMinutes) * time.Minute
}

func (c IdempotencyConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c IdempotencyConfig) LockTTL() time.Duration {
	return time.Duration(c.LockSeconds) * time.Second
}

func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BackupInterval parses the interval, falling back to a day on bad input.
func (c BackupConfig) BackupInterval() time.Duration {
	d, err := time.ParseDuration(c.Interval)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

func (c NotifyConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c NotifyConfig) MaxRetryDelay() time.Duration {
	return time.Duration(c.MaxRetryDelayMs) * time.Millisecond
}
