// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	JWT         JWTConfig
	AWS         AWSConfig
	Payment     PaymentConfig
	Marketplace MarketplaceConfig
	Snapshot    SnapshotConfig
	Log         LogConfig
	Metrics     MetricsConfig
	I18n        I18nConfig
}

type ServerConfig struct {
	Port           string
	Host           string
	ReadTimeout    int
	WriteTimeout   int
	IdleTimeout    int
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client
	RateBurst      int
}

type DatabaseConfig struct {
	Host         string
	Port         string
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  int
	LogLevel     string
	// ConnectTimeout is in seconds; 0 leaves the driver default.
	ConnectTimeout int
}

type JWTConfig struct {
	SecretKey      string
	AccessTokenTTL int // in hours
	// ChallengeTTL bounds how long a sign-in challenge stays valid, in seconds.
	ChallengeTTL        int
	AdminAddresses      []string
	ArbitratorAddresses []string
}

type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	EvidenceDir     string // local fallback when S3 is not configured
}

type PaymentConfig struct {
	StripeSecretKey string
	PayoutCurrency  string
	// AmountScale is the number of ledger base units per smallest currency unit.
	AmountScale int64
}

type MarketplaceConfig struct {
	LedgerAddress      string
	TreasuryAddress    string
	PlatformFeeBps     int
	DefaultRoyaltyBps  int
	DisputeAutoExecute bool
}

type SnapshotConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type I18nConfig struct {
	DefaultLocale string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	godotenv.Load()

	config := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:           getEnv("SERVER_PORT", "8080"),
			Host:           getEnv("SERVER_HOST", ""),
			ReadTimeout:    getEnvAsInt("SERVER_READ_TIMEOUT", 15),
			WriteTimeout:   getEnvAsInt("SERVER_WRITE_TIMEOUT", 15),
			IdleTimeout:    getEnvAsInt("SERVER_IDLE_TIMEOUT", 60),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			RateLimit:      getEnvAsFloat("RATE_LIMIT_RPS", 20),
			RateBurst:      getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnv("DB_PORT", "5432"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", ""),
			Database:       getEnv("DB_NAME", "ip_market"),
			SSLMode:        getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns:   getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:    getEnvAsInt("DB_MAX_LIFETIME", 300),
			LogLevel:       getEnv("DB_LOG_LEVEL", "warn"),
			ConnectTimeout: getEnvAsInt("DB_CONNECT_TIMEOUT", 5),
		},
		JWT: JWTConfig{
			SecretKey:           getEnv("JWT_SECRET", defaultJWTSecret),
			AccessTokenTTL:      getEnvAsInt("JWT_ACCESS_TTL", 24),
			ChallengeTTL:        getEnvAsInt("AUTH_CHALLENGE_TTL_SECONDS", 300),
			AdminAddresses:      getEnvAsList("ADMIN_ADDRESSES", nil),
			ArbitratorAddresses: getEnvAsList("ARBITRATOR_ADDRESSES", nil),
		},
		AWS: AWSConfig{
			Region:          getEnv("AWS_REGION", "us-east-1"),
			AccessKeyID:     getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),
			S3Bucket:        getEnv("AWS_S3_BUCKET", ""),
			EvidenceDir:     getEnv("EVIDENCE_DIR", "./data/evidence"),
		},
		Payment: PaymentConfig{
			StripeSecretKey: getEnv("STRIPE_SECRET_KEY", ""),
			PayoutCurrency:  getEnv("PAYOUT_CURRENCY", "usd"),
			AmountScale:     int64(getEnvAsInt("PAYOUT_AMOUNT_SCALE", 1)),
		},
		Marketplace: MarketplaceConfig{
			LedgerAddress:      getEnv("LEDGER_ADDRESS", ""),
			TreasuryAddress:    getEnv("TREASURY_ADDRESS", ""),
			PlatformFeeBps:     getEnvAsInt("PLATFORM_FEE_BPS", 250),
			DefaultRoyaltyBps:  getEnvAsInt("DEFAULT_ROYALTY_BPS", 0),
			DisputeAutoExecute: getEnvAsBool("DISPUTE_AUTO_EXECUTE", true),
		},
		Snapshot: SnapshotConfig{
			Interval: time.Duration(getEnvAsInt("SNAPSHOT_INTERVAL_SECONDS", 300)) * time.Second,
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvAsBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
		I18n: I18nConfig{
			DefaultLocale: getEnv("DEFAULT_LOCALE", "en"),
		},
	}

	return config, config.Validate()
}

func (c *Config) Validate() error {
	if c.JWT.SecretKey == defaultJWTSecret && c.Environment == "production" {
		return fmt.Errorf("JWT secret key must be changed in production")
	}

	if c.Database.Password == "" && c.Environment == "production" {
		return fmt.Errorf("database password is required in production")
	}

	for _, a := range append(append([]string{}, c.JWT.AdminAddresses...), c.JWT.ArbitratorAddresses...) {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("capability address %q is not a hex address", a)
		}
	}

	m := c.Marketplace
	if !common.IsHexAddress(m.TreasuryAddress) || common.HexToAddress(m.TreasuryAddress) == (common.Address{}) {
		return fmt.Errorf("TREASURY_ADDRESS must be a non-zero hex address")
	}
	if m.LedgerAddress != "" && !common.IsHexAddress(m.LedgerAddress) {
		return fmt.Errorf("LEDGER_ADDRESS %q is not a hex address", m.LedgerAddress)
	}
	if m.PlatformFeeBps < 0 || m.PlatformFeeBps > 10000 {
		return fmt.Errorf("PLATFORM_FEE_BPS must be within 0..10000, got %d", m.PlatformFeeBps)
	}
	if m.DefaultRoyaltyBps < 0 || m.DefaultRoyaltyBps > 10000 {
		return fmt.Errorf("DEFAULT_ROYALTY_BPS must be within 0..10000, got %d", m.DefaultRoyaltyBps)
	}
	if c.Payment.AmountScale <= 0 {
		return fmt.Errorf("PAYOUT_AMOUNT_SCALE must be positive")
	}
	if c.Snapshot.Interval <= 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL_SECONDS must be positive")
	}

	return nil
}

// Helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(strings.ToLower(value)); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
