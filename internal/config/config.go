// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Blockchain settings
	RPCURL                     string
	ChainID                    int64
	AdminPrivateKey            string // Hex-encoded, with or without 0x prefix
	ReliefTokenContract        string
	SpendingControllerContract string
	AdminWallet                string // Mint destination; funds are distributed from here

	// Distribution settings
	MaxDistribution string // Per-call ceiling in drUSD
	DailySpendLimit string // Daily ceiling used by the anomaly fallback rules

	// Anomaly model
	ModelPath     string // Persisted fraud model blob
	Contamination float64

	// Donations
	StripeSecretKey     string // Optional; fiat donations disabled if not set
	StripeWebhookSecret string // Verifies Stripe webhook deliveries

	// Observability
	OTLPEndpoint string

	// Security
	AdminSecret  string // Shared secret for admin endpoints
	RateLimitRPS int
}

// Sepolia defaults
const (
	DefaultRPCURL          = "https://rpc.sepolia.org"
	DefaultChainID         = 11155111 // Sepolia
	DefaultPort            = "8080"
	DefaultEnv             = "development"
	DefaultLogLevel        = "info"
	DefaultMaxDistribution = "10000"
	DefaultDailySpendLimit = "500"
	DefaultModelPath       = "data/fraud_model.json"
	DefaultContamination   = 0.1
	DefaultRateLimit       = 100
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                       getEnv("PORT", DefaultPort),
		Env:                        getEnv("ENV", DefaultEnv),
		LogLevel:                   getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:                os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		RPCURL:                     getEnv("RPC_URL", DefaultRPCURL),
		ChainID:                    getEnvInt64("CHAIN_ID", DefaultChainID),
		AdminPrivateKey:            os.Getenv("ADMIN_PRIVATE_KEY"),
		ReliefTokenContract:        os.Getenv("RELIEF_TOKEN_CONTRACT"),
		SpendingControllerContract: os.Getenv("SPENDING_CONTROLLER_CONTRACT"),
		AdminWallet:                os.Getenv("ADMIN_WALLET"),
		MaxDistribution:            getEnv("MAX_DISTRIBUTION", DefaultMaxDistribution),
		DailySpendLimit:            getEnv("DAILY_SPEND_LIMIT", DefaultDailySpendLimit),
		ModelPath:                  getEnv("MODEL_PATH", DefaultModelPath),
		Contamination:              getEnvFloat("CONTAMINATION", DefaultContamination),
		StripeSecretKey:            os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:        os.Getenv("STRIPE_WEBHOOK_SECRET"),
		OTLPEndpoint:               os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AdminSecret:                os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:               int(getEnvInt64("RATE_LIMIT_RPS", int64(DefaultRateLimit))),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present.
// Chain settings are only required outside development mode: in development
// the server runs against the in-memory store and a mock chain adapter.
func (c *Config) Validate() error {
	if c.IsDevelopment() {
		return nil
	}

	if c.AdminPrivateKey == "" {
		return fmt.Errorf("ADMIN_PRIVATE_KEY is required")
	}
	key := c.AdminPrivateKey
	if len(key) == 66 && key[:2] == "0x" {
		key = key[2:]
	}
	if len(key) != 64 {
		return fmt.Errorf("ADMIN_PRIVATE_KEY must be 64 hex characters (with or without 0x prefix)")
	}

	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.ReliefTokenContract == "" {
		return fmt.Errorf("RELIEF_TOKEN_CONTRACT is required")
	}
	if c.SpendingControllerContract == "" {
		return fmt.Errorf("SPENDING_CONTROLLER_CONTRACT is required")
	}
	if c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required")
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
