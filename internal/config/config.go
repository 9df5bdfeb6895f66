// Package config provides configuration management for the token claim service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pegged-token/claimer/internal/types"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Store     StoreConfig
	Database  DatabaseConfig
	Solana    SolanaConfig
	Claim     ClaimConfig
	Sync      SyncConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// StoreConfig selects and configures the account record store
type StoreConfig struct {
	Kind       types.RecordStoreKind
	Account    string // logical account scope whose latest record is claimed against
	PocketBase PocketBaseConfig
	Timeout    time.Duration
}

// PocketBaseConfig holds the REST collection settings
type PocketBaseConfig struct {
	URL        string
	Collection string
	AuthToken  string
	// FilterByAccount adds an account filter to the latest-record query
	FilterByAccount bool
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres PostgresConfig
	Redis    RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// URL returns the connection URL used by migrations
func (c PostgresConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.User, c.Password, c.Host, c.Port, c.Database,
	)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Enabled        bool
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// SolanaConfig holds ledger configuration
type SolanaConfig struct {
	Network          types.Network
	RPCURL           string // overrides the network's public endpoint
	MintAddress      string
	TreasuryKey      string // JSON byte array (solana-keygen) or base58
	TreasuryKeyFile  string
	Timeout          time.Duration
	ConfirmTimeout   time.Duration
	BreakerThreshold int
	RequestsPerSec   float64
}

// ClaimConfig holds claim orchestration settings
type ClaimConfig struct {
	LockTTL       time.Duration
	LockWait      time.Duration
	StatsCacheTTL time.Duration
}

// SyncConfig holds the reconciliation worker schedule
type SyncConfig struct {
	Schedule string // cron expression, e.g. "@every 1m"
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	network, err := types.ParseNetwork(getEnv("SOLANA_NETWORK", string(types.NetworkDevnet)))
	if err != nil {
		return nil, err
	}

	storeKind := types.RecordStoreKind(getEnv("RECORD_STORE", string(types.StorePocketBase)))
	switch storeKind {
	case types.StorePocketBase, types.StorePostgres:
	default:
		return nil, fmt.Errorf("unknown record store: %q", storeKind)
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Store: StoreConfig{
			Kind:    storeKind,
			Account: getEnv("ACCOUNT_ID", "default"),
			PocketBase: PocketBaseConfig{
				URL:             strings.TrimSuffix(getEnv("POCKETBASE_URL", "https://pb.sal.lol"), "/"),
				Collection:      getEnv("POCKETBASE_COLLECTION", "token_data"),
				AuthToken:       getEnv("POCKETBASE_AUTH_TOKEN", ""),
				FilterByAccount: getEnvAsBool("POCKETBASE_FILTER_BY_ACCOUNT", false),
			},
			Timeout: getEnvAsDuration("STORE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Enabled:        getEnvAsBool("POSTGRES_ENABLED", storeKind == types.StorePostgres),
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "claimer"),
				User:           getEnv("POSTGRES_USER", "claimer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			Redis: RedisConfig{
				Enabled:        getEnvAsBool("REDIS_ENABLED", false),
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Solana: SolanaConfig{
			Network:          network,
			RPCURL:           getEnv("SOLANA_RPC_URL", ""),
			MintAddress:      getEnv("TOKEN_MINT_ADDRESS", ""),
			TreasuryKey:      getEnv("TREASURY_PRIVATE_KEY", ""),
			TreasuryKeyFile:  getEnv("TREASURY_KEY_FILE", ""),
			Timeout:          getEnvAsDuration("LEDGER_TIMEOUT", 30*time.Second),
			ConfirmTimeout:   getEnvAsDuration("LEDGER_CONFIRM_TIMEOUT", 60*time.Second),
			BreakerThreshold: getEnvAsInt("LEDGER_BREAKER_THRESHOLD", 5),
			RequestsPerSec:   getEnvAsFloat("SOLANA_RPC_RPS", 0),
		},
		Claim: ClaimConfig{
			LockTTL:       getEnvAsDuration("CLAIM_LOCK_TTL", 2*time.Minute),
			LockWait:      getEnvAsDuration("CLAIM_LOCK_WAIT", 15*time.Second),
			StatsCacheTTL: getEnvAsDuration("STATS_CACHE_TTL", 15*time.Second),
		},
		Sync: SyncConfig{
			Schedule: getEnv("SYNC_SCHEDULE", "@every 1m"),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 5),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks the settings every claim-capable process needs
func (c *Config) Validate() error {
	var missing []string
	if c.Solana.MintAddress == "" {
		missing = append(missing, "TOKEN_MINT_ADDRESS")
	}
	if c.Solana.TreasuryKey == "" && c.Solana.TreasuryKeyFile == "" {
		missing = append(missing, "TREASURY_PRIVATE_KEY or TREASURY_KEY_FILE")
	}
	if c.Store.Kind == types.StorePocketBase && c.Store.PocketBase.URL == "" {
		missing = append(missing, "POCKETBASE_URL")
	}
	if c.Store.Kind == types.StorePostgres && !c.Database.Postgres.Enabled {
		missing = append(missing, "POSTGRES_ENABLED")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
