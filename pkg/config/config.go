package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Port         string
	IsProduction bool

	// Ledger store selection.
	StoreDriver string // "sqlite" or "pgsql"
	SQLitePath  string
	DatabaseURL string

	// Authenticator.
	JWTSecret         string
	JWTExpiryDuration time.Duration
	JWTIssuer         string

	// Sync server tunables.
	AuthTimeout       time.Duration // window for the authenticate message
	HeartbeatInterval time.Duration // server-side ping cadence
	WriteTimeout      time.Duration // per-message write deadline

	// Rate limiting on /auth/login.
	LoginRateLimit string
}

// LoadConfig loads configuration from environment variables and .env file if present.
func LoadConfig() (*Config, error) {
	// Attempt to load .env file, ignore error if it doesn't exist
	_ = godotenv.Load()

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("IS_PRODUCTION", false)
	viper.SetDefault("STORE_DRIVER", "sqlite")
	viper.SetDefault("SQLITE_PATH", "ledger.db")
	viper.SetDefault("PGSQL_URL", "")
	viper.SetDefault("JWT_SECRET", "a-very-secret-key-should-be-longer-and-random")
	viper.SetDefault("JWT_EXPIRY_DURATION", "24h")
	viper.SetDefault("JWT_ISSUER", "expense-tracker")
	viper.SetDefault("AUTH_TIMEOUT", "10s")
	viper.SetDefault("HEARTBEAT_INTERVAL", "30s")
	viper.SetDefault("WRITE_TIMEOUT", "10s")
	viper.SetDefault("LOGIN_RATE_LIMIT", "10-M")

	viper.AutomaticEnv()

	cfg := &Config{}
	cfg.Port = viper.GetString("PORT")
	cfg.IsProduction = viper.GetBool("IS_PRODUCTION")
	cfg.StoreDriver = viper.GetString("STORE_DRIVER")
	cfg.SQLitePath = viper.GetString("SQLITE_PATH")
	cfg.DatabaseURL = viper.GetString("PGSQL_URL")
	cfg.JWTSecret = viper.GetString("JWT_SECRET")
	cfg.JWTIssuer = viper.GetString("JWT_ISSUER")
	cfg.LoginRateLimit = viper.GetString("LOGIN_RATE_LIMIT")

	if cfg.JWTSecret == "a-very-secret-key-should-be-longer-and-random" {
		log.Println("Warning: JWT_SECRET environment variable not set. Using default insecure key.")
	}
	if cfg.StoreDriver == "pgsql" && cfg.DatabaseURL == "" {
		log.Println("Warning: STORE_DRIVER is pgsql but PGSQL_URL is not set.")
	}

	cfg.JWTExpiryDuration = durationOrDefault("JWT_EXPIRY_DURATION", 24*time.Hour)
	cfg.AuthTimeout = durationOrDefault("AUTH_TIMEOUT", 10*time.Second)
	cfg.HeartbeatInterval = durationOrDefault("HEARTBEAT_INTERVAL", 30*time.Second)
	cfg.WriteTimeout = durationOrDefault("WRITE_TIMEOUT", 10*time.Second)

	return cfg, nil
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := viper.GetString(key)
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("Warning: Invalid value for %s ('%s'). Defaulting to %s.\n", key, raw, fallback)
		return fallback
	}
	return parsed
}
