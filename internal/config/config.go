package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	StoreDriver           string
	SQLitePath            string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	SeedAdminPassword     string
	LogLevel              string
	LogDevelopment        bool
	RequireOpenShift      bool
	CurrencyExponent      int
	LowStockThreshold     int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		StoreDriver:           strings.ToLower(strings.TrimSpace(v.GetString("STORE_DRIVER"))),
		SQLitePath:            v.GetString("SQLITE_PATH"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		ReportCacheTTLSeconds: v.GetInt("REPORT_CACHE_TTL_SECONDS"),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: v.GetInt("ACCESS_TOKEN_TTL_MINUTES"),
		SeedAdminPassword:     getEnv("SEED_ADMIN_PASSWORD", "admin123"),
		LogLevel:              strings.ToLower(v.GetString("LOG_LEVEL")),
		LogDevelopment:        v.GetBool("LOG_DEVELOPMENT"),
		RequireOpenShift:      v.GetBool("REQUIRE_OPEN_SHIFT"),
		CurrencyExponent:      v.GetInt("CURRENCY_EXPONENT"),
		LowStockThreshold:     v.GetInt("LOW_STOCK_THRESHOLD"),
	}

	if cfg.ReportCacheTTLSeconds < 1 {
		cfg.ReportCacheTTLSeconds = 60
	}
	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.LowStockThreshold < 1 {
		cfg.LowStockThreshold = 5
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}
	if c.CurrencyExponent < 0 || c.CurrencyExponent > 4 {
		return fmt.Errorf("CURRENCY_EXPONENT must be between 0 and 4, got %d", c.CurrencyExponent)
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("STORE_DRIVER", StoreSQLite)
	v.SetDefault("SQLITE_PATH", "pos.db")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REPORT_CACHE_TTL_SECONDS", 60)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_DEVELOPMENT", false)
	v.SetDefault("REQUIRE_OPEN_SHIFT", false)
	v.SetDefault("CURRENCY_EXPONENT", 0)
	v.SetDefault("LOW_STOCK_THRESHOLD", 5)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
