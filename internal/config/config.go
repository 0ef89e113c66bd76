package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

type Config struct {
	Port            string
	AllowedOrigin   string
	DBDriver        string
	DatabaseURL     string
	MySQLDSN        string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ReportCacheTTL  time.Duration
	LockTTL         time.Duration
	LogLevel        string
	LogFormat       string
	SeedDemoData    bool
	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the environment win.
func Load() Config {
	_ = godotenv.Load()

	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	cacheTTL := positiveInt("REPORT_CACHE_TTL_SECONDS", 60)
	lockTTL := positiveInt("LOCK_TTL_SECONDS", 10)

	cfg := Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigin:   getEnv("ALLOWED_ORIGIN", "*"),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		MySQLDSN:        strings.TrimSpace(os.Getenv("MYSQL_DSN")),
		RedisAddr:       strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		RedisDB:         redisDB,
		ReportCacheTTL:  time.Duration(cacheTTL) * time.Second,
		LockTTL:         time.Duration(lockTTL) * time.Second,
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),
		ShutdownTimeout: 10 * time.Second,
	}

	cfg.DBDriver = strings.ToLower(strings.TrimSpace(os.Getenv("DB_DRIVER")))
	if cfg.DBDriver == "" {
		cfg.DBDriver = DriverMemory
		if cfg.DatabaseURL != "" {
			cfg.DBDriver = DriverPostgres
		}
	}

	seedDefault := "false"
	if cfg.DBDriver == DriverMemory {
		seedDefault = "true"
	}
	cfg.SeedDemoData, _ = strconv.ParseBool(getEnv("SEED_DEMO_DATA", seedDefault))

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Validate reports configuration that would make the server fail later.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when DB_DRIVER=%s", DriverPostgres)
		}
	case DriverMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when DB_DRIVER=%s", DriverMySQL)
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid PORT %q", c.Port)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("unsupported LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func positiveInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
