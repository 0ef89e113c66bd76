package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsToSeededMemoryStore(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SEED_DEMO_DATA", "")

	cfg := Load()
	if cfg.DBDriver != DriverMemory {
		t.Fatalf("expected memory driver, got %q", cfg.DBDriver)
	}
	if !cfg.SeedDemoData {
		t.Fatalf("expected memory store to be seeded by default")
	}
	if cfg.ReportCacheTTL != 60*time.Second {
		t.Fatalf("expected 60s report cache ttl, got %s", cfg.ReportCacheTTL)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadPicksPostgresWhenDatabaseURLSet(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	t.Setenv("DATABASE_URL", "postgres://localhost/pompaku")
	t.Setenv("SEED_DEMO_DATA", "")

	cfg := Load()
	if cfg.DBDriver != DriverPostgres {
		t.Fatalf("expected postgres driver, got %q", cfg.DBDriver)
	}
	if cfg.SeedDemoData {
		t.Fatalf("sql stores are not seeded unless asked")
	}
}

func TestLoadIgnoresInvalidTTL(t *testing.T) {
	t.Setenv("LOCK_TTL_SECONDS", "-3")

	cfg := Load()
	if cfg.LockTTL != 10*time.Second {
		t.Fatalf("expected fallback lock ttl, got %s", cfg.LockTTL)
	}
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	cfg := Config{Port: "8080", DBDriver: DriverMySQL, LogFormat: "json"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for mysql without MYSQL_DSN")
	}

	cfg = Config{Port: "8080", DBDriver: "sqlite", LogFormat: "json"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}

	cfg = Config{Port: "http", DBDriver: DriverMemory, LogFormat: "json"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for non-numeric port")
	}
}
