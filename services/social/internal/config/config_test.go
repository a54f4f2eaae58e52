package config

import (
	"path/filepath"
	"testing"
	"time"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SERVICE_NAME", "social")
}

func TestLoad_Defaults(t *testing.T) {
	setBase(t)
	t.Setenv("APP_ENV", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.GRPCAddr != ":9090" {
		t.Fatalf("expected :9090, got %q", cfg.GRPCAddr)
	}
	if cfg.MaxCommentLength != 1000 {
		t.Fatalf("expected 1000, got %d", cfg.MaxCommentLength)
	}
	if cfg.EventCacheTTL != 10*time.Minute {
		t.Fatalf("expected 10m cache ttl, got %s", cfg.EventCacheTTL)
	}
	if !cfg.MigrateOnStart {
		t.Fatal("expected migrations on start outside production")
	}
	if cfg.CBFailureThreshold != 5 {
		t.Fatalf("expected breaker threshold 5, got %d", cfg.CBFailureThreshold)
	}
}

func TestLoad_Overrides(t *testing.T) {
	setBase(t)
	t.Setenv("WRITE_RATE_PER_SEC", "2.5")
	t.Setenv("WRITE_BURST", "0")
	t.Setenv("CB_TIMEOUT", "5s")
	t.Setenv("MAX_COMMENT_LENGTH", "280")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WriteRatePerSec != 2.5 {
		t.Fatalf("expected 2.5, got %v", cfg.WriteRatePerSec)
	}
	if cfg.WriteBurst != 1 {
		t.Fatalf("expected burst clamped to 1, got %d", cfg.WriteBurst)
	}
	if cfg.CBTimeout != 5*time.Second {
		t.Fatalf("expected 5s, got %s", cfg.CBTimeout)
	}
	if cfg.MaxCommentLength != 280 {
		t.Fatalf("expected 280, got %d", cfg.MaxCommentLength)
	}
}

func TestLoad_NonPositiveWriteRate(t *testing.T) {
	for _, v := range []string{"0", "-2"} {
		setBase(t)
		t.Setenv("APP_ENV", "")
		t.Setenv("WRITE_RATE_PER_SEC", v)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("%s: load: %v", v, err)
		}
		if cfg.WriteRatePerSec != 1 {
			t.Fatalf("%s: expected rate reset to 1, got %v", v, cfg.WriteRatePerSec)
		}
	}
}

func TestLoad_ProductionRequirements(t *testing.T) {
	setBase(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "s3cret")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL in production")
	}

	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/dojo")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET in production")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.MigrateOnStart {
		t.Fatal("expected migrations off by default in production")
	}
}

func TestLoad_DevEventIDs(t *testing.T) {
	setBase(t)
	t.Setenv("DEV_EVENT_IDS", "1, 2,,7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.DevEventIDs) != 3 || cfg.DevEventIDs[2] != 7 {
		t.Fatalf("expected [1 2 7], got %v", cfg.DevEventIDs)
	}

	t.Setenv("DEV_EVENT_IDS", "1,x")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-numeric id")
	}
}
