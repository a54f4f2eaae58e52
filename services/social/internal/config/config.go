package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	platform "github.com/example/dojo-academy/internal/platform/config"
)

const defaultWriteRate = 1.0

type Config struct {
	platform.AppConfig

	DatabaseURL    string
	MigrateOnStart bool
	RedisURL       string
	NATSURL        string
	JWTSecret      string
	GRPCAddr       string

	EventCacheTTL time.Duration
	// Circuit breaker around the event cache.
	CBMaxRequests      uint32
	CBInterval         time.Duration
	CBTimeout          time.Duration
	CBFailureThreshold uint32

	WriteRatePerSec  float64
	WriteBurst       int
	MaxCommentLength int
	HealthInterval   time.Duration

	// DevEventIDs seeds the in-memory event directory when no database is
	// configured.
	DevEventIDs []int64
}

// Load reads the platform settings plus the social service's own. In
// production DATABASE_URL and JWT_SECRET are required.
func Load() (Config, error) {
	app, err := platform.Load()
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		AppConfig:          app,
		DatabaseURL:        platform.String("DATABASE_URL", ""),
		MigrateOnStart:     platform.Bool("MIGRATE_ON_START", !app.IsProduction()),
		RedisURL:           platform.String("REDIS_URL", ""),
		NATSURL:            platform.String("NATS_URL", ""),
		JWTSecret:          platform.String("JWT_SECRET", ""),
		GRPCAddr:           platform.String("GRPC_ADDR", ":9090"),
		EventCacheTTL:      platform.Duration("EVENT_CACHE_TTL", 10*time.Minute),
		CBMaxRequests:      uint32(platform.Int("CB_MAX_REQUESTS", 5)),
		CBInterval:         platform.Duration("CB_INTERVAL", 60*time.Second),
		CBTimeout:          platform.Duration("CB_TIMEOUT", 30*time.Second),
		CBFailureThreshold: uint32(platform.Int("CB_FAILURE_THRESHOLD", 5)),
		WriteRatePerSec:    platform.Float("WRITE_RATE_PER_SEC", defaultWriteRate),
		WriteBurst:         platform.Int("WRITE_BURST", 10),
		MaxCommentLength:   platform.Int("MAX_COMMENT_LENGTH", 1000),
		HealthInterval:     platform.Duration("HEALTH_INTERVAL", 10*time.Second),
	}
	if app.IsProduction() {
		if cfg.DatabaseURL == "" {
			return Config{}, errors.New("DATABASE_URL is required in production")
		}
		if cfg.JWTSecret == "" {
			return Config{}, errors.New("JWT_SECRET is required in production")
		}
	}
	ids, err := parseIDs(platform.String("DEV_EVENT_IDS", ""))
	if err != nil {
		return Config{}, fmt.Errorf("DEV_EVENT_IDS: %w", err)
	}
	cfg.DevEventIDs = ids
	if cfg.WriteBurst < 1 {
		cfg.WriteBurst = 1
	}
	if cfg.WriteRatePerSec <= 0 {
		cfg.WriteRatePerSec = defaultWriteRate
	}
	return cfg, nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid event id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
