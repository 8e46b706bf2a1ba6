package goEnroll

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ConfigFromEnv loads the given .env files (".env" when none are named),
// then overlays GOENROLL_* variables on DefaultConfig. Missing files are
// ignored; variables already set in the environment win over file values.
func ConfigFromEnv(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}

	cfg := DefaultConfig()

	cfg.Endpoints.IdentityURL = getEnv("GOENROLL_IDENTITY_URL", cfg.Endpoints.IdentityURL)
	cfg.Endpoints.BiometricURL = getEnv("GOENROLL_BIOMETRIC_URL", cfg.Endpoints.BiometricURL)
	cfg.Endpoints.UsersURL = getEnv("GOENROLL_USERS_URL", cfg.Endpoints.UsersURL)
	cfg.Endpoints.Origin = getEnv("GOENROLL_ORIGIN", cfg.Endpoints.Origin)

	cfg.HTTP.Timeout = getEnvAsDuration("GOENROLL_HTTP_TIMEOUT", cfg.HTTP.Timeout)
	cfg.Cache.TTL = getEnvAsDuration("GOENROLL_CACHE_TTL", cfg.Cache.TTL)
	cfg.Cache.MaxEntries = int64(getEnvAsInt("GOENROLL_CACHE_MAX_ENTRIES", int(cfg.Cache.MaxEntries)))

	cfg.Session.KeyPrefix = getEnv("GOENROLL_SESSION_PREFIX", cfg.Session.KeyPrefix)
	cfg.Session.RenewalLead = getEnvAsDuration("GOENROLL_RENEWAL_LEAD", cfg.Session.RenewalLead)
	cfg.Session.RenewalHorizon = getEnvAsDuration("GOENROLL_RENEWAL_HORIZON", cfg.Session.RenewalHorizon)
	cfg.Session.ScheduleFromExpiry = getEnvAsBool("GOENROLL_SCHEDULE_FROM_EXPIRY", cfg.Session.ScheduleFromExpiry)

	p := &cfg.Storage.Persistent
	p.Backend = getEnv("GOENROLL_STORAGE", p.Backend)
	p.FilePath = getEnv("GOENROLL_STORAGE_FILE", p.FilePath)
	p.RedisAddr = getEnv("GOENROLL_REDIS_ADDR", p.RedisAddr)
	p.RedisPassword = getEnv("GOENROLL_REDIS_PASSWORD", p.RedisPassword)
	p.RedisDB = getEnvAsInt("GOENROLL_REDIS_DB", p.RedisDB)

	s := &cfg.Storage.SessionScoped
	s.Backend = getEnv("GOENROLL_SESSION_STORAGE", s.Backend)
	s.RedisAddr = getEnv("GOENROLL_SESSION_REDIS_ADDR", p.RedisAddr)
	s.RedisPassword = getEnv("GOENROLL_SESSION_REDIS_PASSWORD", p.RedisPassword)
	s.RedisDB = getEnvAsInt("GOENROLL_SESSION_REDIS_DB", p.RedisDB)
	s.Expiration = getEnvAsDuration("GOENROLL_SESSION_TTL", 24*time.Hour)

	if origins := getEnv("GOENROLL_ALLOWED_REFERRERS", ""); origins != "" {
		cfg.Referrer.AllowedOrigins = splitList(origins)
	}

	cfg.Audit.Enabled = getEnvAsBool("GOENROLL_AUDIT_ENABLED", cfg.Audit.Enabled)
	cfg.Audit.BufferSize = getEnvAsInt("GOENROLL_AUDIT_BUFFER", cfg.Audit.BufferSize)
	cfg.Metrics.Enabled = getEnvAsBool("GOENROLL_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.EnableLatencyHistograms = getEnvAsBool("GOENROLL_METRICS_LATENCY", cfg.Metrics.EnableLatencyHistograms)

	cfg.Logging.Level = getEnv("GOENROLL_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("GOENROLL_LOG_FORMAT", cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
