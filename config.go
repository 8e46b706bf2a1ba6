package goEnroll

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goEnroll/internal/logging"
	"github.com/MrEthical07/goEnroll/storage"
)

// Config is the full engine configuration. Build it with DefaultConfig or
// ConfigFromEnv, adjust it, and hand it to Builder.WithConfig. It is
// treated as immutable once the engine is built.
type Config struct {
	Endpoints EndpointsConfig
	HTTP      HTTPConfig
	Cache     CacheConfig
	Session   SessionConfig
	Storage   StorageConfig
	Referrer  ReferrerConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Logging   logging.Config
}

/*
====================================
ENDPOINTS
====================================
*/

// EndpointsConfig holds the base URLs of the three backend services and the
// origin this client presents itself as.
type EndpointsConfig struct {
	IdentityURL  string
	BiometricURL string
	UsersURL     string
	Origin       string
}

// HTTPConfig tunes the outgoing HTTP client.
type HTTPConfig struct {
	Timeout time.Duration
}

// CacheConfig tunes the read-response cache.
type CacheConfig struct {
	TTL        time.Duration
	MaxEntries int64
}

/*
====================================
SESSION
====================================
*/

// SessionConfig controls the Credential Record and its renewal.
type SessionConfig struct {
	// KeyPrefix namespaces the five persisted keys.
	KeyPrefix      string
	RenewalLead    time.Duration
	RenewalHorizon time.Duration
	// ScheduleFromExpiry arms renewal from the server's expiry descriptor
	// instead of the fixed RenewalHorizon.
	ScheduleFromExpiry bool
}

// StorageConfig selects where persisted and session-scoped data live.
type StorageConfig struct {
	Persistent    storage.Config
	SessionScoped storage.Config
}

// ReferrerConfig controls the referrer check run by Initialize. An empty
// AllowedOrigins list accepts every referrer.
type ReferrerConfig struct {
	AllowedOrigins []string
	// Key is the session-scoped key holding the last check.
	Key string
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a configuration that talks to a local dev server.
func DefaultConfig() Config {
	return Config{
		Endpoints: EndpointsConfig{
			IdentityURL:  "http://localhost:8080/identity",
			BiometricURL: "http://localhost:8080/biometric",
			UsersURL:     "http://localhost:8080/management",
			Origin:       "http://localhost:3000",
		},
		HTTP: HTTPConfig{
			Timeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:        30 * time.Second,
			MaxEntries: 1024,
		},
		Session: SessionConfig{
			KeyPrefix:      "goenroll:",
			RenewalLead:    60 * time.Second,
			RenewalHorizon: 7 * 24 * time.Hour,
		},
		Storage: StorageConfig{
			Persistent:    storage.Config{Backend: storage.BackendMemory},
			SessionScoped: storage.Config{Backend: storage.BackendMemory},
		},
		Referrer: ReferrerConfig{
			Key: "goenroll:referrer_check",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Referrer.AllowedOrigins = append([]string(nil), cfg.Referrer.AllowedOrigins...)
	return out
}

// Validate checks cross-field constraints and returns the first problem found.
func (c *Config) Validate() error {
	// Endpoints
	for name, raw := range map[string]string{
		"IdentityURL":  c.Endpoints.IdentityURL,
		"BiometricURL": c.Endpoints.BiometricURL,
		"UsersURL":     c.Endpoints.UsersURL,
	} {
		if err := validateBaseURL(raw); err != nil {
			return fmt.Errorf("Endpoints %s: %w", name, err)
		}
	}
	if c.Endpoints.Origin != "" {
		if err := validateBaseURL(c.Endpoints.Origin); err != nil {
			return fmt.Errorf("Endpoints Origin: %w", err)
		}
	}

	// HTTP and cache
	if c.HTTP.Timeout <= 0 {
		return errors.New("HTTP Timeout must be > 0")
	}
	if c.Cache.TTL <= 0 {
		return errors.New("Cache TTL must be > 0")
	}
	if c.Cache.MaxEntries <= 0 {
		return errors.New("Cache MaxEntries must be > 0")
	}

	// Session
	if c.Session.RenewalLead < 0 {
		return errors.New("Session RenewalLead must be >= 0")
	}
	if !c.Session.ScheduleFromExpiry && c.Session.RenewalHorizon <= c.Session.RenewalLead {
		return errors.New("Session RenewalHorizon must be greater than RenewalLead")
	}

	// Storage
	if err := validateStorage(c.Storage.Persistent); err != nil {
		return fmt.Errorf("Storage Persistent: %w", err)
	}
	if err := validateStorage(c.Storage.SessionScoped); err != nil {
		return fmt.Errorf("Storage SessionScoped: %w", err)
	}

	// Referrer
	for _, origin := range c.Referrer.AllowedOrigins {
		if _, ok := normalizeOrigin(origin); !ok {
			return fmt.Errorf("Referrer AllowedOrigins: %q is not an origin", origin)
		}
	}
	if strings.TrimSpace(c.Referrer.Key) == "" {
		return errors.New("Referrer Key must be set")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

func validateStorage(cfg storage.Config) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", storage.BackendMemory:
	case storage.BackendFile:
		if cfg.FilePath == "" {
			return errors.New("file backend requires FilePath")
		}
	case storage.BackendRedis:
		if cfg.RedisAddr == "" {
			return errors.New("redis backend requires RedisAddr")
		}
	default:
		return fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if cfg.Expiration < 0 {
		return errors.New("Expiration must be >= 0")
	}
	return nil
}
