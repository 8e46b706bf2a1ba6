package devserver

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goEnroll/internal/answer"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"go.uber.org/zap"
)

// Config configures a Server.
type Config struct {
	// JWTSecret signs HS256 access tokens. It must be at least 32 bytes.
	JWTSecret  []byte
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	OTPDigits   int
	OTPTTL      time.Duration
	OTPAttempts int

	// RedisAddr selects an external Redis for rate limiting. Empty starts
	// an embedded miniredis.
	RedisAddr string
	// DisableRateLimit turns every limiter into a no-op.
	DisableRateLimit bool

	RPID   string
	RPName string

	Answers answer.Config

	Logger *zap.Logger
	Clock  clock.Clock
}

// DefaultConfig returns a Config usable without further tuning, apart
// from the JWT secret.
func DefaultConfig() Config {
	return Config{
		Issuer:      "goenroll-devserver",
		AccessTTL:   15 * time.Minute,
		RefreshTTL:  7 * 24 * time.Hour,
		OTPDigits:   6,
		OTPTTL:      10 * time.Minute,
		OTPAttempts: 5,
		RPID:        "localhost",
		RPName:      "goEnroll",
		Answers:     answer.DefaultConfig(),
	}
}

func (c Config) validate() error {
	if len(c.JWTSecret) < 32 {
		return errors.New("devserver: JWTSecret must be at least 32 bytes")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= c.AccessTTL {
		return errors.New("devserver: RefreshTTL must exceed a positive AccessTTL")
	}
	if c.OTPTTL <= 0 || c.OTPAttempts <= 0 {
		return errors.New("devserver: OTP TTL and attempts must be positive")
	}
	if strings.TrimSpace(c.RPID) == "" {
		return errors.New("devserver: RPID is required")
	}
	return nil
}

// expiryDescriptor renders d in the largest whole unit, the way the real
// services describe lifetimes ("15m", "7d").
func expiryDescriptor(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return itoa(int64(d/(24*time.Hour))) + "d"
	case d%time.Hour == 0:
		return itoa(int64(d/time.Hour)) + "h"
	case d%time.Minute == 0:
		return itoa(int64(d/time.Minute)) + "m"
	default:
		return itoa(int64(d/time.Second)) + "s"
	}
}
