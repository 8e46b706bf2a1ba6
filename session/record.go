package session

import (
	"regexp"
	"strconv"
	"time"
)

// DefaultExpiry is used when an expiry descriptor cannot be parsed.
const DefaultExpiry = 60 * time.Second

// DefaultExpiryDescriptor is stored when the backend omits a lifetime.
const DefaultExpiryDescriptor = "60s"

var expiryPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var expiryUnits = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseExpiry converts a "<integer><unit>" descriptor (unit one of s, m, h,
// d) into a duration. Anything else yields [DefaultExpiry].
func ParseExpiry(descriptor string) time.Duration {
	m := expiryPattern.FindStringSubmatch(descriptor)
	if m == nil {
		return DefaultExpiry
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return DefaultExpiry
	}
	unit := expiryUnits[m[2]]
	if n > int64(1<<62)/int64(unit) {
		return DefaultExpiry
	}
	return time.Duration(n) * unit
}

// Record is the persisted credential pair plus its expiry bookkeeping.
type Record struct {
	AccessToken  string
	RefreshToken string
	Expiry       string
	IssuedAt     time.Time
}

// Complete reports whether every field is populated. Incomplete records are
// treated as absent.
func (r *Record) Complete() bool {
	return r != nil &&
		r.AccessToken != "" &&
		r.RefreshToken != "" &&
		r.Expiry != "" &&
		!r.IssuedAt.IsZero()
}

// Lifetime returns the parsed expiry descriptor.
func (r *Record) Lifetime() time.Duration {
	return ParseExpiry(r.Expiry)
}

// ExpiredAt reports whether the record has expired at now.
func (r *Record) ExpiredAt(now time.Time) bool {
	if !r.Complete() {
		return true
	}
	return now.Sub(r.IssuedAt) >= r.Lifetime()
}
