// Package cache memoizes read responses for a short window so repeated
// lookups do not hit the backend and a rate-limited read can fall back to a
// still-fresh answer.
package cache

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/dgraph-io/ristretto/v2"
	"github.com/spaolacci/murmur3"
)

// DefaultTTL is how long an entry stays logically present.
const DefaultTTL = 30 * time.Second

const defaultMaxEntries = 1024

// Config configures a Response cache.
type Config struct {
	TTL        time.Duration
	MaxEntries int64
	Clock      clock.Clock
}

type entry struct {
	payload  []byte
	storedAt time.Time
}

// Response is a TTL-bounded payload cache. Entries older than the TTL are
// treated as absent and removed on the next access.
type Response struct {
	ttl   time.Duration
	clock clock.Clock
	store *ristretto.Cache[string, entry]
}

// New creates a Response cache. Zero values in cfg take the defaults.
func New(cfg Config) (*Response, error) {
	if cfg.TTL < 0 {
		return nil, errors.New("cache: ttl must not be negative")
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	store, err := ristretto.NewCache(&ristretto.Config[string, entry]{
		NumCounters:        cfg.MaxEntries * 10,
		MaxCost:            cfg.MaxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: init: %w", err)
	}

	return &Response{ttl: cfg.TTL, clock: cfg.Clock, store: store}, nil
}

// TTL returns the configured freshness window.
func (c *Response) TTL() time.Duration {
	return c.ttl
}

// Get returns a copy of the payload stored under key when it is younger than the TTL.
func (c *Response) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	e, ok := c.store.Get(key)
	if !ok {
		return nil, false
	}
	if c.clock.Now().Sub(e.storedAt) >= c.ttl {
		c.store.Del(key)
		return nil, false
	}
	return append([]byte(nil), e.payload...), true
}

// Set stores a copy of payload stamped with the current time. The write is
// visible to Get once Set returns.
func (c *Response) Set(key string, payload []byte) {
	if c == nil {
		return
	}
	e := entry{payload: append([]byte(nil), payload...), storedAt: c.clock.Now()}
	c.store.SetWithTTL(key, e, 1, c.ttl)
	c.store.Wait()
}

// Clear drops every entry.
func (c *Response) Clear() {
	if c == nil {
		return
	}
	c.store.Clear()
}

// Close releases the backing cache. The Response must not be used afterwards.
func (c *Response) Close() {
	if c == nil {
		return
	}
	c.store.Close()
}

// Key derives the cache key for a request. The body is reduced to a 128-bit
// murmur3 digest so the key stays short while the target remains readable.
func Key(method, target string, body []byte) string {
	h1, h2 := murmur3.Sum128(body)
	var sum [16]byte
	for i := 0; i < 8; i++ {
		sum[i] = byte(h1 >> (56 - 8*i))
		sum[8+i] = byte(h2 >> (56 - 8*i))
	}
	return method + " " + target + "#" + hex.EncodeToString(sum[:])
}
