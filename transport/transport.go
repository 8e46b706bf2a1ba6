// Package transport turns a method + path + body into an HTTP call against
// one of the backend services. It attaches the bearer and same-origin
// headers, deduplicates reads through the response cache, and falls back to
// a cached payload when the backend answers 429 and one happens to exist.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrEthical07/goEnroll/cache"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxResponseBytes = 4 << 20

// TokenSource returns the current access token, or "" when there is none.
type TokenSource func(ctx context.Context) (string, error)

// Observer receives cache and rate-limit notifications. Targets never
// include query values.
type Observer interface {
	CacheHit(target string)
	CacheMiss(target string)
	RateLimitFallback(target string)
	RateLimited(target string)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)          {}
func (nopObserver) CacheMiss(string)         {}
func (nopObserver) RateLimitFallback(string) {}
func (nopObserver) RateLimited(string)       {}

// Config configures a Client.
type Config struct {
	HTTPClient *http.Client
	// Origin is sent as the Referer, with a trailing slash.
	Origin      string
	Cache       *cache.Response
	TokenSource TokenSource
	Logger      *zap.Logger
	Observer    Observer
}

// Request describes one backend call.
type Request struct {
	Method  string
	BaseURL string
	Path    string
	Query   url.Values
	Body    any
	// NoCache skips the cached read and the 429 fallback. A successful GET
	// still refreshes the cache.
	NoCache bool
}

type freshKey struct{}

// WithFresh marks ctx so every request made with it behaves as if NoCache
// were set. Callers that only see a backend interface use it to force a
// round trip.
func WithFresh(ctx context.Context) context.Context {
	return context.WithValue(ctx, freshKey{}, true)
}

func isFresh(ctx context.Context) bool {
	fresh, _ := ctx.Value(freshKey{}).(bool)
	return fresh
}

// Client performs backend calls. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	referer  string
	cache    *cache.Response
	tokens   TokenSource
	logger   *zap.Logger
	observer Observer
}

// New builds a Client. A nil HTTPClient gets a 15s timeout client.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := cfg.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	referer := ""
	if origin := strings.TrimRight(cfg.Origin, "/"); origin != "" {
		referer = origin + "/"
	}
	return &Client{
		http:     hc,
		referer:  referer,
		cache:    cfg.Cache,
		tokens:   cfg.TokenSource,
		logger:   logger,
		observer: observer,
	}
}

// Do sends req and decodes the JSON response into out (which may be nil).
// A response wrapped as {"data": ...} is unwrapped before decoding.
//
// A GET is answered from the cache while its entry is younger than the TTL.
// On a 429 Do looks the key up once more and serves whatever it finds. For
// a GET that entry can only have been stored by a concurrent request that
// completed between the miss and the 429, so the fallback covers that race
// window and nothing more. Writes are never stored by Do; their fallback
// only fires for entries a caller put in the shared cache itself. Requests
// marked NoCache, or made with a [WithFresh] context, skip both lookups.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target := strings.TrimRight(req.BaseURL, "/") + "/" + strings.TrimLeft(req.Path, "/")
	full := target
	if len(req.Query) > 0 {
		full += "?" + req.Query.Encode()
	}

	var body []byte
	if req.Body != nil {
		var err error
		body, err = json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("transport: encode body: %w", err)
		}
	}

	noCache := req.NoCache || isFresh(ctx)
	key := cache.Key(method, full, body)
	if method == http.MethodGet && c.cache != nil && !noCache {
		if payload, ok := c.cache.Get(key); ok {
			c.observer.CacheHit(target)
			return decode(payload, out)
		}
		c.observer.CacheMiss(target)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, full, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	if err := c.setHeaders(ctx, httpReq, body != nil); err != nil {
		return err
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.String("method", method),
			zap.String("target", target),
			zap.Error(err),
		)
		return &Error{Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &Error{Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("backend request",
		zap.String("method", method),
		zap.String("target", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	if resp.StatusCode == http.StatusTooManyRequests {
		if !noCache {
			if cached, ok := c.cache.Get(key); ok {
				c.observer.RateLimitFallback(target)
				c.logger.Info("rate limited, serving cached response", zap.String("target", target))
				return decode(cached, out)
			}
		}
		c.observer.RateLimited(target)
		return &Error{Status: resp.StatusCode, Message: backendMessage(payload)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Status: resp.StatusCode, Message: backendMessage(payload)}
	}

	if method == http.MethodGet && c.cache != nil {
		c.cache.Set(key, payload)
	}
	return decode(payload, out)
}

func (c *Client) setHeaders(ctx context.Context, r *http.Request, hasBody bool) error {
	r.Header.Set("Accept", "application/json")
	r.Header.Set("Content-Type", "application/json")
	if !hasBody {
		r.ContentLength = 0
		r.Body = http.NoBody
	}
	if c.referer != "" {
		r.Header.Set("Referer", c.referer)
	}
	r.Header.Set("X-Request-ID", uuid.NewString())

	if c.tokens == nil {
		return nil
	}
	token, err := c.tokens(ctx)
	if err != nil {
		return fmt.Errorf("transport: token source: %w", err)
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return nil
}

func decode(payload []byte, out any) error {
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(payload, &envelope); err == nil {
		if inner, ok := envelope["data"]; ok {
			payload = inner
		}
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}

func backendMessage(payload []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		return ""
	}
	if msg := strings.TrimSpace(body.Message); msg != "" {
		return msg
	}
	return strings.TrimSpace(body.Error)
}

// Error is returned for network failures (Status 0) and non-2xx responses.
type Error struct {
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status == 0 && e.Err != nil:
		return "transport: " + e.Err.Error()
	case e.Message != "":
		return fmt.Sprintf("transport: status %d: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("transport: status %d: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("transport: status %d", e.Status)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RateLimited reports whether the backend answered 429.
func (e *Error) RateLimited() bool {
	return e.Status == http.StatusTooManyRequests
}

// IsRateLimited reports whether err is, or wraps, a 429 transport error.
func IsRateLimited(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.RateLimited()
}

// Message returns the backend-provided message carried by err, if any.
func Message(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return ""
}
