package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goEnroll/storage"
)

// Storage key suffixes. The full key is the store prefix plus the suffix.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyTokenExpiry  = "token_expiry"
	KeyIssuedAt     = "token_issued_at"
	KeyUser         = "user"
)

// Store persists the Credential Record and the last known user record.
type Store struct {
	backend storage.Storage
	prefix  string
}

// NewStore wraps backend. prefix namespaces every key, e.g. "goenroll:".
func NewStore(backend storage.Storage, prefix string) *Store {
	return &Store{backend: backend, prefix: prefix}
}

func (s *Store) key(suffix string) string {
	return s.prefix + suffix
}

// Keys returns the five fully-qualified keys owned by the store.
func (s *Store) Keys() []string {
	return []string{
		s.key(KeyAccessToken),
		s.key(KeyRefreshToken),
		s.key(KeyTokenExpiry),
		s.key(KeyIssuedAt),
		s.key(KeyUser),
	}
}

// Save writes all four record fields in one SetMany.
func (s *Store) Save(ctx context.Context, r Record) error {
	if !r.Complete() {
		return ErrIncompleteRecord
	}
	expiry, err := json.Marshal(r.Expiry)
	if err != nil {
		return fmt.Errorf("session: encode expiry: %w", err)
	}
	return s.backend.SetMany(ctx, map[string]string{
		s.key(KeyAccessToken):  r.AccessToken,
		s.key(KeyRefreshToken): r.RefreshToken,
		s.key(KeyTokenExpiry):  string(expiry),
		s.key(KeyIssuedAt):     strconv.FormatInt(r.IssuedAt.UnixMilli(), 10),
	})
}

// Load returns the stored record, or nil when it is absent, partial or
// undecodable.
func (s *Store) Load(ctx context.Context) (*Record, error) {
	access, ok, err := s.get(ctx, KeyAccessToken)
	if err != nil || !ok {
		return nil, err
	}
	refresh, ok, err := s.get(ctx, KeyRefreshToken)
	if err != nil || !ok {
		return nil, err
	}
	rawExpiry, ok, err := s.get(ctx, KeyTokenExpiry)
	if err != nil || !ok {
		return nil, err
	}
	rawIssued, ok, err := s.get(ctx, KeyIssuedAt)
	if err != nil || !ok {
		return nil, err
	}

	var expiry string
	if err := json.Unmarshal([]byte(rawExpiry), &expiry); err != nil {
		return nil, nil
	}
	ms, err := strconv.ParseInt(rawIssued, 10, 64)
	if err != nil {
		return nil, nil
	}

	r := &Record{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       expiry,
		IssuedAt:     time.UnixMilli(ms),
	}
	if !r.Complete() {
		return nil, nil
	}
	return r, nil
}

// SaveUser stores v as JSON under the user key.
func (s *Store) SaveUser(ctx context.Context, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: encode user: %w", err)
	}
	return s.backend.SetMany(ctx, map[string]string{s.key(KeyUser): string(raw)})
}

// LoadUser decodes the stored user record into v. It reports false when no
// usable record exists.
func (s *Store) LoadUser(ctx context.Context, v any) (bool, error) {
	raw, ok, err := s.get(ctx, KeyUser)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, nil
	}
	return true, nil
}

// Clear deletes all five keys.
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Delete(ctx, s.Keys()...)
}

func (s *Store) get(ctx context.Context, suffix string) (string, bool, error) {
	v, err := s.backend.Get(ctx, s.key(suffix))
	if errors.Is(err, storage.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}
