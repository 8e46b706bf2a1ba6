package devserver

import (
	"crypto/ed25519"
	"crypto/subtle"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal"
)

type storedQuestion struct {
	Question string
	Hash     string
}

type fallbackKey struct {
	ID      string
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

type credential struct {
	ID   string
	Type string
}

type account struct {
	record      backend.UserRecord
	profiled    bool
	questions   []storedQuestion
	key         *fallbackKey
	devices     map[string]backend.DeviceRegistration
	biometrics  map[string]string
	credentials []credential
	challenge   []byte
}

type otpEntry struct {
	code     string
	expires  time.Time
	attempts int
}

type refreshFamily struct {
	userID  string
	current [32]byte
	expires time.Time
	revoked bool
}

// memStore holds all server state behind one mutex.
type memStore struct {
	mu sync.Mutex

	accounts map[string]*account
	byEmail  map[string]string
	byPhone  map[string]string

	otps     map[string]*otpEntry
	verified map[string]bool

	families map[internal.FamilyID]*refreshFamily
}

func newMemStore() *memStore {
	return &memStore{
		accounts: map[string]*account{},
		byEmail:  map[string]string{},
		byPhone:  map[string]string{},
		otps:     map[string]*otpEntry{},
		verified: map[string]bool{},
		families: map[internal.FamilyID]*refreshFamily{},
	}
}

func otpKey(channel, dest string) string {
	return channel + ":" + strings.ToLower(strings.TrimSpace(dest))
}

// resolve returns the account matching email or phone, creating one under
// newID when neither is known. Email wins when both match different users.
func (s *memStore) resolve(email, phone, newID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	if id, ok := s.byEmail[email]; ok && email != "" {
		s.linkPhoneLocked(id, phone)
		return id
	}
	if id, ok := s.byPhone[phone]; ok && phone != "" {
		if email != "" {
			s.byEmail[email] = id
			s.accounts[id].record.Email = email
		}
		return id
	}

	s.accounts[newID] = &account{
		record:     backend.UserRecord{ID: newID, Email: email, Phone: phone},
		devices:    map[string]backend.DeviceRegistration{},
		biometrics: map[string]string{},
	}
	if email != "" {
		s.byEmail[email] = newID
	}
	s.linkPhoneLocked(newID, phone)
	return newID
}

func (s *memStore) linkPhoneLocked(id, phone string) {
	if phone == "" {
		return
	}
	if _, taken := s.byPhone[phone]; taken {
		return
	}
	s.byPhone[phone] = id
	if a := s.accounts[id]; a != nil && a.record.Phone == "" {
		a.record.Phone = phone
	}
}

// with runs fn on the account id under the store lock.
func (s *memStore) with(id string, fn func(a *account) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return notFound("Unknown user.")
	}
	return fn(a)
}

func (s *memStore) putOTP(key, code string, expires time.Time) {
	s.mu.Lock()
	s.otps[key] = &otpEntry{code: code, expires: expires}
	s.mu.Unlock()
}

func (s *memStore) lastOTP(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.otps[key]
	if !ok {
		return "", false
	}
	return e.code, true
}

// checkOTP consumes the code on success. A wrong code counts against the
// attempt budget; the entry is dropped once the budget is spent.
func (s *memStore) checkOTP(key, code string, now time.Time, maxAttempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.otps[key]
	if !ok || now.After(e.expires) {
		delete(s.otps, key)
		return badRequest("Invalid or expired code.")
	}
	if subtle.ConstantTimeCompare([]byte(e.code), []byte(code)) != 1 {
		e.attempts++
		if e.attempts >= maxAttempts {
			delete(s.otps, key)
			return badRequest("Too many incorrect attempts. Request a new code.")
		}
		return badRequest("Invalid or expired code.")
	}
	delete(s.otps, key)
	s.verified[key] = true
	return nil
}

func (s *memStore) isVerified(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verified[key]
}

func (s *memStore) putFamily(id internal.FamilyID, f *refreshFamily) {
	s.mu.Lock()
	s.families[id] = f
	s.mu.Unlock()
}

// rotate swaps the family's current secret hash for next. Presenting a
// secret other than the current one revokes the family.
func (s *memStore) rotate(id internal.FamilyID, presented, next [32]byte, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.families[id]
	if !ok || f.revoked || now.After(f.expires) {
		return "", unauthorized("Session expired. Please sign in again.")
	}
	if subtle.ConstantTimeCompare(f.current[:], presented[:]) != 1 {
		f.revoked = true
		return "", errRefreshReuse
	}
	f.current = next
	return f.userID, nil
}

var errRefreshReuse = &apiError{Status: 401, Message: "Refresh token reuse detected. Please sign in again."}
