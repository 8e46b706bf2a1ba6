package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/internal/clock"
	"github.com/MrEthical07/goEnroll/jwt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrNoRefreshToken is returned by Refresh when no refresh token is stored.
	ErrNoRefreshToken = errors.New("session: no refresh token")
	// ErrIncompleteRecord is returned when a credential pair is missing a field.
	ErrIncompleteRecord = errors.New("session: incomplete credential record")
	// ErrSessionEnded is returned when the session was cleared while a refresh was in flight.
	ErrSessionEnded = errors.New("session: ended during refresh")
	// ErrNoSession is returned by accessors when no record is stored.
	ErrNoSession = errors.New("session: no credential record")
)

const (
	// DefaultRenewalLead is how long before the deadline renewal fires.
	DefaultRenewalLead = 60 * time.Second
	// DefaultRenewalHorizon is the fixed lookahead the renewal timer schedules against.
	DefaultRenewalHorizon = 7 * 24 * time.Hour

	timerRefreshTimeout = 30 * time.Second
)

// Refresher exchanges a refresh token for a new credential pair.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*backend.TokenPair, error)
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Store     *Store
	Refresher Refresher
	Clock     clock.Clock
	Logger    *zap.Logger

	RenewalLead    time.Duration
	RenewalHorizon time.Duration
	// ScheduleFromExpiry arms the timer from the stored expiry descriptor
	// instead of the fixed horizon.
	ScheduleFromExpiry bool

	// OnRefreshFailure runs after any failed refresh, before the error is
	// returned. The engine uses it to end the session.
	OnRefreshFailure func(ctx context.Context, err error)
	// OnRefreshSuccess runs after a rotated pair has been stored.
	OnRefreshSuccess func(r Record)
}

// Manager owns the Credential Record lifecycle: writes, expiry checks,
// rotation and the self-scheduling renewal timer.
type Manager struct {
	cfg ManagerConfig

	flight singleflight.Group

	mu       sync.Mutex
	timer    clock.Timer
	timerSeq uint64
	epoch    uint64
}

// NewManager builds a Manager. Store and Refresher are required.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Store == nil {
		return nil, errors.New("session: store is required")
	}
	if cfg.Refresher == nil {
		return nil, errors.New("session: refresher is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.RenewalLead <= 0 {
		cfg.RenewalLead = DefaultRenewalLead
	}
	if cfg.RenewalHorizon <= 0 {
		cfg.RenewalHorizon = DefaultRenewalHorizon
	}
	return &Manager{cfg: cfg}, nil
}

// SetTokens overwrites the whole record with a fresh issue time and re-arms
// renewal. Any previously stored refresh token is superseded.
func (m *Manager) SetTokens(ctx context.Context, access, refresh, expiry string) error {
	r, err := m.newRecord(access, refresh, expiry)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLocked(ctx, r)
}

func (m *Manager) newRecord(access, refresh, expiry string) (Record, error) {
	access = strings.TrimSpace(access)
	refresh = strings.TrimSpace(refresh)
	if access == "" || refresh == "" {
		return Record{}, ErrIncompleteRecord
	}
	if strings.TrimSpace(expiry) == "" {
		expiry = DefaultExpiryDescriptor
	}
	return Record{
		AccessToken:  access,
		RefreshToken: refresh,
		Expiry:       expiry,
		IssuedAt:     m.cfg.Clock.Now(),
	}, nil
}

// saveLocked writes r and arms renewal. Holding m.mu across the write makes
// Stop, and therefore Clear, wait for it.
func (m *Manager) saveLocked(ctx context.Context, r Record) error {
	if err := m.cfg.Store.Save(ctx, r); err != nil {
		return err
	}
	m.armLocked(r)
	return nil
}

// Record returns the stored record, or nil when there is none.
func (m *Manager) Record(ctx context.Context) (*Record, error) {
	return m.cfg.Store.Load(ctx)
}

// AccessToken returns the stored access token, or "" when there is none.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	r, err := m.cfg.Store.Load(ctx)
	if err != nil || r == nil {
		return "", err
	}
	return r.AccessToken, nil
}

// Claims peeks at the stored access token's claims without verification.
func (m *Manager) Claims(ctx context.Context) (*jwt.Claims, error) {
	r, err := m.cfg.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrNoSession
	}
	return jwt.Peek(r.AccessToken)
}

// IsExpired reports whether there is no usable record or its lifetime has
// elapsed. A storage failure counts as expired.
func (m *Manager) IsExpired(ctx context.Context) bool {
	r, err := m.cfg.Store.Load(ctx)
	if err != nil {
		m.cfg.Logger.Warn("credential record unreadable", zap.Error(err))
		return true
	}
	return r.ExpiredAt(m.cfg.Clock.Now())
}

// Refresh rotates the credential pair. Concurrent callers share one backend
// call. On failure OnRefreshFailure runs and the error is returned.
func (m *Manager) Refresh(ctx context.Context) error {
	_, err, _ := m.flight.Do("refresh", func() (interface{}, error) {
		return nil, m.refresh(ctx)
	})
	return err
}

func (m *Manager) refresh(ctx context.Context) error {
	epoch := m.currentEpoch()

	r, err := m.cfg.Store.Load(ctx)
	if err != nil {
		return m.fail(ctx, err)
	}
	if r == nil || r.RefreshToken == "" {
		return m.fail(ctx, ErrNoRefreshToken)
	}

	pair, err := m.cfg.Refresher.Refresh(ctx, r.RefreshToken)
	if err != nil {
		return m.fail(ctx, err)
	}
	if m.currentEpoch() != epoch {
		return ErrSessionEnded
	}
	if pair == nil || pair.AccessToken == "" || pair.RefreshToken == "" {
		return m.fail(ctx, ErrIncompleteRecord)
	}

	expiry := string(pair.ExpiresIn)
	if expiry == "" {
		expiry = r.Expiry
	}
	rotated, err := m.newRecord(pair.AccessToken, pair.RefreshToken, expiry)
	if err != nil {
		return m.fail(ctx, err)
	}

	// The epoch is checked again under the lock: a Clear that slipped in
	// after the call returned must not be undone by this write.
	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return ErrSessionEnded
	}
	err = m.saveLocked(ctx, rotated)
	m.mu.Unlock()
	if err != nil {
		return m.fail(ctx, err)
	}

	m.cfg.Logger.Info("credential pair rotated")
	if m.cfg.OnRefreshSuccess != nil {
		if stored, err := m.cfg.Store.Load(ctx); err == nil && stored != nil {
			m.cfg.OnRefreshSuccess(*stored)
		}
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, err error) error {
	m.cfg.Logger.Warn("credential refresh failed", zap.Error(err))
	if m.cfg.OnRefreshFailure != nil {
		m.cfg.OnRefreshFailure(ctx, err)
	}
	return err
}

// Restore loads the stored record and arms renewal when it is still valid.
func (m *Manager) Restore(ctx context.Context) (*Record, error) {
	r, err := m.cfg.Store.Load(ctx)
	if err != nil || r == nil {
		return nil, err
	}
	if !r.ExpiredAt(m.cfg.Clock.Now()) {
		m.arm(*r)
	}
	return r, nil
}

// Stop cancels the renewal timer and invalidates any refresh in flight.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	m.stopLocked()
}

// Clear stops renewal and deletes the persisted record and user.
func (m *Manager) Clear(ctx context.Context) error {
	m.Stop()
	return m.cfg.Store.Clear(ctx)
}

// Armed reports whether a renewal timer is pending.
func (m *Manager) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}

// Deadline returns when renewal for r would fire.
func (m *Manager) Deadline(r Record) time.Time {
	horizon := m.cfg.RenewalHorizon
	if m.cfg.ScheduleFromExpiry {
		horizon = r.Lifetime()
	}
	return r.IssuedAt.Add(horizon - m.cfg.RenewalLead)
}

func (m *Manager) arm(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.armLocked(r)
}

func (m *Manager) armLocked(r Record) {
	m.stopLocked()
	delay := m.Deadline(r).Sub(m.cfg.Clock.Now())
	if delay <= 0 {
		m.cfg.Logger.Debug("renewal deadline already passed; timer not armed")
		return
	}

	m.timerSeq++
	seq := m.timerSeq
	m.timer = m.cfg.Clock.AfterFunc(delay, func() { m.fire(seq) })
}

func (m *Manager) fire(seq uint64) {
	m.mu.Lock()
	if seq != m.timerSeq || m.timer == nil {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timerRefreshTimeout)
	defer cancel()
	if err := m.Refresh(ctx); err != nil {
		m.cfg.Logger.Warn("scheduled renewal failed", zap.Error(err))
	}
}

func (m *Manager) stopLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.timerSeq++
}

func (m *Manager) currentEpoch() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch
}
