// Package roles derives the role profile (role, user type, subscription,
// permissions, landing route) for the signed-in user and caches it.
//
// Query methods never touch the network: they read the cached profile when
// it belongs to the current identity and otherwise recompute it from the
// raw user record. Only the Fetch* and UpdateRole methods call the backend,
// and concurrent fetches for the same user share one call.
package roles

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/permission"
	"github.com/MrEthical07/goEnroll/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Profile defaults applied when the user record leaves a field empty.
const (
	DefaultRole               = permission.RoleUser
	DefaultUserType           = "voter"
	DefaultSubscriptionStatus = "free"
	DefaultRoute              = "/dashboard"
)

// ErrNoIdentity is returned when no user id was given and none is signed in.
var ErrNoIdentity = errors.New("roles: no user identity")

var dashboardRoutes = map[string]string{
	permission.RoleManager:    "/admin/manager",
	permission.RoleAdmin:      "/admin/dashboard",
	permission.RoleModerator:  "/admin/moderation",
	permission.RoleAuditor:    "/admin/audit",
	permission.RoleEditor:     "/admin/content",
	permission.RoleAdvertiser: "/admin/ads",
	permission.RoleAnalyst:    "/admin/analytics",
}

// DashboardRoute maps a role to its landing route.
func DashboardRoute(role string) string {
	if route, ok := dashboardRoutes[permission.Normalize(role)]; ok {
		return route
	}
	return DefaultRoute
}

// Profile is the derived role bundle for one user.
type Profile struct {
	UserID             string
	Role               string
	UserType           string
	SubscriptionStatus string
	Permissions        permission.Set
	User               backend.UserRecord
}

// IsAdmin reports whether the role is manager or admin.
func (p Profile) IsAdmin() bool {
	return p.Role == permission.RoleManager || p.Role == permission.RoleAdmin
}

// Derive builds a profile from a raw user record.
func Derive(u backend.UserRecord) Profile {
	role := permission.Normalize(u.AdminRole)
	if role == "" {
		role = DefaultRole
	}
	return Profile{
		UserID:             u.ID,
		Role:               role,
		UserType:           orDefault(u.UserType, DefaultUserType),
		SubscriptionStatus: orDefault(u.SubscriptionStatus, DefaultSubscriptionStatus),
		Permissions:        permission.For(role),
		User:               u,
	}
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

// Fetcher is the user-management subset used by the engine.
type Fetcher interface {
	GetRole(ctx context.Context, userID string) (*backend.RoleInfo, error)
	GetProfile(ctx context.Context, userID string) (*backend.UserRecord, error)
	UpdateRole(ctx context.Context, userID string, patch backend.RolePatch) (*backend.RoleInfo, error)
}

// UserSource returns the signed-in user's raw record, if any.
type UserSource func() (backend.UserRecord, bool)

// Config configures an Engine.
type Config struct {
	Fetcher Fetcher
	Current UserSource
	Logger  *zap.Logger
	// OnInvalidate runs whenever the cached profile is dropped.
	OnInvalidate func()
}

// Engine caches role profiles and answers role queries.
type Engine struct {
	fetcher      Fetcher
	current      UserSource
	logger       *zap.Logger
	onInvalidate func()

	flight singleflight.Group

	mu      sync.RWMutex
	gen     uint64
	profile *Profile
	user    *backend.UserRecord
}

// New builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("roles: fetcher is required")
	}
	if cfg.Current == nil {
		cfg.Current = func() (backend.UserRecord, bool) { return backend.UserRecord{}, false }
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		fetcher:      cfg.Fetcher,
		current:      cfg.Current,
		logger:       cfg.Logger,
		onInvalidate: cfg.OnInvalidate,
	}, nil
}

// Profile returns the profile for the current identity.
func (e *Engine) Profile() Profile {
	u, _ := e.current()
	e.mu.RLock()
	cached := e.profile
	e.mu.RUnlock()
	if cached != nil && cached.UserID != "" && cached.UserID == u.ID {
		return *cached
	}
	return Derive(u)
}

func (e *Engine) IsAdmin() bool {
	return e.Profile().IsAdmin()
}

func (e *Engine) IsSuperAdmin() bool {
	return e.Profile().Permissions.Has(permission.SuperAdmin)
}

func (e *Engine) CanManageUsers() bool {
	return e.Profile().Permissions.Has(permission.ManageUsers)
}

func (e *Engine) HasPermission(p string) bool {
	return e.Profile().Permissions.Has(p)
}

func (e *Engine) Role() string {
	return e.Profile().Role
}

func (e *Engine) UserType() string {
	return e.Profile().UserType
}

func (e *Engine) SubscriptionStatus() string {
	return e.Profile().SubscriptionStatus
}

func (e *Engine) DashboardRoute() string {
	return DashboardRoute(e.Profile().Role)
}

// FetchRolePermissions loads the role triple for userID (the current
// identity when empty) unless a cached profile for that user exists and
// force is false. A forced fetch also bypasses the transport's response
// cache.
func (e *Engine) FetchRolePermissions(ctx context.Context, userID string, force bool) (Profile, error) {
	userID, base, err := e.resolve(userID)
	if err != nil {
		return Profile{}, err
	}

	key := "role:" + userID
	if force {
		ctx = transport.WithFresh(ctx)
		key += ":fresh"
	} else {
		e.mu.RLock()
		cached := e.profile
		e.mu.RUnlock()
		if cached != nil && cached.UserID == userID {
			return *cached, nil
		}
	}

	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		gen := e.generation()
		info, err := e.fetcher.GetRole(ctx, userID)
		if err != nil {
			return nil, err
		}
		rec := base
		rec.ID = userID
		if info != nil {
			rec.AdminRole = info.AdminRole
			rec.UserType = info.UserType
			rec.SubscriptionStatus = info.SubscriptionStatus
		}
		p := Derive(rec)
		e.store(gen, &p, nil)
		return p, nil
	})
	if err != nil {
		e.logger.Warn("role lookup failed", zap.String("user_id", userID), zap.Error(err))
		return Profile{}, err
	}
	return v.(Profile), nil
}

// FetchUserProfile loads the full user record for userID (the current
// identity when empty) unless a cached record exists and force is false.
func (e *Engine) FetchUserProfile(ctx context.Context, userID string, force bool) (backend.UserRecord, error) {
	userID, _, err := e.resolve(userID)
	if err != nil {
		return backend.UserRecord{}, err
	}

	key := "profile:" + userID
	if force {
		ctx = transport.WithFresh(ctx)
		key += ":fresh"
	} else {
		e.mu.RLock()
		cached := e.user
		e.mu.RUnlock()
		if cached != nil && cached.ID == userID {
			return *cached, nil
		}
	}

	v, err, _ := e.flight.Do(key, func() (interface{}, error) {
		gen := e.generation()
		rec, err := e.fetcher.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, errors.New("roles: empty profile response")
		}
		if rec.ID == "" {
			rec.ID = userID
		}
		p := Derive(*rec)
		e.store(gen, &p, rec)
		return *rec, nil
	})
	if err != nil {
		e.logger.Warn("profile lookup failed", zap.String("user_id", userID), zap.Error(err))
		return backend.UserRecord{}, err
	}
	return v.(backend.UserRecord), nil
}

// UpdateRole patches the role triple, drops cached state and re-fetches.
func (e *Engine) UpdateRole(ctx context.Context, userID string, patch backend.RolePatch) (Profile, error) {
	userID, _, err := e.resolve(userID)
	if err != nil {
		return Profile{}, err
	}
	if patch.AdminRole != "" {
		patch.AdminRole = permission.Normalize(patch.AdminRole)
	}
	if _, err := e.fetcher.UpdateRole(ctx, userID, patch); err != nil {
		return Profile{}, err
	}
	e.Invalidate()
	return e.FetchRolePermissions(ctx, userID, true)
}

// Invalidate drops the cached profile and user record. Fetches already in
// flight will not repopulate the cache.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	e.gen++
	e.profile = nil
	e.user = nil
	e.mu.Unlock()

	if e.onInvalidate != nil {
		e.onInvalidate()
	}
}

func (e *Engine) resolve(userID string) (string, backend.UserRecord, error) {
	u, ok := e.current()
	userID = strings.TrimSpace(userID)
	if userID == "" {
		if !ok || u.ID == "" {
			return "", backend.UserRecord{}, ErrNoIdentity
		}
		return u.ID, u, nil
	}
	if ok && u.ID == userID {
		return userID, u, nil
	}
	return userID, backend.UserRecord{}, nil
}

func (e *Engine) generation() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.gen
}

func (e *Engine) store(gen uint64, p *Profile, u *backend.UserRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen {
		return
	}
	e.profile = p
	if u != nil {
		e.user = u
	}
}
