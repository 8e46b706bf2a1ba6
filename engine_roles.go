package goEnroll

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/MrEthical07/goEnroll/backend"
	"github.com/MrEthical07/goEnroll/permission"
	"github.com/MrEthical07/goEnroll/roles"
	"go.uber.org/zap"
)

// Role queries never touch the network. They answer from the cached role
// profile when it belongs to the signed-in user and from the stored user
// record otherwise.

func (e *Engine) IsAdmin() bool        { return e.roles.IsAdmin() }
func (e *Engine) IsSuperAdmin() bool   { return e.roles.IsSuperAdmin() }
func (e *Engine) CanManageUsers() bool { return e.roles.CanManageUsers() }

// HasPermission reports whether the current role grants p.
func (e *Engine) HasPermission(p string) bool { return e.roles.HasPermission(p) }

func (e *Engine) UserRole() string           { return e.roles.Role() }
func (e *Engine) UserType() string           { return e.roles.UserType() }
func (e *Engine) SubscriptionStatus() string { return e.roles.SubscriptionStatus() }

// DashboardRoute is the landing route for the current role.
func (e *Engine) DashboardRoute() string { return e.roles.DashboardRoute() }

// Permissions returns the permission names granted to the current role.
func (e *Engine) Permissions() []string {
	return e.roles.Profile().Permissions.Names()
}

// RoleProfile returns the derived role bundle for the current user.
func (e *Engine) RoleProfile() roles.Profile {
	return e.roles.Profile()
}

// FetchRolePermissions loads the role triple for userID, or for the
// signed-in user when userID is empty. A cached profile for the same user
// is returned unless force is set.
func (e *Engine) FetchRolePermissions(ctx context.Context, userID string, force bool) (roles.Profile, error) {
	const op = "fetch_role_permissions"
	p, err := e.roles.FetchRolePermissions(ctx, userID, force)
	if err != nil {
		return roles.Profile{}, e.roleError(op, err)
	}
	return p, nil
}

// FetchUserProfile loads the full user record for userID, or for the
// signed-in user when userID is empty.
func (e *Engine) FetchUserProfile(ctx context.Context, userID string, force bool) (backend.UserRecord, error) {
	const op = "fetch_user_profile"
	u, err := e.roles.FetchUserProfile(ctx, userID, force)
	if err != nil {
		return backend.UserRecord{}, e.roleError(op, err)
	}
	return u, nil
}

// UpdateUserRole patches a user's role triple and returns the re-fetched
// profile. When the target is the signed-in user the stored user record is
// updated too.
func (e *Engine) UpdateUserRole(ctx context.Context, userID string, patch backend.RolePatch) (roles.Profile, error) {
	const op = "update_user_role"
	if patch.AdminRole != "" && permission.Normalize(patch.AdminRole) != permission.RoleUser && !permission.KnownRole(patch.AdminRole) {
		return roles.Profile{}, invalidInput(op, ErrInvalidProfile, "Unknown role "+patch.AdminRole+".", "unknown role "+strconv.Quote(patch.AdminRole))
	}

	p, err := e.roles.UpdateRole(ctx, userID, patch)
	if err != nil {
		rerr := e.roleError(op, err)
		e.emitAudit(ctx, auditEventRoleUpdated, rerr, nil)
		return roles.Profile{}, rerr
	}

	e.updateCurrentUser(ctx, p.UserID, func(u *backend.UserRecord) {
		u.AdminRole = p.Role
		u.UserType = p.UserType
		u.SubscriptionStatus = p.SubscriptionStatus
	})
	e.emitAudit(ctx, auditEventRoleUpdated, nil, map[string]string{
		"target_user": p.UserID,
		"role":        p.Role,
	})
	return p, nil
}

// UpdateProfile patches the signed-in user's profile fields.
func (e *Engine) UpdateProfile(ctx context.Context, patch backend.ProfilePatch) (backend.UserRecord, error) {
	const op = "update_profile"
	cur, ok := e.currentUser()
	if !ok || cur.ID == "" {
		return backend.UserRecord{}, stateError(op, ErrNotAuthenticated, "Sign in to update your profile.")
	}

	patch.FirstName = strings.TrimSpace(patch.FirstName)
	patch.LastName = strings.TrimSpace(patch.LastName)
	patch.DateOfBirth = strings.TrimSpace(patch.DateOfBirth)
	patch.Region = strings.TrimSpace(patch.Region)

	rec, err := e.users.UpdateProfile(ctx, cur.ID, patch)
	if err != nil {
		return backend.UserRecord{}, remoteError(op, err)
	}

	e.updateCurrentUser(ctx, cur.ID, func(u *backend.UserRecord) {
		if rec != nil {
			merged := *rec
			if merged.ID == "" {
				merged.ID = u.ID
			}
			*u = merged
			return
		}
		if patch.FirstName != "" {
			u.FirstName = patch.FirstName
		}
		if patch.LastName != "" {
			u.LastName = patch.LastName
		}
		if patch.DateOfBirth != "" {
			u.DateOfBirth = patch.DateOfBirth
		}
		if patch.Region != "" {
			u.Region = patch.Region
		}
	})
	e.roles.Invalidate()

	u, _ := e.currentUser()
	return u, nil
}

// updateCurrentUser applies fn to the signed-in user's record when it has
// id, and persists the result.
func (e *Engine) updateCurrentUser(ctx context.Context, id string, fn func(u *backend.UserRecord)) {
	e.mu.Lock()
	if e.user == nil || e.user.ID != id {
		e.mu.Unlock()
		return
	}
	u := *e.user
	fn(&u)
	e.user = &u
	e.mu.Unlock()

	if err := e.store.SaveUser(ctx, u); err != nil {
		e.logger.Warn("persisting user record failed", zap.Error(err))
	}
}

func (e *Engine) roleError(op string, err error) error {
	if errors.Is(err, roles.ErrNoIdentity) {
		return stateError(op, ErrNotAuthenticated, "Sign in to continue.")
	}
	return remoteError(op, err)
}
