package permission

import (
	"sort"
	"strings"
)

// Permission names granted by the role table.
const (
	ManageUsers     = "manage_users"
	ManageElections = "manage_elections"
	SuperAdmin      = "super_admin"
	SystemConfig    = "system_config"
	ViewAnalytics   = "view_analytics"
	ExportReports   = "export_reports"
	ManageContent   = "manage_content"
	PublishContent  = "publish_content"
	ModerateContent = "moderate_content"
	ManageComments  = "manage_comments"
	ViewReports     = "view_reports"
	ViewAuditLogs   = "view_audit_logs"
	ManageAds       = "manage_ads"
	ViewAdAnalytics = "view_ad_analytics"
)

// Role names recognised by the table. Anything else, including RoleUser,
// maps to the empty permission set.
const (
	RoleManager    = "manager"
	RoleAdmin      = "admin"
	RoleModerator  = "moderator"
	RoleAuditor    = "auditor"
	RoleEditor     = "editor"
	RoleAdvertiser = "advertiser"
	RoleAnalyst    = "analyst"
	RoleUser       = "user"
)

var universe = []string{
	ManageUsers,
	ManageElections,
	SuperAdmin,
	SystemConfig,
	ViewAnalytics,
	ExportReports,
	ManageContent,
	PublishContent,
	ModerateContent,
	ManageComments,
	ViewReports,
	ViewAuditLogs,
	ManageAds,
	ViewAdAnalytics,
}

var roleTable = map[string][]string{
	RoleManager: {
		ManageUsers, ManageElections, SuperAdmin, SystemConfig, ViewAnalytics,
		ManageContent, ModerateContent, ViewAuditLogs, ManageAds,
	},
	RoleAdmin: {
		ManageUsers, ManageElections, SuperAdmin, ViewAnalytics,
		ManageContent, ModerateContent, ViewAuditLogs,
	},
	RoleModerator:  {ModerateContent, ManageComments, ViewReports},
	RoleAuditor:    {ViewAuditLogs, ViewAnalytics, ExportReports},
	RoleEditor:     {ManageContent, PublishContent},
	RoleAdvertiser: {ManageAds, ViewAdAnalytics},
	RoleAnalyst:    {ViewAnalytics, ExportReports},
}

var (
	registry  *Registry
	roleMasks map[string]Mask64
)

func init() {
	var err error
	if registry, err = NewRegistry(universe...); err != nil {
		panic(err)
	}

	roleMasks = make(map[string]Mask64, len(roleTable))
	for role, names := range roleTable {
		m, err := registry.Mask(names...)
		if err != nil {
			panic("permission: role " + role + ": " + err.Error())
		}
		roleMasks[role] = m
	}
}

// Normalize lower-cases and trims a role string.
func Normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}

// KnownRole reports whether role has an entry in the table. "user" is a
// valid role but carries no permissions, so it is not "known" here.
func KnownRole(role string) bool {
	_, ok := roleMasks[Normalize(role)]
	return ok
}

// Roles returns the roles in the table, sorted.
func Roles() []string {
	out := make([]string, 0, len(roleTable))
	for role := range roleTable {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Universe returns every permission name in the table.
func Universe() []string {
	return append([]string(nil), universe...)
}

// For returns the permission set for role. Unknown, empty and "user" roles
// yield the empty set.
func For(role string) Set {
	return Set{mask: roleMasks[Normalize(role)]}
}

// Set is an immutable permission set.
type Set struct {
	mask Mask64
}

// Has reports whether the set grants permission p.
func (s Set) Has(p string) bool {
	bit, ok := registry.Bit(p)
	if !ok {
		return false
	}
	return s.mask.Has(bit)
}

// Names returns the granted permissions, sorted.
func (s Set) Names() []string {
	names := registry.Names(s.mask)
	sort.Strings(names)
	return names
}

func (s Set) Len() int {
	return s.mask.Count()
}

func (s Set) Empty() bool {
	return s.mask == 0
}

// Mask exposes the underlying bitmask.
func (s Set) Mask() Mask64 {
	return s.mask
}
