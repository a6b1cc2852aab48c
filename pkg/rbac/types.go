package rbac

import (
	"time"
)

// Scope represents the granularity level a role applies to.
type Scope string

const (
	ScopeOrganization Scope = "ORGANIZATION"
	ScopeEnvironment  Scope = "ENVIRONMENT"
	ScopeGroup        Scope = "GROUP"
	ScopeAPI          Scope = "API"
	ScopeApplication  Scope = "APPLICATION"
)

// Scopes returns every known scope.
func Scopes() []Scope {
	return []Scope{ScopeOrganization, ScopeEnvironment, ScopeGroup, ScopeAPI, ScopeApplication}
}

// Valid reports whether the scope is one of the known scopes.
func (s Scope) Valid() bool {
	switch s {
	case ScopeOrganization, ScopeEnvironment, ScopeGroup, ScopeAPI, ScopeApplication:
		return true
	}
	return false
}

// Ownable reports whether references of this scope carry a primary owner.
func (s Scope) Ownable() bool {
	return s == ScopeAPI || s == ScopeApplication
}

// Action represents an action that can be performed on a permission kind.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// Actions returns every known action.
func Actions() []Action {
	return []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
}

// Valid reports whether the action is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// PermissionKind represents a capability area a role can grant actions over.
type PermissionKind string

const (
	KindDefinition    PermissionKind = "DEFINITION"
	KindGateway       PermissionKind = "GATEWAY"
	KindPlan          PermissionKind = "PLAN"
	KindSubscription  PermissionKind = "SUBSCRIPTION"
	KindMember        PermissionKind = "MEMBER"
	KindMetadata      PermissionKind = "METADATA"
	KindDocumentation PermissionKind = "DOCUMENTATION"
	KindAnalytics     PermissionKind = "ANALYTICS"
	KindAlert         PermissionKind = "ALERT"
	KindNotification  PermissionKind = "NOTIFICATION"
	KindSettings      PermissionKind = "SETTINGS"
	KindTag           PermissionKind = "TAG"
	KindRole          PermissionKind = "ROLE"
	KindGroup         PermissionKind = "GROUP"
	KindEnvironment   PermissionKind = "ENVIRONMENT"
	KindAPI           PermissionKind = "API"
	KindApplication   PermissionKind = "APPLICATION"
	KindAudit         PermissionKind = "AUDIT"
)

// Kinds returns every known permission kind.
func Kinds() []PermissionKind {
	return []PermissionKind{
		KindDefinition, KindGateway, KindPlan, KindSubscription, KindMember,
		KindMetadata, KindDocumentation, KindAnalytics, KindAlert, KindNotification,
		KindSettings, KindTag, KindRole, KindGroup, KindEnvironment,
		KindAPI, KindApplication, KindAudit,
	}
}

// Valid reports whether the kind is one of the known permission kinds.
func (k PermissionKind) Valid() bool {
	for _, known := range Kinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Permission represents a specific permission (kind + action).
type Permission struct {
	Kind   PermissionKind `json:"kind"`
	Action Action         `json:"action"`
}

// String returns a string representation of the permission.
func (p Permission) String() string {
	return string(p.Kind) + ":" + string(p.Action)
}

// Role represents a named, scope-qualified bundle of permissions.
// (Scope, Name) is the natural key; ID is an opaque reference used by
// membership edges.
type Role struct {
	ID          string                      `json:"id"`
	Scope       Scope                       `json:"scope"`
	Name        string                      `json:"name"`
	Description string                      `json:"description,omitempty"`
	Permissions map[PermissionKind][]Action `json:"permissions"`
	IsSystem    bool                        `json:"is_system"`
	IsDefault   bool                        `json:"is_default"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// HasAction reports whether the role grants action on kind.
func (r *Role) HasAction(kind PermissionKind, action Action) bool {
	for _, a := range r.Permissions[kind] {
		if a == action {
			return true
		}
	}
	return false
}

// Well-known role names.
const (
	RoleAdmin        = "ADMIN"
	RoleUser         = "USER"
	RoleOwner        = "OWNER"
	RolePrimaryOwner = "PRIMARY_OWNER"
)

// allActions assigns every action to each of the given kinds.
func allActions(kinds ...PermissionKind) map[PermissionKind][]Action {
	perms := make(map[PermissionKind][]Action, len(kinds))
	for _, k := range kinds {
		perms[k] = Actions()
	}
	return perms
}

// BuiltInRoles returns the role set installed on a fresh deployment. Each
// ownable scope carries exactly one system PRIMARY_OWNER role, each scope a
// single default role.
func BuiltInRoles() []Role {
	return []Role{
		{
			Scope:       ScopeOrganization,
			Name:        RoleAdmin,
			Description: "Full administrative access across the organization",
			IsSystem:    true,
			Permissions: allActions(Kinds()...),
		},
		{
			Scope:       ScopeOrganization,
			Name:        RoleUser,
			Description: "Baseline organization access",
			IsDefault:   true,
			Permissions: map[PermissionKind][]Action{
				KindEnvironment: {ActionRead},
				KindGroup:       {ActionRead},
				KindTag:         {ActionRead},
			},
		},
		{
			Scope:       ScopeEnvironment,
			Name:        RoleAdmin,
			Description: "Full administrative access within an environment",
			IsSystem:    true,
			Permissions: allActions(KindAPI, KindApplication, KindGroup, KindTag, KindSettings, KindNotification, KindAudit, KindAlert, KindDocumentation, KindMetadata),
		},
		{
			Scope:       ScopeEnvironment,
			Name:        RoleUser,
			Description: "Baseline environment access",
			IsDefault:   true,
			Permissions: map[PermissionKind][]Action{
				KindAPI:           {ActionRead},
				KindApplication:   {ActionCreate, ActionRead},
				KindDocumentation: {ActionRead},
				KindMetadata:      {ActionRead},
			},
		},
		{
			Scope:       ScopeGroup,
			Name:        RoleAdmin,
			Description: "Manage group membership and settings",
			Permissions: allActions(KindMember, KindSettings),
		},
		{
			Scope:       ScopeGroup,
			Name:        RoleUser,
			Description: "Group membership without management rights",
			IsDefault:   true,
			Permissions: map[PermissionKind][]Action{
				KindMember: {ActionRead},
			},
		},
		{
			Scope:       ScopeAPI,
			Name:        RolePrimaryOwner,
			Description: "Exclusive owner of an API",
			IsSystem:    true,
			Permissions: allActions(KindDefinition, KindGateway, KindPlan, KindSubscription, KindMember, KindMetadata, KindDocumentation, KindAnalytics, KindAlert, KindNotification, KindSettings, KindAudit),
		},
		{
			Scope:       ScopeAPI,
			Name:        RoleOwner,
			Description: "Co-owner of an API, everything but ownership transfer",
			Permissions: allActions(KindDefinition, KindPlan, KindSubscription, KindMember, KindMetadata, KindDocumentation, KindAnalytics, KindNotification),
		},
		{
			Scope:       ScopeAPI,
			Name:        RoleUser,
			Description: "Consumer-level access to an API",
			IsDefault:   true,
			Permissions: map[PermissionKind][]Action{
				KindDefinition:    {ActionRead},
				KindPlan:          {ActionRead},
				KindDocumentation: {ActionRead},
				KindMetadata:      {ActionRead},
			},
		},
		{
			Scope:       ScopeApplication,
			Name:        RolePrimaryOwner,
			Description: "Exclusive owner of an application",
			IsSystem:    true,
			Permissions: allActions(KindDefinition, KindSubscription, KindMember, KindMetadata, KindNotification, KindSettings, KindAnalytics, KindAlert),
		},
		{
			Scope:       ScopeApplication,
			Name:        RoleOwner,
			Description: "Co-owner of an application",
			Permissions: allActions(KindDefinition, KindSubscription, KindMember, KindMetadata, KindNotification),
		},
		{
			Scope:       ScopeApplication,
			Name:        RoleUser,
			Description: "Read-only access to an application",
			IsDefault:   true,
			Permissions: map[PermissionKind][]Action{
				KindDefinition:   {ActionRead},
				KindSubscription: {ActionRead},
				KindMetadata:     {ActionRead},
			},
		},
	}
}
