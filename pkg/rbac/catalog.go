package rbac

import (
	"context"
	"errors"
	"fmt"
)

// ErrRoleNotFound is returned when a role lookup by id or natural key finds
// nothing.
var ErrRoleNotFound = errors.New("rbac: role not found")

// Catalog is the read interface over role definitions. Implementations are
// pure lookup: no side effects, safe for concurrent use.
type Catalog interface {
	// FindByID retrieves a role by its opaque id. Fails with ErrRoleNotFound
	// when absent.
	FindByID(ctx context.Context, id string) (*Role, error)

	// FindByScopeAndName retrieves a role by its natural key. Returns
	// (nil, nil) when absent.
	FindByScopeAndName(ctx context.Context, scope Scope, name string) (*Role, error)

	// FindDefaultRoles returns the default role of each requested scope,
	// skipping scopes without a configured default. For any scope with a
	// configured default exactly one role of that scope is returned.
	FindDefaultRoles(ctx context.Context, scopes ...Scope) ([]Role, error)

	// FindAll returns every role definition.
	FindAll(ctx context.Context) ([]Role, error)
}

// Validate checks catalog contents against the static scope/kind/action
// enumeration and the structural invariants the rest of the system relies on:
// at most one default role per scope, and exactly one system PRIMARY_OWNER
// role per ownable scope. Intended to run at startup.
func Validate(ctx context.Context, catalog Catalog) error {
	roles, err := catalog.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list roles: %w", err)
	}

	defaults := make(map[Scope]string)
	owners := make(map[Scope]int)
	seen := make(map[string]bool, len(roles))

	for _, role := range roles {
		if !role.Scope.Valid() {
			return fmt.Errorf("role %q carries unknown scope %q", role.Name, role.Scope)
		}
		key := string(role.Scope) + "/" + role.Name
		if seen[key] {
			return fmt.Errorf("duplicate role %q for scope %s", role.Name, role.Scope)
		}
		seen[key] = true

		for kind, actions := range role.Permissions {
			if !kind.Valid() {
				return fmt.Errorf("role %s/%s grants unknown permission kind %q", role.Scope, role.Name, kind)
			}
			for _, action := range actions {
				if !action.Valid() {
					return fmt.Errorf("role %s/%s grants unknown action %q on %s", role.Scope, role.Name, action, kind)
				}
			}
		}

		if role.IsDefault {
			if prev, ok := defaults[role.Scope]; ok {
				return fmt.Errorf("scope %s has two default roles: %q and %q", role.Scope, prev, role.Name)
			}
			defaults[role.Scope] = role.Name
		}

		if role.Name == RolePrimaryOwner {
			if !role.Scope.Ownable() {
				return fmt.Errorf("scope %s does not support ownership but defines a PRIMARY_OWNER role", role.Scope)
			}
			if !role.IsSystem {
				return fmt.Errorf("PRIMARY_OWNER role for scope %s must be a system role", role.Scope)
			}
			owners[role.Scope]++
		}
	}

	for _, scope := range Scopes() {
		if !scope.Ownable() {
			continue
		}
		if owners[scope] != 1 {
			return fmt.Errorf("scope %s must define exactly one PRIMARY_OWNER role, found %d", scope, owners[scope])
		}
	}

	return nil
}
