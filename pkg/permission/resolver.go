package permission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aquiline/gatehouse/pkg/membership"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// DataIntegrityError indicates a membership edge references a role id absent
// from the catalog. This is corrupted data, not a deniable check: it must be
// surfaced, never swallowed.
type DataIntegrityError struct {
	RoleID string
	Err    error
}

func (e *DataIntegrityError) Error() string {
	return fmt.Sprintf("permission: membership references unknown role %q: %v", e.RoleID, e.Err)
}

func (e *DataIntegrityError) Unwrap() error {
	return e.Err
}

// Config tunes resolution.
type Config struct {
	// OrganizationID is the reference id of the organization whose ADMIN
	// role bypasses resolution. Empty means any ORGANIZATION-scope admin
	// edge triggers the override.
	OrganizationID string

	// AdminRoleName overrides the name of the organization admin role.
	// Defaults to ADMIN.
	AdminRoleName string
}

// Resolver computes effective permissions for (principal, reference) by
// merging direct membership with group-inherited membership. Reads are
// lock-free: a concurrent role change is observed as either the old or the
// new role.
type Resolver struct {
	graph   *membership.Graph
	catalog rbac.Catalog
	cache   Cache
	metrics *observability.Metrics
	log     *observability.Logger
	cfg     Config
}

// NewResolver creates a resolver over graph. cache, metrics, and log may be
// nil.
func NewResolver(graph *membership.Graph, cfg Config, cache Cache, metrics *observability.Metrics, log *observability.Logger) *Resolver {
	if cfg.AdminRoleName == "" {
		cfg.AdminRoleName = rbac.RoleAdmin
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Resolver{
		graph:   graph,
		catalog: graph.Catalog(),
		cache:   cache,
		metrics: metrics,
		log:     log,
		cfg:     cfg,
	}
}

// EffectivePermissions returns the capability set principalID holds over the
// reference. A principal with no edges resolves to the empty set, never an
// error; only structural faults (a dangling role id) raise.
func (r *Resolver) EffectivePermissions(ctx context.Context, principalID string, referenceType rbac.Scope, referenceID string) (Set, error) {
	start := time.Now()

	if r.cache != nil {
		key := CacheKey{PrincipalID: principalID, ReferenceType: referenceType, ReferenceID: referenceID}
		if set, ok := r.cache.Get(ctx, key); ok {
			r.countCache(true)
			return set, nil
		}
		r.countCache(false)
	}

	set, outcome, err := r.resolve(ctx, principalID, referenceType, referenceID)
	r.observe(referenceType, outcome, start, err)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		key := CacheKey{PrincipalID: principalID, ReferenceType: referenceType, ReferenceID: referenceID}
		r.cache.Set(ctx, key, set)
	}
	return set, nil
}

func (r *Resolver) resolve(ctx context.Context, principalID string, referenceType rbac.Scope, referenceID string) (Set, string, error) {
	// Organization admins bypass resolution entirely.
	admin, err := r.isOrgAdmin(ctx, principalID)
	if err != nil {
		return nil, "error", err
	}
	if admin {
		return Universal(), "admin", nil
	}

	// A direct edge is authoritative: group grants are not added on top.
	direct, err := r.graph.FindDirect(ctx, principalID, membership.MemberUser, referenceType)
	if err != nil {
		return nil, "error", fmt.Errorf("failed to list direct memberships: %w", err)
	}
	for i := range direct {
		if direct[i].ReferenceID != referenceID {
			continue
		}
		role, err := r.roleOf(ctx, &direct[i])
		if err != nil {
			return nil, "error", err
		}
		return FromRole(role), "direct", nil
	}

	// Group-derived grants accumulate: the union of every matching group's
	// configured role on this reference.
	groupIDs, err := r.graph.FindGroupsOf(ctx, principalID)
	if err != nil {
		return nil, "error", fmt.Errorf("failed to list groups: %w", err)
	}
	if len(groupIDs) == 0 {
		return NewSet(), "empty", nil
	}
	groups := make(map[string]bool, len(groupIDs))
	for _, id := range groupIDs {
		groups[id] = true
	}

	edges, err := r.graph.FindByReference(ctx, referenceType, referenceID)
	if err != nil {
		return nil, "error", fmt.Errorf("failed to list reference memberships: %w", err)
	}

	set := NewSet()
	matched := false
	for i := range edges {
		if edges[i].MemberType != membership.MemberGroup || !groups[edges[i].MemberID] {
			continue
		}
		role, err := r.roleOf(ctx, &edges[i])
		if err != nil {
			return nil, "error", err
		}
		set.Union(FromRole(role))
		matched = true
	}

	if !matched {
		return NewSet(), "empty", nil
	}
	return set, "group", nil
}

// HasPermission reports whether the principal holds every required action for
// kind on the reference. A denied check is (false, nil); only structural
// errors raise.
func (r *Resolver) HasPermission(ctx context.Context, principalID string, kind rbac.PermissionKind, referenceType rbac.Scope, referenceID string, actions ...rbac.Action) (bool, error) {
	set, err := r.EffectivePermissions(ctx, principalID, referenceType, referenceID)
	if err != nil {
		return false, err
	}
	for _, action := range actions {
		if !set.Has(kind, action) {
			if r.metrics != nil {
				r.metrics.ChecksDenied.WithLabelValues(string(referenceType)).Inc()
			}
			return false, nil
		}
	}
	return true, nil
}

// InvalidatePrincipal drops cached resolutions for the principal. Register it
// on the graph's OnChange hook so membership mutations invalidate promptly.
func (r *Resolver) InvalidatePrincipal(principalID string) {
	if r.cache != nil {
		r.cache.Invalidate(context.Background(), principalID)
	}
}

func (r *Resolver) isOrgAdmin(ctx context.Context, principalID string) (bool, error) {
	edges, err := r.graph.FindDirect(ctx, principalID, membership.MemberUser, rbac.ScopeOrganization)
	if err != nil {
		return false, fmt.Errorf("failed to list organization memberships: %w", err)
	}
	for i := range edges {
		if r.cfg.OrganizationID != "" && edges[i].ReferenceID != r.cfg.OrganizationID {
			continue
		}
		role, err := r.roleOf(ctx, &edges[i])
		if err != nil {
			return false, err
		}
		if role.Name == r.cfg.AdminRoleName {
			return true, nil
		}
	}
	return false, nil
}

func (r *Resolver) roleOf(ctx context.Context, edge *membership.Membership) (*rbac.Role, error) {
	role, err := r.catalog.FindByID(ctx, edge.RoleID)
	if errors.Is(err, rbac.ErrRoleNotFound) {
		// A dangling role id on a live edge is corruption, not a deniable
		// check. Transient lookup failures stay ordinary errors.
		r.log.WithField("role_id", edge.RoleID).Error("membership references unknown role")
		return nil, &DataIntegrityError{RoleID: edge.RoleID, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", edge.RoleID, err)
	}
	return role, nil
}

func (r *Resolver) countCache(hit bool) {
	if r.metrics == nil {
		return
	}
	if hit {
		r.metrics.CacheHitsTotal.WithLabelValues("permission").Inc()
	} else {
		r.metrics.CacheMissesTotal.WithLabelValues("permission").Inc()
	}
}

func (r *Resolver) observe(referenceType rbac.Scope, outcome string, start time.Time, err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.ResolutionsTotal.WithLabelValues(string(referenceType), outcome).Inc()
	if err == nil {
		r.metrics.ResolutionDuration.WithLabelValues(string(referenceType)).Observe(time.Since(start).Seconds())
	}
}
