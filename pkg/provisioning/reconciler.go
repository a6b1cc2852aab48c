package provisioning

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aquiline/gatehouse/pkg/audit"
	"github.com/aquiline/gatehouse/pkg/membership"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// Config tunes reconciliation.
type Config struct {
	// OrganizationID is the reference organization-scope role mappings
	// target.
	OrganizationID string
}

// Reconciler makes the membership graph match the desired state implied by a
// provider's mapping rules evaluated against a login profile. It only ever
// creates, re-roles, or removes edges tagged with the provider's id as
// source; manual edges and edges from other providers are never touched.
//
// Reconciliation is diff-based and idempotent: a second run over an unchanged
// profile performs zero writes. Runs for the same (principal, provider) pair
// serialize on a keyed mutex; different principals reconcile independently.
type Reconciler struct {
	graph        *membership.Graph
	catalog      rbac.Catalog
	evaluator    PredicateEvaluator
	environments EnvironmentCatalog
	groups       GroupDefaults
	cfg          Config
	sink         audit.Sink
	metrics      *observability.Metrics
	log          *observability.Logger
	locks        *lockTable
}

// NewReconciler creates a reconciler over graph. groups, sink, metrics, and
// log may be nil.
func NewReconciler(graph *membership.Graph, evaluator PredicateEvaluator, environments EnvironmentCatalog, groups GroupDefaults, cfg Config, sink audit.Sink, metrics *observability.Metrics, log *observability.Logger) *Reconciler {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Reconciler{
		graph:        graph,
		catalog:      graph.Catalog(),
		evaluator:    evaluator,
		environments: environments,
		groups:       groups,
		cfg:          cfg,
		sink:         sink,
		metrics:      metrics,
		log:          log,
		locks:        newLockTable(),
	}
}

// refKey identifies a reference a desired role edge attaches to.
type refKey struct {
	referenceType rbac.Scope
	referenceID   string
}

// Reconcile evaluates the provider's mapping rules against profile and
// applies the difference to the principal's provider-tagged edges.
func (r *Reconciler) Reconcile(ctx context.Context, principalID string, provider *Provider, profile json.RawMessage) error {
	release := r.locks.acquire(principalID + "|" + provider.ID)
	defer release()

	start := time.Now()
	writes, removals, err := r.reconcile(ctx, principalID, provider, profile)
	r.observe(provider, start, writes, removals, err)
	log := r.log.WithFields(map[string]interface{}{
		"provider":     provider.ID,
		"principal_id": principalID,
	})
	if err != nil {
		log.WithError(err).Error("reconciliation failed")
		return err
	}

	if writes == 0 && removals == 0 {
		log.Debug("reconciliation left the graph unchanged")
		return nil
	}

	log.WithFields(map[string]interface{}{
		"writes":   writes,
		"removals": removals,
	}).Info("reconciliation applied")

	r.sink.Record(ctx, audit.Event{
		Type:     audit.EventReconcileApplied,
		Actor:    provider.ID,
		MemberID: principalID,
		Source:   provider.ID,
		Metadata: map[string]interface{}{
			"writes":   writes,
			"removals": removals,
		},
	})
	return nil
}

func (r *Reconciler) reconcile(ctx context.Context, principalID string, provider *Provider, profile json.RawMessage) (writes, removals int, err error) {
	desiredGroups, groupsMatched, err := r.desiredGroups(ctx, provider, profile)
	if err != nil {
		return 0, 0, err
	}
	desiredRoles, rolesMatched, err := r.desiredRoles(ctx, provider, profile)
	if err != nil {
		return 0, 0, err
	}

	// First-login principals must always end up with at least the baseline
	// roles: with no rule of either kind matched, fall back to the catalog
	// defaults.
	if !groupsMatched && !rolesMatched {
		desiredRoles, err = r.fallbackRoles(ctx)
		if err != nil {
			return 0, 0, err
		}
	}

	w, rm, err := r.reconcileGroups(ctx, principalID, provider, desiredGroups)
	if err != nil {
		return writes, removals, err
	}
	writes += w
	removals += rm

	w, rm, err = r.reconcileRoles(ctx, principalID, provider, desiredRoles)
	if err != nil {
		return writes, removals, err
	}
	writes += w
	removals += rm
	return writes, removals, nil
}

// desiredGroups evaluates the group mapping rules. matched reports whether
// any rule's condition held, independently of its target list.
func (r *Reconciler) desiredGroups(ctx context.Context, provider *Provider, profile json.RawMessage) (map[string]bool, bool, error) {
	desired := make(map[string]bool)
	matched := false
	for _, rule := range provider.GroupMappings {
		ok, err := r.evaluator.Evaluate(ctx, rule.Condition, profile)
		if err != nil {
			return nil, false, &MappingError{ProviderID: provider.ID, Condition: rule.Condition, Err: err}
		}
		if !ok {
			continue
		}
		matched = true
		for _, groupID := range rule.Groups {
			desired[groupID] = true
		}
	}
	return desired, matched, nil
}

// desiredRoles evaluates the role mapping rules into per-reference desired
// edges. Rules are ordered: when two rules target the same reference, the
// later rule's role wins.
func (r *Reconciler) desiredRoles(ctx context.Context, provider *Provider, profile json.RawMessage) (map[refKey]string, bool, error) {
	desired := make(map[refKey]string)
	matched := false
	for _, rule := range provider.RoleMappings {
		ok, err := r.evaluator.Evaluate(ctx, rule.Condition, profile)
		if err != nil {
			return nil, false, &MappingError{ProviderID: provider.ID, Condition: rule.Condition, Err: err}
		}
		if !ok {
			continue
		}
		matched = true
		for _, target := range rule.Roles {
			if err := r.addRoleTarget(ctx, desired, target); err != nil {
				return nil, false, err
			}
		}
	}
	return desired, matched, nil
}

func (r *Reconciler) addRoleTarget(ctx context.Context, desired map[refKey]string, target RoleTarget) error {
	role, err := r.catalog.FindByScopeAndName(ctx, target.Scope, target.Name)
	if err != nil {
		return fmt.Errorf("failed to resolve mapped role %s/%s: %w", target.Scope, target.Name, err)
	}
	if role == nil {
		return fmt.Errorf("%w: mapped role %s/%s", rbac.ErrRoleNotFound, target.Scope, target.Name)
	}

	switch target.Scope {
	case rbac.ScopeOrganization:
		r.addDesired(desired, rbac.ScopeOrganization, r.cfg.OrganizationID, role.ID)
	case rbac.ScopeEnvironment:
		envIDs, err := r.environments.ListEnvironmentIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list environments: %w", err)
		}
		for _, envID := range envIDs {
			r.addDesired(desired, rbac.ScopeEnvironment, envID, role.ID)
		}
	default:
		return fmt.Errorf("role mapping targets unsupported scope %s", target.Scope)
	}
	return nil
}

func (r *Reconciler) addDesired(desired map[refKey]string, scope rbac.Scope, referenceID, roleID string) {
	desired[refKey{referenceType: scope, referenceID: referenceID}] = roleID
}

// fallbackRoles builds the default ORGANIZATION/ENVIRONMENT grants applied
// when no mapping rule matched.
func (r *Reconciler) fallbackRoles(ctx context.Context) (map[refKey]string, error) {
	defaults, err := r.catalog.FindDefaultRoles(ctx, rbac.ScopeOrganization, rbac.ScopeEnvironment)
	if err != nil {
		return nil, fmt.Errorf("failed to list default roles: %w", err)
	}

	desired := make(map[refKey]string)
	for i := range defaults {
		role := &defaults[i]
		switch role.Scope {
		case rbac.ScopeOrganization:
			r.addDesired(desired, rbac.ScopeOrganization, r.cfg.OrganizationID, role.ID)
		case rbac.ScopeEnvironment:
			envIDs, err := r.environments.ListEnvironmentIDs(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to list environments: %w", err)
			}
			for _, envID := range envIDs {
				r.addDesired(desired, rbac.ScopeEnvironment, envID, role.ID)
			}
		}
	}
	return desired, nil
}

// reconcileGroups diffs desired group memberships against the principal's
// provider-tagged GROUP edges.
func (r *Reconciler) reconcileGroups(ctx context.Context, principalID string, provider *Provider, desired map[string]bool) (writes, removals int, err error) {
	current, err := r.graph.FindDirect(ctx, principalID, membership.MemberUser, rbac.ScopeGroup)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to list group memberships: %w", err)
	}

	held := make(map[string]bool)
	for i := range current {
		edge := &current[i]
		if edge.Source != provider.ID {
			continue // manual or foreign provenance, never touched
		}
		held[edge.ReferenceID] = true
		if !desired[edge.ReferenceID] {
			if err := r.graph.Remove(ctx, principalID, membership.MemberUser, edge.ReferenceID, rbac.ScopeGroup); err != nil {
				return writes, removals, err
			}
			removals++
		}
	}

	for groupID := range desired {
		if held[groupID] {
			continue
		}
		roleID, err := r.groupMembershipRoleID(ctx, groupID)
		if err != nil {
			return writes, removals, err
		}
		if _, err := r.graph.Upsert(ctx, principalID, membership.MemberUser, groupID, rbac.ScopeGroup, roleID, provider.ID); err != nil {
			return writes, removals, err
		}
		writes++
	}
	return writes, removals, nil
}

// groupMembershipRoleID picks the role a new group member receives: the
// group's own declared default when present, else the catalog's default
// GROUP-scope role.
func (r *Reconciler) groupMembershipRoleID(ctx context.Context, groupID string) (string, error) {
	if r.groups != nil {
		roleID, err := r.groups.DefaultRoleID(ctx, groupID, rbac.ScopeGroup)
		if err != nil {
			return "", fmt.Errorf("failed to read group defaults for %q: %w", groupID, err)
		}
		if roleID != "" {
			return roleID, nil
		}
	}

	defaults, err := r.catalog.FindDefaultRoles(ctx, rbac.ScopeGroup)
	if err != nil {
		return "", fmt.Errorf("failed to list default roles: %w", err)
	}
	if len(defaults) == 0 {
		return "", fmt.Errorf("%w: no default GROUP role configured", rbac.ErrRoleNotFound)
	}
	return defaults[0].ID, nil
}

// reconcileRoles diffs desired organization/environment role edges against
// the principal's provider-tagged edges of those scopes.
func (r *Reconciler) reconcileRoles(ctx context.Context, principalID string, provider *Provider, desired map[refKey]string) (writes, removals int, err error) {
	for _, scope := range []rbac.Scope{rbac.ScopeOrganization, rbac.ScopeEnvironment} {
		current, err := r.graph.FindDirect(ctx, principalID, membership.MemberUser, scope)
		if err != nil {
			return writes, removals, fmt.Errorf("failed to list %s memberships: %w", scope, err)
		}

		held := make(map[refKey]string)
		for i := range current {
			edge := &current[i]
			if edge.Source != provider.ID {
				continue
			}
			key := refKey{referenceType: scope, referenceID: edge.ReferenceID}
			held[key] = edge.RoleID
			wantRoleID, ok := desired[key]
			if !ok {
				if err := r.graph.Remove(ctx, principalID, membership.MemberUser, edge.ReferenceID, scope); err != nil {
					return writes, removals, err
				}
				removals++
				continue
			}
			if wantRoleID != edge.RoleID {
				if _, err := r.graph.Upsert(ctx, principalID, membership.MemberUser, edge.ReferenceID, scope, wantRoleID, provider.ID); err != nil {
					return writes, removals, err
				}
				writes++
			}
		}

		for key, wantRoleID := range desired {
			if key.referenceType != scope {
				continue
			}
			if _, ok := held[key]; ok {
				continue
			}
			if _, err := r.graph.Upsert(ctx, principalID, membership.MemberUser, key.referenceID, scope, wantRoleID, provider.ID); err != nil {
				return writes, removals, err
			}
			writes++
		}
	}
	return writes, removals, nil
}

func (r *Reconciler) observe(provider *Provider, start time.Time, writes, removals int, err error) {
	if r.metrics == nil {
		return
	}
	outcome := "applied"
	if err != nil {
		outcome = "error"
	} else if writes == 0 && removals == 0 {
		outcome = "noop"
	}
	r.metrics.ReconcilesTotal.WithLabelValues(provider.Name, outcome).Inc()
	if err == nil {
		r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
		r.metrics.ReconcileWrites.Add(float64(writes))
		r.metrics.ReconcileRemovals.Add(float64(removals))
	}
}
