package provisioning_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquiline/gatehouse/pkg/membership"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/provisioning"
	"github.com/aquiline/gatehouse/pkg/rbac"
	"github.com/aquiline/gatehouse/pkg/storage"
)

// flagEvaluator treats the login profile as a JSON object of condition names
// to booleans: a condition holds when the profile maps it to true.
type flagEvaluator struct{}

func (flagEvaluator) Evaluate(_ context.Context, condition string, profile json.RawMessage) (bool, error) {
	var flags map[string]bool
	if err := json.Unmarshal(profile, &flags); err != nil {
		return false, err
	}
	if condition == "broken" {
		return false, errors.New("cannot evaluate")
	}
	return flags[condition], nil
}

type staticEnvironments struct {
	ids []string
}

func (s staticEnvironments) ListEnvironmentIDs(context.Context) ([]string, error) {
	return s.ids, nil
}

type staticGroupDefaults map[string]string

func (s staticGroupDefaults) DefaultRoleID(_ context.Context, groupID string, _ rbac.Scope) (string, error) {
	return s[groupID], nil
}

// countingStore counts graph mutations so tests can assert idempotence.
type countingStore struct {
	membership.Store
	upserts int
	deletes int
}

func (s *countingStore) Upsert(ctx context.Context, edge *membership.Membership) error {
	s.upserts++
	return s.Store.Upsert(ctx, edge)
}

func (s *countingStore) Delete(ctx context.Context, key membership.Key) (bool, error) {
	s.deletes++
	return s.Store.Delete(ctx, key)
}

func (s *countingStore) reset() {
	s.upserts = 0
	s.deletes = 0
}

type fixture struct {
	graph   *membership.Graph
	roles   *storage.RoleStore
	store   *countingStore
	roleIDs map[string]string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	require.NoError(t, storage.ApplyMigrations(ctx, db))

	roles := storage.NewRoleStore(db, nil)
	require.NoError(t, roles.SeedBuiltInRoles(ctx))

	roleIDs := make(map[string]string)
	all, err := roles.FindAll(ctx)
	require.NoError(t, err)
	for _, role := range all {
		roleIDs[string(role.Scope)+"/"+role.Name] = role.ID
	}

	store := &countingStore{Store: storage.NewMembershipStore(db, nil)}
	graph := membership.NewGraph(store, roles, nil, nil)

	return &fixture{graph: graph, roles: roles, store: store, roleIDs: roleIDs}
}

func (f *fixture) roleID(t *testing.T, scope rbac.Scope, name string) string {
	t.Helper()
	id, ok := f.roleIDs[string(scope)+"/"+name]
	require.True(t, ok, "no seeded role %s/%s", scope, name)
	return id
}

func (f *fixture) reconciler(groups provisioning.GroupDefaults, envIDs ...string) *provisioning.Reconciler {
	return provisioning.NewReconciler(
		f.graph,
		flagEvaluator{},
		staticEnvironments{ids: envIDs},
		groups,
		provisioning.Config{OrganizationID: "org-1"},
		nil, nil, nil,
	)
}

func (f *fixture) edgesOf(t *testing.T, principalID string, scope rbac.Scope) map[string]membership.Membership {
	t.Helper()
	edges, err := f.graph.FindDirect(context.Background(), principalID, membership.MemberUser, scope)
	require.NoError(t, err)
	out := make(map[string]membership.Membership, len(edges))
	for _, e := range edges {
		out[e.ReferenceID] = e
	}
	return out
}

func TestReconcileFallsBackToDefaultRoles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil, "env-1", "env-2")

	provider := &provisioning.Provider{ID: "idp-1", Name: "corp-sso"}
	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{}`)))

	orgEdges := f.edgesOf(t, "carol", rbac.ScopeOrganization)
	require.Len(t, orgEdges, 1)
	assert.Equal(t, f.roleID(t, rbac.ScopeOrganization, rbac.RoleUser), orgEdges["org-1"].RoleID)
	assert.Equal(t, "idp-1", orgEdges["org-1"].Source)

	envEdges := f.edgesOf(t, "carol", rbac.ScopeEnvironment)
	require.Len(t, envEdges, 2)
	for _, envID := range []string{"env-1", "env-2"} {
		assert.Equal(t, f.roleID(t, rbac.ScopeEnvironment, rbac.RoleUser), envEdges[envID].RoleID)
	}
}

func TestReconcileGroupMappings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil)

	provider := &provisioning.Provider{
		ID:   "idp-1",
		Name: "corp-sso",
		GroupMappings: []provisioning.GroupMappingRule{
			{Condition: "is-engineer", Groups: []string{"group-eng"}},
			{Condition: "is-manager", Groups: []string{"group-mgmt"}},
		},
	}

	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"is-engineer": true}`)))

	groupEdges := f.edgesOf(t, "carol", rbac.ScopeGroup)
	require.Len(t, groupEdges, 1)
	edge := groupEdges["group-eng"]
	assert.Equal(t, f.roleID(t, rbac.ScopeGroup, rbac.RoleUser), edge.RoleID)
	assert.Equal(t, "idp-1", edge.Source)
}

func TestReconcilePrefersGroupCarriedDefaultRole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	adminRoleID := f.roleID(t, rbac.ScopeGroup, rbac.RoleAdmin)
	r := f.reconciler(staticGroupDefaults{"group-eng": adminRoleID})

	provider := &provisioning.Provider{
		ID:            "idp-1",
		Name:          "corp-sso",
		GroupMappings: []provisioning.GroupMappingRule{{Condition: "is-engineer", Groups: []string{"group-eng"}}},
	}

	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"is-engineer": true}`)))

	groupEdges := f.edgesOf(t, "carol", rbac.ScopeGroup)
	require.Len(t, groupEdges, 1)
	assert.Equal(t, adminRoleID, groupEdges["group-eng"].RoleID)
}

func TestReconcileIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil, "env-1")

	provider := &provisioning.Provider{
		ID:            "idp-1",
		Name:          "corp-sso",
		GroupMappings: []provisioning.GroupMappingRule{{Condition: "is-engineer", Groups: []string{"group-eng"}}},
		RoleMappings: []provisioning.RoleMappingRule{
			{Condition: "is-engineer", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeEnvironment, Name: rbac.RoleAdmin}}},
		},
	}
	profile := json.RawMessage(`{"is-engineer": true}`)

	require.NoError(t, r.Reconcile(ctx, "carol", provider, profile))
	require.Greater(t, f.store.upserts, 0)

	// Unchanged profile: the second run must not touch storage.
	f.store.reset()
	require.NoError(t, r.Reconcile(ctx, "carol", provider, profile))
	assert.Zero(t, f.store.upserts, "idempotent rerun performed upserts")
	assert.Zero(t, f.store.deletes, "idempotent rerun performed deletes")
}

func TestReconcileRemovesStaleEdges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil)

	provider := &provisioning.Provider{
		ID:   "idp-1",
		Name: "corp-sso",
		GroupMappings: []provisioning.GroupMappingRule{
			{Condition: "is-engineer", Groups: []string{"group-eng"}},
			{Condition: "is-manager", Groups: []string{"group-mgmt"}},
		},
	}

	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"is-engineer": true, "is-manager": true}`)))
	require.Len(t, f.edgesOf(t, "carol", rbac.ScopeGroup), 2)

	// carol left management: the stale provider edge goes away.
	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"is-engineer": true}`)))
	groupEdges := f.edgesOf(t, "carol", rbac.ScopeGroup)
	require.Len(t, groupEdges, 1)
	_, ok := groupEdges["group-eng"]
	assert.True(t, ok)
}

func TestReconcileNeverTouchesForeignEdges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil)

	groupRoleID := f.roleID(t, rbac.ScopeGroup, rbac.RoleUser)

	// A manual edge and an edge owned by another provider.
	_, err := f.graph.Upsert(ctx, "carol", membership.MemberUser, "group-manual", rbac.ScopeGroup, groupRoleID, membership.SourceManual)
	require.NoError(t, err)
	_, err = f.graph.Upsert(ctx, "carol", membership.MemberUser, "group-other", rbac.ScopeGroup, groupRoleID, "idp-other")
	require.NoError(t, err)

	// idp-1 reconciles to an empty desired state; rules matched, nothing
	// granted.
	provider := &provisioning.Provider{
		ID:            "idp-1",
		Name:          "corp-sso",
		GroupMappings: []provisioning.GroupMappingRule{{Condition: "always", Groups: nil}},
	}
	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"always": true}`)))

	groupEdges := f.edgesOf(t, "carol", rbac.ScopeGroup)
	require.Len(t, groupEdges, 2)
	assert.Equal(t, membership.SourceManual, groupEdges["group-manual"].Source)
	assert.Equal(t, "idp-other", groupEdges["group-other"].Source)
}

func TestReconcileRerolesChangedEdgeInPlace(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil, "env-1")

	provider := &provisioning.Provider{
		ID:   "idp-1",
		Name: "corp-sso",
		RoleMappings: []provisioning.RoleMappingRule{
			{Condition: "is-engineer", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeEnvironment, Name: rbac.RoleUser}}},
			{Condition: "is-admin", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeEnvironment, Name: rbac.RoleAdmin}}},
		},
	}

	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"is-engineer": true}`)))
	before := f.edgesOf(t, "carol", rbac.ScopeEnvironment)["env-1"]
	assert.Equal(t, f.roleID(t, rbac.ScopeEnvironment, rbac.RoleUser), before.RoleID)

	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"is-engineer": true, "is-admin": true}`)))
	after := f.edgesOf(t, "carol", rbac.ScopeEnvironment)["env-1"]
	assert.Equal(t, f.roleID(t, rbac.ScopeEnvironment, rbac.RoleAdmin), after.RoleID)
	assert.Equal(t, before.ID, after.ID, "re-role must update the edge in place")
}

func TestReconcileLaterRuleWinsOnConflict(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.reconciler(nil)

	provider := &provisioning.Provider{
		ID:   "idp-1",
		Name: "corp-sso",
		RoleMappings: []provisioning.RoleMappingRule{
			{Condition: "always", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeOrganization, Name: rbac.RoleUser}}},
			{Condition: "always", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeOrganization, Name: rbac.RoleAdmin}}},
		},
	}

	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{"always": true}`)))

	orgEdges := f.edgesOf(t, "carol", rbac.ScopeOrganization)
	require.Len(t, orgEdges, 1)
	assert.Equal(t, f.roleID(t, rbac.ScopeOrganization, rbac.RoleAdmin), orgEdges["org-1"].RoleID)
}

func TestReconcileSurfacesEvaluatorErrors(t *testing.T) {
	f := setup(t)
	r := f.reconciler(nil)

	provider := &provisioning.Provider{
		ID:            "idp-1",
		Name:          "corp-sso",
		GroupMappings: []provisioning.GroupMappingRule{{Condition: "broken", Groups: []string{"group-eng"}}},
	}

	err := r.Reconcile(context.Background(), "carol", provider, json.RawMessage(`{}`))
	var mappingErr *provisioning.MappingError
	require.Error(t, err)
	assert.True(t, errors.As(err, &mappingErr))
	assert.Equal(t, "idp-1", mappingErr.ProviderID)
	assert.Equal(t, "broken", mappingErr.Condition)
}

func TestReconcileRejectsUnsupportedRoleTargetScope(t *testing.T) {
	f := setup(t)
	r := f.reconciler(nil)

	provider := &provisioning.Provider{
		ID:   "idp-1",
		Name: "corp-sso",
		RoleMappings: []provisioning.RoleMappingRule{
			{Condition: "always", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeAPI, Name: rbac.RoleUser}}},
		},
	}

	err := r.Reconcile(context.Background(), "carol", provider, json.RawMessage(`{"always": true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported scope")
}

func TestReconcileMappedRoleMustExist(t *testing.T) {
	f := setup(t)
	r := f.reconciler(nil)

	provider := &provisioning.Provider{
		ID:   "idp-1",
		Name: "corp-sso",
		RoleMappings: []provisioning.RoleMappingRule{
			{Condition: "always", Roles: []provisioning.RoleTarget{{Scope: rbac.ScopeOrganization, Name: "NO_SUCH_ROLE"}}},
		},
	}

	err := r.Reconcile(context.Background(), "carol", provider, json.RawMessage(`{"always": true}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, rbac.ErrRoleNotFound), fmt.Sprintf("err = %v", err))
}

func TestReconcileLogsOutcome(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var buf bytes.Buffer
	r := provisioning.NewReconciler(
		f.graph,
		flagEvaluator{},
		staticEnvironments{ids: []string{"env-1"}},
		nil,
		provisioning.Config{OrganizationID: "org-1"},
		nil, nil,
		observability.NewLogger(observability.DebugLevel, &buf),
	)

	provider := &provisioning.Provider{ID: "idp-1", Name: "corp-sso"}
	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{}`)))

	out := buf.String()
	assert.Contains(t, out, "reconciliation applied")
	assert.Contains(t, out, `"provider":"idp-1"`)
	assert.Contains(t, out, `"principal_id":"carol"`)

	// The unchanged rerun logs a no-op instead.
	buf.Reset()
	require.NoError(t, r.Reconcile(ctx, "carol", provider, json.RawMessage(`{}`)))
	assert.Contains(t, buf.String(), "reconciliation left the graph unchanged")
}
