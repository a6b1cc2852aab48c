package permission_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquiline/gatehouse/pkg/membership"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/permission"
	"github.com/aquiline/gatehouse/pkg/rbac"
	"github.com/aquiline/gatehouse/pkg/storage"
)

type fixture struct {
	graph   *membership.Graph
	roles   *storage.RoleStore
	edges   *storage.MembershipStore
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

	edges := storage.NewMembershipStore(db, nil)
	graph := membership.NewGraph(edges, roles, nil, nil)

	return &fixture{graph: graph, roles: roles, edges: edges, roleIDs: roleIDs}
}

func (f *fixture) roleID(t *testing.T, scope rbac.Scope, name string) string {
	t.Helper()
	id, ok := f.roleIDs[string(scope)+"/"+name]
	require.True(t, ok, "no seeded role %s/%s", scope, name)
	return id
}

func (f *fixture) upsert(t *testing.T, memberID string, memberType membership.MemberType, refID string, refType rbac.Scope, roleName string) {
	t.Helper()
	_, err := f.graph.Upsert(context.Background(), memberID, memberType, refID, refType,
		f.roleID(t, refType, roleName), membership.SourceManual)
	require.NoError(t, err)
}

func TestResolverEmptyWithoutEdges(t *testing.T) {
	f := setup(t)
	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil, nil)

	set, err := resolver.EffectivePermissions(context.Background(), "nobody", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)
	assert.Empty(t, set.Slice())
}

func TestResolverDirectEdgeIsAuthoritative(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// bob holds USER directly on the API and OWNER through a group. The
	// direct edge wins: no union with the group grant.
	f.upsert(t, "bob", membership.MemberUser, "api-1", rbac.ScopeAPI, rbac.RoleUser)
	f.upsert(t, "bob", membership.MemberUser, "group-1", rbac.ScopeGroup, rbac.RoleUser)
	f.upsert(t, "group-1", membership.MemberGroup, "api-1", rbac.ScopeAPI, rbac.RoleOwner)

	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil, nil)
	set, err := resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)

	assert.True(t, set.Has(rbac.KindDefinition, rbac.ActionRead))
	assert.False(t, set.Has(rbac.KindDefinition, rbac.ActionUpdate),
		"group OWNER grant must not leak past the direct USER edge")
}

func TestResolverGroupGrantsUnion(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// bob reaches api-1 only through groups; the grants union.
	f.upsert(t, "bob", membership.MemberUser, "group-1", rbac.ScopeGroup, rbac.RoleUser)
	f.upsert(t, "bob", membership.MemberUser, "group-2", rbac.ScopeGroup, rbac.RoleUser)
	f.upsert(t, "group-1", membership.MemberGroup, "api-1", rbac.ScopeAPI, rbac.RoleUser)
	f.upsert(t, "group-2", membership.MemberGroup, "api-1", rbac.ScopeAPI, rbac.RoleOwner)

	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil, nil)
	set, err := resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)

	// USER grants definition read; OWNER adds definition update.
	assert.True(t, set.Has(rbac.KindDefinition, rbac.ActionRead))
	assert.True(t, set.Has(rbac.KindDefinition, rbac.ActionUpdate))
}

func TestResolverIgnoresUnrelatedGroups(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// bob's group grants access to a different API only.
	f.upsert(t, "bob", membership.MemberUser, "group-1", rbac.ScopeGroup, rbac.RoleUser)
	f.upsert(t, "group-1", membership.MemberGroup, "api-2", rbac.ScopeAPI, rbac.RoleOwner)

	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil, nil)
	set, err := resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)
	assert.Empty(t, set.Slice())
}

func TestResolverOrgAdminOverride(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.upsert(t, "root", membership.MemberUser, "org-1", rbac.ScopeOrganization, rbac.RoleAdmin)

	resolver := permission.NewResolver(f.graph, permission.Config{OrganizationID: "org-1"}, nil, nil, nil)
	set, err := resolver.EffectivePermissions(ctx, "root", rbac.ScopeAPI, "api-never-seen")
	require.NoError(t, err)

	// Admins hold every action on every kind, without any edge on the target.
	for _, kind := range rbac.Kinds() {
		for _, action := range rbac.Actions() {
			assert.True(t, set.Has(kind, action), "admin missing %s:%s", kind, action)
		}
	}
}

func TestResolverOrgAdminScopedToConfiguredOrganization(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.upsert(t, "root", membership.MemberUser, "other-org", rbac.ScopeOrganization, rbac.RoleAdmin)

	resolver := permission.NewResolver(f.graph, permission.Config{OrganizationID: "org-1"}, nil, nil, nil)
	set, err := resolver.EffectivePermissions(ctx, "root", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)
	assert.Empty(t, set.Slice(), "admin of another organization must not be elevated")
}

func TestResolverDanglingRoleIsStructuralError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.upsert(t, "bob", membership.MemberUser, "api-1", rbac.ScopeAPI, rbac.RoleUser)

	// Corrupt the edge to point at a role the catalog does not know.
	edge, err := f.edges.FindByKey(ctx, membership.Key{
		MemberID: "bob", MemberType: membership.MemberUser,
		ReferenceID: "api-1", ReferenceType: rbac.ScopeAPI,
	})
	require.NoError(t, err)
	edge.RoleID = "dangling"
	require.NoError(t, f.edges.Upsert(ctx, edge))

	var buf bytes.Buffer
	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil,
		observability.NewLogger(observability.ErrorLevel, &buf))
	_, err = resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")

	var integrity *permission.DataIntegrityError
	require.Error(t, err)
	assert.True(t, errors.As(err, &integrity))
	assert.Equal(t, "dangling", integrity.RoleID)
	assert.Contains(t, buf.String(), "membership references unknown role")
}

func TestHasPermissionDenialIsNotAnError(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.upsert(t, "bob", membership.MemberUser, "api-1", rbac.ScopeAPI, rbac.RoleUser)

	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil, nil)

	ok, err := resolver.HasPermission(ctx, "bob", rbac.KindDefinition, rbac.ScopeAPI, "api-1", rbac.ActionRead)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = resolver.HasPermission(ctx, "bob", rbac.KindDefinition, rbac.ScopeAPI, "api-1", rbac.ActionDelete)
	require.NoError(t, err)
	assert.False(t, ok)

	// All requested actions must be held.
	ok, err = resolver.HasPermission(ctx, "bob", rbac.KindDefinition, rbac.ScopeAPI, "api-1", rbac.ActionRead, rbac.ActionDelete)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolverCacheAndInvalidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.upsert(t, "bob", membership.MemberUser, "api-1", rbac.ScopeAPI, rbac.RoleUser)

	cache := permission.NewLRUCache(128, time.Minute)
	resolver := permission.NewResolver(f.graph, permission.Config{}, cache, nil, nil)
	f.graph.OnChange(resolver.InvalidatePrincipal)

	set, err := resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)
	assert.False(t, set.Has(rbac.KindDefinition, rbac.ActionUpdate))

	// Upgrading the role invalidates through the OnChange hook, so the next
	// read sees the new role rather than the cached set.
	f.upsert(t, "bob", membership.MemberUser, "api-1", rbac.ScopeAPI, rbac.RoleOwner)

	set, err = resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")
	require.NoError(t, err)
	assert.True(t, set.Has(rbac.KindDefinition, rbac.ActionUpdate))
}

// faultyCatalog fails every single-role lookup with the given error.
type faultyCatalog struct {
	rbac.Catalog
	err error
}

func (c *faultyCatalog) FindByID(context.Context, string) (*rbac.Role, error) {
	return nil, c.err
}

func TestResolverTransientCatalogFailureIsNotCorruption(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.upsert(t, "bob", membership.MemberUser, "api-1", rbac.ScopeAPI, rbac.RoleUser)

	// The edge is healthy; only the role lookup path is failing.
	transient := errors.New("connection reset by peer")
	broken := membership.NewGraph(f.edges, &faultyCatalog{Catalog: f.roles, err: transient}, nil, nil)
	resolver := permission.NewResolver(broken, permission.Config{}, nil, nil, nil)

	_, err := resolver.EffectivePermissions(ctx, "bob", rbac.ScopeAPI, "api-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, transient)

	var integrity *permission.DataIntegrityError
	assert.False(t, errors.As(err, &integrity),
		"a transient lookup failure must not be reported as data corruption")
}

func TestOwnershipGrantYieldsWritePermissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	transactor := membership.NewTransactor(f.graph, nil)
	require.NoError(t, transactor.GrantInitialOwnership(ctx, rbac.ScopeAPI, "api-1", "alice"))

	resolver := permission.NewResolver(f.graph, permission.Config{}, nil, nil, nil)
	ok, err := resolver.HasPermission(ctx, "alice", rbac.KindDefinition, rbac.ScopeAPI, "api-1",
		rbac.ActionUpdate, rbac.ActionDelete)
	require.NoError(t, err)
	assert.True(t, ok, "a fresh owner must hold update and delete on the definition")

	ok, err = resolver.HasPermission(ctx, "mallory", rbac.KindDefinition, rbac.ScopeAPI, "api-1",
		rbac.ActionUpdate)
	require.NoError(t, err)
	assert.False(t, ok)
}
