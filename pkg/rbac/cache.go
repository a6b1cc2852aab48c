package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// CachedCatalog is a read-through decorator over a Catalog. Role definitions
// change rarely compared to how often resolution reads them, so single-role
// lookups are served from a TTL-bounded LRU. List operations always hit the
// underlying catalog.
type CachedCatalog struct {
	inner Catalog
	byID  *expirable.LRU[string, *Role]
	byKey *expirable.LRU[string, *Role]
}

// NewCachedCatalog wraps catalog with an LRU holding up to size roles per
// lookup index, each entry expiring after ttl.
func NewCachedCatalog(catalog Catalog, size int, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		inner: catalog,
		byID:  expirable.NewLRU[string, *Role](size, nil, ttl),
		byKey: expirable.NewLRU[string, *Role](size, nil, ttl),
	}
}

// FindByID retrieves a role by id, serving repeated lookups from the cache.
func (c *CachedCatalog) FindByID(ctx context.Context, id string) (*Role, error) {
	if role, ok := c.byID.Get(id); ok {
		return role, nil
	}
	role, err := c.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID.Add(id, role)
	return role, nil
}

// FindByScopeAndName retrieves a role by natural key, serving repeated
// lookups from the cache. Absent roles are not negatively cached.
func (c *CachedCatalog) FindByScopeAndName(ctx context.Context, scope Scope, name string) (*Role, error) {
	key := string(scope) + "/" + name
	if role, ok := c.byKey.Get(key); ok {
		return role, nil
	}
	role, err := c.inner.FindByScopeAndName(ctx, scope, name)
	if err != nil || role == nil {
		return role, err
	}
	c.byKey.Add(key, role)
	return role, nil
}

// FindDefaultRoles passes through to the underlying catalog.
func (c *CachedCatalog) FindDefaultRoles(ctx context.Context, scopes ...Scope) ([]Role, error) {
	return c.inner.FindDefaultRoles(ctx, scopes...)
}

// FindAll passes through to the underlying catalog.
func (c *CachedCatalog) FindAll(ctx context.Context) ([]Role, error) {
	return c.inner.FindAll(ctx)
}

// Invalidate drops every cached role. Call after any role mutation.
func (c *CachedCatalog) Invalidate() {
	c.byID.Purge()
	c.byKey.Purge()
}
