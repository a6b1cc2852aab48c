// Package rbac defines the role model for the Gatehouse access-control core:
// scopes, actions, permission kinds, and named scope-qualified roles.
//
// A Role bundles the actions a principal may perform per permission kind. Its
// natural key is (scope, name); membership edges reference roles by opaque id.
// Two flags shape behavior elsewhere in the system:
//
//   - IsSystem: the role cannot be edited or deleted. PRIMARY_OWNER and the
//     organization ADMIN role are system roles.
//   - IsDefault: the role is assigned automatically when a membership of that
//     scope is created without an explicit role. At most one default exists
//     per scope.
//
// The Catalog interface is the read contract consumed by permission
// resolution and provisioning. Storage-backed implementations live in
// pkg/storage; NewCachedCatalog adds a TTL-bounded LRU in front of any
// Catalog. Validate applies the startup checks: scope/kind/action values must
// belong to the static enumeration, defaults are unique per scope, and every
// ownable scope (API, APPLICATION) carries exactly one system PRIMARY_OWNER
// role.
package rbac
