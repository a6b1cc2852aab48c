// Package membership implements the membership graph of the Gatehouse
// access-control core: the many-to-many relation between members (users or
// groups) and references (organizations, environments, groups, APIs,
// applications), each edge carrying exactly one role per scope.
//
// Graph provides edge CRUD over an injected Store, enforcing that a role's
// scope matches the reference type and that at most one edge exists per
// (member, member type, reference, reference type) key. Every mutation emits
// a fire-and-forget audit event.
//
// Transactor layers the primary-ownership invariant on top: every live API
// and application has exactly one PRIMARY_OWNER edge. Initial grants and
// transfers serialize on a per-reference mutex, and a transfer re-roles both
// parties as a single unit with rollback, so concurrent readers never observe
// zero or two owners.
//
// The Source field on an edge records provenance: empty for console-created
// edges, an identity-provider id for edges written by the provisioning
// reconciler. Reconciliation only ever touches edges carrying its own source.
package membership
