// Package permission computes effective capability sets for a principal over
// a reference.
//
// Resolution order is fixed: the organization ADMIN role short-circuits to
// the universal set; otherwise a direct USER edge on the reference is
// authoritative (group grants are not added on top of an explicit direct
// grant); otherwise the roles carried by GROUP edges on the reference, for
// groups the principal belongs to, are unioned (multiple group memberships
// accumulate). With no edge at all the result is the empty set; a denied
// check is a boolean false, never an error. PUBLIC-visibility read access for
// APIs and applications is the caller's policy and composes with, but is not
// part of, resolution.
//
// An edge referencing a role id absent from the catalog raises
// *DataIntegrityError: corrupted data is surfaced, not swallowed.
//
// The optional Cache (in-process LRU or Redis) memoizes resolved sets with a
// TTL. Wire Resolver.InvalidatePrincipal to Graph.OnChange so membership
// mutations invalidate promptly.
package permission
