package membership

import (
	"context"

	"github.com/aquiline/gatehouse/pkg/rbac"
)

// Store is the persistence contract for membership edges. The graph consumes
// it; pkg/storage implements it. Implementations must uphold uniqueness of
// (member_id, member_type, reference_id, reference_type), typically through a
// storage-level unique constraint, so that concurrent upserts for the same
// key converge on a single edge.
type Store interface {
	// Upsert inserts the edge or, when one exists for the same key,
	// replaces its role id, source, and updated-at timestamp in place.
	Upsert(ctx context.Context, edge *Membership) error

	// Delete removes the edge with the given key, reporting whether an edge
	// existed. Deleting an absent edge is not an error.
	Delete(ctx context.Context, key Key) (bool, error)

	// DeleteByMember removes every edge held by the member.
	DeleteByMember(ctx context.Context, memberID string, memberType MemberType) error

	// DeleteByReference removes every edge attached to the reference.
	DeleteByReference(ctx context.Context, referenceType rbac.Scope, referenceID string) error

	// FindByKey returns the edge for the key, or (nil, nil) when absent.
	FindByKey(ctx context.Context, key Key) (*Membership, error)

	// FindByMemberAndType returns every edge the member holds on references
	// of the given type.
	FindByMemberAndType(ctx context.Context, memberID string, memberType MemberType, referenceType rbac.Scope) ([]Membership, error)

	// FindByReference returns every edge attached to the reference.
	FindByReference(ctx context.Context, referenceType rbac.Scope, referenceID string) ([]Membership, error)

	// FindGroupIDs returns the ids of groups the member belongs to as a
	// USER, via GROUP-scope edges.
	FindGroupIDs(ctx context.Context, memberID string) ([]string, error)
}
