package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aquiline/gatehouse/pkg/audit"
	"github.com/aquiline/gatehouse/pkg/observability"
	"github.com/aquiline/gatehouse/pkg/rbac"
)

// Graph is the in-process view over the membership store: edge CRUD with
// role-scope validation and natural-key uniqueness. All methods are safe for
// concurrent use; write serialization beyond key uniqueness is the
// transactor's concern.
type Graph struct {
	store    Store
	catalog  rbac.Catalog
	sink     audit.Sink
	log      *observability.Logger
	now      func() time.Time
	onChange []func(memberID string)
}

// NewGraph creates a membership graph over store, validating roles against
// catalog. A nil sink or logger falls back to no-op implementations.
func NewGraph(store Store, catalog rbac.Catalog, sink audit.Sink, log *observability.Logger) *Graph {
	if sink == nil {
		sink = audit.NopSink{}
	}
	if log == nil {
		log = observability.NopLogger()
	}
	return &Graph{
		store:   store,
		catalog: catalog,
		sink:    sink,
		log:     log,
		now:     time.Now,
	}
}

// SetClock overrides the timestamp source. Intended for tests.
func (g *Graph) SetClock(now func() time.Time) {
	g.now = now
}

// OnChange registers a hook invoked with the member id after any mutation
// touching that member's edges. Used for permission-cache invalidation.
func (g *Graph) OnChange(hook func(memberID string)) {
	g.onChange = append(g.onChange, hook)
}

func (g *Graph) notify(memberID string) {
	for _, hook := range g.onChange {
		hook(memberID)
	}
}

// Upsert creates the edge for (memberID, memberType, referenceID,
// referenceType) or, when one exists, replaces its role, source, and
// updated-at in place. The role's scope must match the reference type.
func (g *Graph) Upsert(ctx context.Context, memberID string, memberType MemberType, referenceID string, referenceType rbac.Scope, roleID, source string) (*Membership, error) {
	if !memberType.Valid() {
		return nil, fmt.Errorf("unknown member type %q", memberType)
	}
	if !referenceType.Valid() {
		return nil, fmt.Errorf("unknown reference type %q", referenceType)
	}

	role, err := g.catalog.FindByID(ctx, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleID, err)
	}
	if role.Scope != referenceType {
		return nil, fmt.Errorf("%w: role %s/%s on %s reference", ErrInvalidRole, role.Scope, role.Name, referenceType)
	}

	key := Key{MemberID: memberID, MemberType: memberType, ReferenceID: referenceID, ReferenceType: referenceType}
	existing, err := g.store.FindByKey(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to look up membership: %w", err)
	}

	now := g.now().UTC()
	eventType := audit.EventMembershipCreated
	edge := existing
	if edge == nil {
		edge = &Membership{
			ID:            uuid.NewString(),
			MemberID:      memberID,
			MemberType:    memberType,
			ReferenceID:   referenceID,
			ReferenceType: referenceType,
			CreatedAt:     now,
		}
	} else {
		eventType = audit.EventMembershipUpdated
	}
	edge.RoleID = roleID
	edge.Source = source
	edge.UpdatedAt = now

	if err := g.store.Upsert(ctx, edge); err != nil {
		return nil, fmt.Errorf("failed to upsert membership: %w", err)
	}

	g.sink.Record(ctx, audit.Event{
		Type:          eventType,
		Actor:         sourceActor(source),
		MemberID:      memberID,
		MemberType:    string(memberType),
		ReferenceType: string(referenceType),
		ReferenceID:   referenceID,
		RoleName:      role.Name,
		Source:        source,
		Timestamp:     now,
	})
	g.notify(memberID)

	g.log.WithFields(map[string]interface{}{
		"member_id":      memberID,
		"member_type":    string(memberType),
		"reference_type": string(referenceType),
		"reference_id":   referenceID,
		"role":           role.Name,
	}).Debug("membership edge upserted")

	return edge, nil
}

// Remove deletes the edge for the key. Removing a non-existent edge is a
// no-op.
func (g *Graph) Remove(ctx context.Context, memberID string, memberType MemberType, referenceID string, referenceType rbac.Scope) error {
	key := Key{MemberID: memberID, MemberType: memberType, ReferenceID: referenceID, ReferenceType: referenceType}
	removed, err := g.store.Delete(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to remove membership: %w", err)
	}
	if !removed {
		return nil
	}

	g.sink.Record(ctx, audit.Event{
		Type:          audit.EventMembershipDeleted,
		MemberID:      memberID,
		MemberType:    string(memberType),
		ReferenceType: string(referenceType),
		ReferenceID:   referenceID,
		Timestamp:     g.now().UTC(),
	})
	g.notify(memberID)

	g.log.WithFields(map[string]interface{}{
		"member_id":      memberID,
		"member_type":    string(memberType),
		"reference_type": string(referenceType),
		"reference_id":   referenceID,
	}).Debug("membership edge removed")
	return nil
}

// RemoveAllForMember deletes every edge the member holds. Used on member
// deletion.
func (g *Graph) RemoveAllForMember(ctx context.Context, memberID string, memberType MemberType) error {
	if err := g.store.DeleteByMember(ctx, memberID, memberType); err != nil {
		return fmt.Errorf("failed to remove memberships for member %q: %w", memberID, err)
	}
	g.notify(memberID)
	g.log.WithField("member_id", memberID).Debug("memberships removed for member")
	return nil
}

// RemoveAllForReference deletes every edge attached to the reference. Used on
// resource deletion.
func (g *Graph) RemoveAllForReference(ctx context.Context, referenceType rbac.Scope, referenceID string) error {
	edges, err := g.store.FindByReference(ctx, referenceType, referenceID)
	if err != nil {
		return fmt.Errorf("failed to list memberships for reference: %w", err)
	}
	if err := g.store.DeleteByReference(ctx, referenceType, referenceID); err != nil {
		return fmt.Errorf("failed to remove memberships for reference %s/%s: %w", referenceType, referenceID, err)
	}
	for _, edge := range edges {
		g.notify(edge.MemberID)
	}
	g.log.WithFields(map[string]interface{}{
		"reference_type": string(referenceType),
		"reference_id":   referenceID,
		"edges":          len(edges),
	}).Debug("memberships removed for reference")
	return nil
}

// FindDirect returns the member's direct edges on references of the given
// type.
func (g *Graph) FindDirect(ctx context.Context, memberID string, memberType MemberType, referenceType rbac.Scope) ([]Membership, error) {
	return g.store.FindByMemberAndType(ctx, memberID, memberType, referenceType)
}

// FindByReference returns every edge attached to the reference.
func (g *Graph) FindByReference(ctx context.Context, referenceType rbac.Scope, referenceID string) ([]Membership, error) {
	return g.store.FindByReference(ctx, referenceType, referenceID)
}

// FindGroupsOf returns the ids of groups the member belongs to as a USER.
func (g *Graph) FindGroupsOf(ctx context.Context, memberID string) ([]string, error) {
	return g.store.FindGroupIDs(ctx, memberID)
}

// Catalog exposes the role catalog the graph validates against.
func (g *Graph) Catalog() rbac.Catalog {
	return g.catalog
}

func sourceActor(source string) string {
	if source == SourceManual {
		return "console"
	}
	return source
}
