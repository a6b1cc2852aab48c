package permission

import (
	"encoding/json"
	"sort"

	"github.com/aquiline/gatehouse/pkg/rbac"
)

// Set is an effective capability set: the (kind, action) pairs a principal
// holds over a reference.
type Set map[rbac.Permission]struct{}

// NewSet creates an empty set.
func NewSet() Set {
	return make(Set)
}

// FromRole builds the set granted by a single role.
func FromRole(role *rbac.Role) Set {
	s := NewSet()
	for kind, actions := range role.Permissions {
		for _, action := range actions {
			s[rbac.Permission{Kind: kind, Action: action}] = struct{}{}
		}
	}
	return s
}

// Universal returns the set holding every kind/action combination. Granted to
// organization admins, which bypass resolution entirely.
func Universal() Set {
	s := NewSet()
	for _, kind := range rbac.Kinds() {
		for _, action := range rbac.Actions() {
			s[rbac.Permission{Kind: kind, Action: action}] = struct{}{}
		}
	}
	return s
}

// Has reports whether the set grants action on kind.
func (s Set) Has(kind rbac.PermissionKind, action rbac.Action) bool {
	_, ok := s[rbac.Permission{Kind: kind, Action: action}]
	return ok
}

// Union merges other into s and returns s.
func (s Set) Union(other Set) Set {
	for p := range other {
		s[p] = struct{}{}
	}
	return s
}

// Equal reports whether both sets hold exactly the same permissions.
func (s Set) Equal(other Set) bool {
	if len(s) != len(other) {
		return false
	}
	for p := range s {
		if _, ok := other[p]; !ok {
			return false
		}
	}
	return true
}

// Slice returns the permissions in deterministic order.
func (s Set) Slice() []rbac.Permission {
	out := make([]rbac.Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Action < out[j].Action
	})
	return out
}

// MarshalJSON encodes the set as a sorted permission list.
func (s Set) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON decodes a permission list into the set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var perms []rbac.Permission
	if err := json.Unmarshal(data, &perms); err != nil {
		return err
	}
	out := NewSet()
	for _, p := range perms {
		out[p] = struct{}{}
	}
	*s = out
	return nil
}
