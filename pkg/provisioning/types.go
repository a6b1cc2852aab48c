package provisioning

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aquiline/gatehouse/pkg/rbac"
)

// AttributeMapping names the JSON-path expressions extracting profile fields
// from an identity provider's payload. The core carries it with the provider
// descriptor; evaluation belongs to the excluded protocol layer.
type AttributeMapping struct {
	ID        string `json:"id"`
	Email     string `json:"email,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Picture   string `json:"picture,omitempty"`
}

// GroupMappingRule grants membership of the target groups when its condition
// evaluates true against the login profile.
type GroupMappingRule struct {
	Condition string   `json:"condition"`
	Groups    []string `json:"groups"`
}

// RoleTarget is a scope-qualified role name. Role mappings may target
// ORGANIZATION or ENVIRONMENT scope.
type RoleTarget struct {
	Scope rbac.Scope `json:"scope"`
	Name  string     `json:"name"`
}

// RoleMappingRule grants the target roles when its condition evaluates true
// against the login profile.
type RoleMappingRule struct {
	Condition string       `json:"condition"`
	Roles     []RoleTarget `json:"roles"`
}

// Provider describes an external identity provider: its profile mapping and
// the ordered group/role mapping rules evaluated on login.
type Provider struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	AttributeMapping AttributeMapping   `json:"attribute_mapping"`
	GroupMappings    []GroupMappingRule `json:"group_mappings,omitempty"`
	RoleMappings     []RoleMappingRule  `json:"role_mappings,omitempty"`
}

// PredicateEvaluator evaluates a mapping rule condition against a raw profile
// payload. The expression grammar is outside this core; only the
// boolean-or-error contract matters here.
type PredicateEvaluator interface {
	Evaluate(ctx context.Context, condition string, profile json.RawMessage) (bool, error)
}

// EnvironmentCatalog lists the environments that environment-scope role
// mappings fan out to.
type EnvironmentCatalog interface {
	ListEnvironmentIDs(ctx context.Context) ([]string, error)
}

// GroupDefaults exposes the default role associations a group declares. A
// group may carry, per scope, the role granted automatically to its members;
// an empty role id means no group-carried default for that scope.
type GroupDefaults interface {
	DefaultRoleID(ctx context.Context, groupID string, scope rbac.Scope) (string, error)
}

// MappingError reports a malformed mapping rule condition. A broken mapping
// is a configuration bug: it propagates to the caller and is never retried
// automatically.
type MappingError struct {
	ProviderID string
	Condition  string
	Err        error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("provisioning: provider %q mapping condition %q failed to evaluate: %v", e.ProviderID, e.Condition, e.Err)
}

func (e *MappingError) Unwrap() error {
	return e.Err
}
