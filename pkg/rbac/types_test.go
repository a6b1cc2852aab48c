package rbac

import "testing"

func TestScopeOwnable(t *testing.T) {
	tests := []struct {
		scope Scope
		want  bool
	}{
		{ScopeAPI, true},
		{ScopeApplication, true},
		{ScopeOrganization, false},
		{ScopeEnvironment, false},
		{ScopeGroup, false},
	}
	for _, tt := range tests {
		if got := tt.scope.Ownable(); got != tt.want {
			t.Errorf("%s.Ownable() = %v, want %v", tt.scope, got, tt.want)
		}
	}
}

func TestPermissionString(t *testing.T) {
	p := Permission{Kind: KindDefinition, Action: ActionRead}
	if got := p.String(); got != "DEFINITION:READ" {
		t.Errorf("Permission.String() = %q, want DEFINITION:READ", got)
	}
}

func TestRoleHasAction(t *testing.T) {
	role := &Role{
		Permissions: map[PermissionKind][]Action{
			KindDefinition: {ActionRead, ActionUpdate},
		},
	}
	if !role.HasAction(KindDefinition, ActionRead) {
		t.Error("HasAction(DEFINITION, READ) = false, want true")
	}
	if role.HasAction(KindDefinition, ActionDelete) {
		t.Error("HasAction(DEFINITION, DELETE) = true, want false")
	}
	if role.HasAction(KindGateway, ActionRead) {
		t.Error("HasAction(GATEWAY, READ) = true, want false")
	}
}

func TestEnumValidity(t *testing.T) {
	for _, scope := range Scopes() {
		if !scope.Valid() {
			t.Errorf("Scopes() returned invalid scope %q", scope)
		}
	}
	for _, kind := range Kinds() {
		if !kind.Valid() {
			t.Errorf("Kinds() returned invalid kind %q", kind)
		}
	}
	for _, action := range Actions() {
		if !action.Valid() {
			t.Errorf("Actions() returned invalid action %q", action)
		}
	}
	if Scope("PLANET").Valid() {
		t.Error("unknown scope reported valid")
	}
}
