// Package authz holds the static role × module permission matrix and the pure
// predicates every route guard and service consults before acting.
package authz

import "strings"

// Role is the identity class of a user inside a tenant.
type Role uint8

const (
	RoleSuperAdmin Role = iota
	RoleTenantAdmin
	RoleOrgAdmin
	RoleITAdmin
	RoleITTechnician
	RoleOfficeAdmin
	RoleFinance
	RoleManagement

	roleCount
)

var roleNames = [roleCount]string{
	RoleSuperAdmin:   "SUPER_ADMIN",
	RoleTenantAdmin:  "TENANT_ADMIN",
	RoleOrgAdmin:     "ORG_ADMIN",
	RoleITAdmin:      "IT_ADMIN",
	RoleITTechnician: "IT_TECHNICIAN",
	RoleOfficeAdmin:  "OFFICE_ADMIN",
	RoleFinance:      "FINANCE",
	RoleManagement:   "MANAGEMENT",
}

// Roles returns every known role in declaration order.
func Roles() []Role {
	out := make([]Role, 0, roleCount)
	for r := Role(0); r < roleCount; r++ {
		out = append(out, r)
	}
	return out
}

func (r Role) Valid() bool { return r < roleCount }

func (r Role) String() string {
	if !r.Valid() {
		return "UNKNOWN"
	}
	return roleNames[r]
}

// ParseRole resolves a role name case-insensitively.
func ParseRole(name string) (Role, bool) {
	name = strings.ToUpper(strings.TrimSpace(name))
	for r, n := range roleNames {
		if n == name {
			return Role(r), true
		}
	}
	return 0, false
}

// MarshalText encodes the role by name so documents and tokens stay readable.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText decodes a role name. Unknown names decode to an invalid role
// that every predicate denies.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, ok := ParseRole(string(b))
	if !ok {
		*r = Role(0xff)
		return nil
	}
	*r = parsed
	return nil
}

// Module is a functional area subject to independent grants.
type Module uint8

const (
	ModuleDashboard Module = iota
	ModuleAssets
	ModuleConsumables
	ModuleMaintenance
	ModuleProjects
	ModuleOrganizations
	ModuleCompanies
	ModuleOffices
	ModuleDepartments
	ModuleUsers
	ModuleVendors
	ModuleReports
	ModuleAuditLogs
	ModuleSettings

	moduleCount
)

var moduleNames = [moduleCount]string{
	ModuleDashboard:     "dashboard",
	ModuleAssets:        "assets",
	ModuleConsumables:   "consumables",
	ModuleMaintenance:   "maintenance",
	ModuleProjects:      "projects",
	ModuleOrganizations: "organizations",
	ModuleCompanies:     "companies",
	ModuleOffices:       "offices",
	ModuleDepartments:   "departments",
	ModuleUsers:         "users",
	ModuleVendors:       "vendors",
	ModuleReports:       "reports",
	ModuleAuditLogs:     "audit_logs",
	ModuleSettings:      "settings",
}

// Modules returns every known module in declaration order.
func Modules() []Module {
	out := make([]Module, 0, moduleCount)
	for m := Module(0); m < moduleCount; m++ {
		out = append(out, m)
	}
	return out
}

func (m Module) Valid() bool { return m < moduleCount }

func (m Module) String() string {
	if !m.Valid() {
		return "unknown"
	}
	return moduleNames[m]
}

func ParseModule(name string) (Module, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range moduleNames {
		if n == name {
			return Module(m), true
		}
	}
	return 0, false
}

func (m Module) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Module) UnmarshalText(b []byte) error {
	parsed, ok := ParseModule(string(b))
	if !ok {
		*m = Module(0xff)
		return nil
	}
	*m = parsed
	return nil
}

// Action is an operation class gated per module.
type Action uint8

const (
	ActionCreate Action = iota
	ActionRead
	ActionUpdate
	ActionDelete
	ActionExport
	ActionAssign
	ActionTransfer
	ActionApprove

	actionCount
)

var actionNames = [actionCount]string{
	ActionCreate:   "create",
	ActionRead:     "read",
	ActionUpdate:   "update",
	ActionDelete:   "delete",
	ActionExport:   "export",
	ActionAssign:   "assign",
	ActionTransfer: "transfer",
	ActionApprove:  "approve",
}

// Actions returns every known action in declaration order.
func Actions() []Action {
	out := make([]Action, 0, actionCount)
	for a := Action(0); a < actionCount; a++ {
		out = append(out, a)
	}
	return out
}

func (a Action) Valid() bool { return a < actionCount }

func (a Action) String() string {
	if !a.Valid() {
		return "unknown"
	}
	return actionNames[a]
}

func ParseAction(name string) (Action, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for a, n := range actionNames {
		if n == name {
			return Action(a), true
		}
	}
	return 0, false
}

// ActionSet is a bitmask of actions.
type ActionSet uint16

func NewActionSet(actions ...Action) ActionSet {
	var s ActionSet
	for _, a := range actions {
		if a.Valid() {
			s |= 1 << a
		}
	}
	return s
}

func (s ActionSet) Has(a Action) bool {
	return a.Valid() && s&(1<<a) != 0
}

func (s ActionSet) Union(o ActionSet) ActionSet { return s | o }

func (s ActionSet) Empty() bool { return s == 0 }

// Actions lists the members of the set in declaration order.
func (s ActionSet) Actions() []Action {
	var out []Action
	for a := Action(0); a < actionCount; a++ {
		if s.Has(a) {
			out = append(out, a)
		}
	}
	return out
}
