package authz

// hierarchy is the strict assignment order, highest first.
var hierarchy = []Role{
	RoleSuperAdmin,
	RoleTenantAdmin,
	RoleOrgAdmin,
	RoleITAdmin,
	RoleOfficeAdmin,
	RoleITTechnician,
	RoleFinance,
	RoleManagement,
}

// HasPermission reports whether role may perform action on module. Unknown
// values are denied.
func HasPermission(r Role, mod Module, a Action) bool {
	return defaultMatrix.Grants(r, mod).Has(a)
}

// CanAccessModule governs navigation visibility: read access only.
func CanAccessModule(r Role, mod Module) bool {
	return HasPermission(r, mod, ActionRead)
}

// AccessibleModules returns every module the role can read.
func AccessibleModules(r Role) []Module {
	var out []Module
	for _, mod := range Modules() {
		if CanAccessModule(r, mod) {
			out = append(out, mod)
		}
	}
	return out
}

// IsAdminRole reports whether the role bypasses office/company scoping.
func IsAdminRole(r Role) bool {
	switch r {
	case RoleSuperAdmin, RoleTenantAdmin, RoleOrgAdmin:
		return true
	}
	return false
}

// AssignableRoles lists the roles current may hand out, highest first.
// SUPER_ADMIN and TENANT_ADMIN may assign every role except SUPER_ADMIN;
// everyone else only roles strictly below them.
func AssignableRoles(current Role) []Role {
	rank := -1
	for i, r := range hierarchy {
		if r == current {
			rank = i
			break
		}
	}
	if rank < 0 {
		return []Role{}
	}
	out := []Role{}
	if rank <= 1 {
		for _, r := range hierarchy {
			if r != RoleSuperAdmin {
				out = append(out, r)
			}
		}
		return out
	}
	return append(out, hierarchy[rank+1:]...)
}

// CanAssign reports whether current may grant target.
func CanAssign(current, target Role) bool {
	for _, r := range AssignableRoles(current) {
		if r == target {
			return true
		}
	}
	return false
}

// HasPermissionName is the string-keyed form used at system edges.
func HasPermissionName(role, module, action string) bool {
	r, ok := ParseRole(role)
	if !ok {
		return false
	}
	m, ok := ParseModule(module)
	if !ok {
		return false
	}
	a, ok := ParseAction(action)
	if !ok {
		return false
	}
	return HasPermission(r, m, a)
}

// AssignableRoleNames is the string-keyed form of AssignableRoles.
func AssignableRoleNames(role string) []string {
	r, ok := ParseRole(role)
	if !ok {
		return []string{}
	}
	roles := AssignableRoles(r)
	out := make([]string, 0, len(roles))
	for _, rr := range roles {
		out = append(out, rr.String())
	}
	return out
}
