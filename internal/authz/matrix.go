package authz

// Matrix maps (role, module) to the granted actions. The zero value denies
// everything.
type Matrix [roleCount][moduleCount]ActionSet

var (
	crud     = NewActionSet(ActionCreate, ActionRead, ActionUpdate, ActionDelete)
	crudx    = crud.Union(NewActionSet(ActionExport))
	all      = NewActionSet(Actions()...)
	readOnly = NewActionSet(ActionRead)
	readx    = NewActionSet(ActionRead, ActionExport)
	cru      = NewActionSet(ActionCreate, ActionRead, ActionUpdate)
	ru       = NewActionSet(ActionRead, ActionUpdate)
)

// defaultMatrix is built once at package init and never mutated.
var defaultMatrix = buildMatrix()

// Default returns a copy of the authored permission matrix.
func Default() Matrix { return defaultMatrix }

func buildMatrix() Matrix {
	var m Matrix
	grant := func(r Role, set ActionSet, modules ...Module) {
		for _, mod := range modules {
			m[r][mod] = m[r][mod].Union(set)
		}
	}

	for _, mod := range Modules() {
		grant(RoleSuperAdmin, all, mod)
		grant(RoleTenantAdmin, all, mod)
	}

	for _, mod := range Modules() {
		switch mod {
		case ModuleSettings:
			grant(RoleOrgAdmin, ru, mod)
		case ModuleAuditLogs:
			grant(RoleOrgAdmin, readx, mod)
		default:
			grant(RoleOrgAdmin, crudx, mod)
		}
	}
	grant(RoleOrgAdmin, NewActionSet(ActionAssign, ActionTransfer), ModuleAssets, ModuleConsumables)
	grant(RoleOrgAdmin, NewActionSet(ActionApprove), ModuleProjects)

	grant(RoleITAdmin, crudx.Union(NewActionSet(ActionAssign, ActionTransfer)),
		ModuleAssets, ModuleConsumables, ModuleMaintenance, ModuleVendors)
	grant(RoleITAdmin, readOnly,
		ModuleDashboard, ModuleOffices, ModuleDepartments, ModuleCompanies, ModuleUsers, ModuleProjects, ModuleAuditLogs)
	grant(RoleITAdmin, readx, ModuleReports)

	grant(RoleITTechnician, cru, ModuleAssets, ModuleConsumables, ModuleMaintenance)
	grant(RoleITTechnician, readOnly, ModuleDashboard, ModuleVendors, ModuleOffices)

	grant(RoleOfficeAdmin, crud, ModuleConsumables)
	grant(RoleOfficeAdmin, ru, ModuleAssets, ModuleOffices, ModuleDepartments)
	grant(RoleOfficeAdmin, cru, ModuleMaintenance)
	grant(RoleOfficeAdmin, readOnly, ModuleDashboard, ModuleUsers, ModuleVendors)
	grant(RoleOfficeAdmin, readx, ModuleReports)

	grant(RoleFinance, readx, ModuleAssets, ModuleConsumables, ModuleReports, ModuleVendors)
	grant(RoleFinance, cru.Union(NewActionSet(ActionApprove, ActionExport)), ModuleProjects)
	grant(RoleFinance, readOnly, ModuleDashboard)

	grant(RoleManagement, readx, ModuleDashboard, ModuleReports, ModuleProjects, ModuleAssets)
	grant(RoleManagement, readOnly, ModuleMaintenance, ModuleConsumables)

	return m
}

// Grants returns the action set for a pair, empty for anything unknown.
func (m *Matrix) Grants(r Role, mod Module) ActionSet {
	if !r.Valid() || !mod.Valid() {
		return 0
	}
	return m[r][mod]
}
