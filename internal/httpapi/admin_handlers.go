package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/tenant"
	"assetdesk.io/internal/user"
)

func (a *API) adminRoutes(r chi.Router) {
	users := authz.ModuleUsers
	r.Route("/users", func(r chi.Router) {
		r.With(a.guard(users, authz.ActionRead)).Get("/", a.listUsers)
		r.With(a.guard(users, authz.ActionCreate)).Post("/", a.createUser)
		r.With(a.guard(users, authz.ActionRead)).Get("/{id}", a.getUser)
		r.With(a.guard(users, authz.ActionUpdate)).Put("/{id}/role", a.changeRole)
		r.With(a.guard(users, authz.ActionUpdate)).Put("/{id}/access", a.setAccess)
		r.With(a.guard(users, authz.ActionUpdate)).Post("/{id}/disable", a.disableUser)
	})
	r.With(a.guard(authz.ModuleAuditLogs, authz.ActionRead)).Get("/audit-logs", a.listAuditLogs)
	r.With(a.guard(authz.ModuleAuditLogs, authz.ActionRead)).Get("/audit-logs/stream", a.streamAuditLogs)
	r.With(a.guard(authz.ModuleSettings, authz.ActionRead)).Get("/tenant", a.getTenant)
	r.With(a.guard(authz.ModuleSettings, authz.ActionUpdate)).Patch("/tenant", a.updateTenant)
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	var role *authz.Role
	if name := r.URL.Query().Get("role"); name != "" {
		parsed, ok := authz.ParseRole(name)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown role")
			return
		}
		role = &parsed
	}
	list, err := a.deps.Users.List(r.Context(), currentSession(r), role)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var in user.NewUser
	if !bind(w, r, &in) {
		return
	}
	created, err := a.deps.Users.Create(r.Context(), currentSession(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/users/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getUser(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Users.Get(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) changeRole(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Role string `json:"role"`
	}
	if !bind(w, r, &in) {
		return
	}
	role, ok := authz.ParseRole(in.Role)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "unknown role")
		return
	}
	got, err := a.deps.Users.ChangeRole(r.Context(), currentSession(r), chi.URLParam(r, "id"), role)
	respond(w, r, got, err)
}

func (a *API) setAccess(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Offices   []string `json:"accessible_offices"`
		Companies []string `json:"accessible_companies"`
	}
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Users.SetAccess(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Offices, in.Companies)
	respond(w, r, got, err)
}

func (a *API) disableUser(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Users.Disable(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) listAuditLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Action:     audit.Action(q.Get("action")),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		ActorID:    q.Get("actor_id"),
	}
	if name := q.Get("module"); name != "" {
		mod, ok := authz.ParseModule(name)
		if !ok {
			writeError(w, r, http.StatusBadRequest, "unknown module")
			return
		}
		f.Module = &mod
	}
	var err error
	if f.Since, err = queryTime(r, "since"); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f.Until, err = queryTime(r, "until"); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if f.Limit, err = queryInt(r, "limit", 100, 1000); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	sess := currentSession(r)
	entries, err := a.deps.Audit.List(r.Context(), sess.TenantContext(), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (a *API) getTenant(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Tenants.Get(r.Context(), currentSession(r).Tenant.ID)
	respond(w, r, got, err)
}

type tenantUpdate struct {
	Name     *string          `json:"name"`
	Plan     *tenant.Plan     `json:"plan"`
	Settings *tenant.Settings `json:"settings"`
}

func (a *API) updateTenant(w http.ResponseWriter, r *http.Request) {
	var in tenantUpdate
	if !bind(w, r, &in) {
		return
	}
	sess := currentSession(r)
	before := sess.Tenant
	after, err := a.deps.Tenants.Apply(r.Context(), before.ID, tenant.Update{Name: in.Name, Plan: in.Plan, Settings: in.Settings})
	if err != nil {
		handleError(w, r, err)
		return
	}
	changes, _ := audit.Diff(before, after)
	a.deps.Audit.Emit(r.Context(), sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionUpdate,
		Module:      authz.ModuleSettings,
		EntityType:  "tenant",
		EntityID:    after.ID,
		EntityName:  after.Name,
		Description: audit.Describe("updated tenant settings"),
		Changes:     changes,
	})
	writeJSON(w, http.StatusOK, after)
}
