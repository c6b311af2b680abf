package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/project"
)

func (a *API) projectRoutes(r chi.Router) {
	m := authz.ModuleProjects
	r.Route("/projects", func(r chi.Router) {
		r.With(a.guard(m, authz.ActionRead)).Get("/", a.listProjects)
		r.With(a.guard(m, authz.ActionCreate)).Post("/", a.createProject)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(m, authz.ActionRead)).Get("/", a.getProject)
			r.With(a.guard(m, authz.ActionUpdate)).Patch("/", a.updateProject)
			r.With(a.guard(m, authz.ActionDelete)).Delete("/", a.deleteProject)
			r.With(a.guard(m, authz.ActionApprove)).Post("/approve", a.approveProject)
			r.With(a.guard(m, authz.ActionUpdate)).Put("/status", a.setProjectStatus)

			r.With(a.guard(m, authz.ActionRead)).Get("/milestones", a.listMilestones)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/milestones", a.addMilestone)
			r.With(a.guard(m, authz.ActionUpdate)).Put("/milestones/{mid}", a.setMilestone)
			r.With(a.guard(m, authz.ActionUpdate)).Delete("/milestones/{mid}", a.deleteMilestone)

			r.With(a.guard(m, authz.ActionRead)).Get("/expenses", a.listExpenses)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/expenses", a.addExpense)
			r.With(a.guard(m, authz.ActionUpdate)).Delete("/expenses/{eid}", a.deleteExpense)
		})
	})
}

func (a *API) listProjects(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	list, err := a.deps.Projects.List(r.Context(), currentSession(r), project.ListFilter{
		Status:    project.Status(q.Get("status")),
		CompanyID: q.Get("company_id"),
		ManagerID: q.Get("manager_id"),
		Search:    q.Get("q"),
		Limit:     limit,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request) {
	var in project.NewProject
	if !bind(w, r, &in) {
		return
	}
	created, err := a.deps.Projects.Create(r.Context(), currentSession(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/projects/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getProject(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Projects.Get(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request) {
	var c project.Changes
	if !bind(w, r, &c) {
		return
	}
	got, err := a.deps.Projects.Update(r.Context(), currentSession(r), chi.URLParam(r, "id"), c)
	respond(w, r, got, err)
}

func (a *API) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Projects.Delete(r.Context(), currentSession(r), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) approveProject(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Projects.Approve(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) setProjectStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status project.Status `json:"status"`
	}
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Projects.SetStatus(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Status)
	respond(w, r, got, err)
}

func (a *API) listMilestones(w http.ResponseWriter, r *http.Request) {
	ms, err := a.deps.Projects.Milestones(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ms})
}

func (a *API) addMilestone(w http.ResponseWriter, r *http.Request) {
	var in project.NewMilestone
	if !bind(w, r, &in) {
		return
	}
	p, m, err := a.deps.Projects.AddMilestone(r.Context(), currentSession(r), chi.URLParam(r, "id"), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p, "milestone": m})
}

func (a *API) setMilestone(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Completed bool `json:"completed"`
	}
	if !bind(w, r, &in) {
		return
	}
	p, err := a.deps.Projects.SetMilestoneCompleted(r.Context(), currentSession(r),
		chi.URLParam(r, "id"), chi.URLParam(r, "mid"), in.Completed)
	respond(w, r, p, err)
}

func (a *API) deleteMilestone(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Projects.DeleteMilestone(r.Context(), currentSession(r), chi.URLParam(r, "id"), chi.URLParam(r, "mid"))
	respond(w, r, p, err)
}

func (a *API) listExpenses(w http.ResponseWriter, r *http.Request) {
	ex, err := a.deps.Projects.Expenses(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": ex})
}

func (a *API) addExpense(w http.ResponseWriter, r *http.Request) {
	var in project.NewExpense
	if !bind(w, r, &in) {
		return
	}
	p, e, err := a.deps.Projects.AddExpense(r.Context(), currentSession(r), chi.URLParam(r, "id"), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"project": p, "expense": e})
}

func (a *API) deleteExpense(w http.ResponseWriter, r *http.Request) {
	p, err := a.deps.Projects.DeleteExpense(r.Context(), currentSession(r), chi.URLParam(r, "id"), chi.URLParam(r, "eid"))
	respond(w, r, p, err)
}
