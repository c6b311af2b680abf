package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/maintenance"
)

func (a *API) maintenanceRoutes(r chi.Router) {
	m := authz.ModuleMaintenance
	r.Route("/maintenance", func(r chi.Router) {
		r.With(a.guard(m, authz.ActionRead)).Get("/", a.listTickets)
		r.With(a.guard(m, authz.ActionCreate)).Post("/", a.openTicket)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(m, authz.ActionRead)).Get("/", a.getTicket)
			r.With(a.guard(m, authz.ActionRead)).Get("/history", a.ticketHistory)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/transitions", a.moveTicket)
			r.With(a.guard(m, authz.ActionUpdate)).Put("/assignee", a.assignTicket)
		})
	})
}

func (a *API) listTickets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	list, err := a.deps.Maintenance.List(r.Context(), currentSession(r), maintenance.ListFilter{
		Status:     maintenance.Status(q.Get("status")),
		OfficeID:   q.Get("office_id"),
		AssetID:    q.Get("asset_id"),
		AssignedTo: q.Get("assigned_to"),
		OpenOnly:   queryBool(r, "open"),
		Limit:      limit,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) openTicket(w http.ResponseWriter, r *http.Request) {
	var in maintenance.NewTicket
	if !bind(w, r, &in) {
		return
	}
	created, err := a.deps.Maintenance.Open(r.Context(), currentSession(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/maintenance/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getTicket(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Maintenance.Get(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) ticketHistory(w http.ResponseWriter, r *http.Request) {
	h, err := a.deps.Maintenance.History(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": h})
}

func (a *API) moveTicket(w http.ResponseWriter, r *http.Request) {
	var in maintenance.Transition
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Maintenance.Move(r.Context(), currentSession(r), chi.URLParam(r, "id"), in)
	respond(w, r, got, err)
}

func (a *API) assignTicket(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
	}
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Maintenance.Assign(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.UserID)
	respond(w, r, got, err)
}
