package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetdesk.io/internal/asset"
	"assetdesk.io/internal/authz"
)

func (a *API) assetRoutes(r chi.Router) {
	m := authz.ModuleAssets
	r.Route("/assets", func(r chi.Router) {
		r.With(a.guard(m, authz.ActionRead)).Get("/", a.listAssets)
		r.With(a.guard(m, authz.ActionCreate)).Post("/", a.createAsset)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(m, authz.ActionRead)).Get("/", a.getAsset)
			r.With(a.guard(m, authz.ActionRead)).Get("/events", a.assetEvents)
			r.With(a.guard(m, authz.ActionUpdate)).Patch("/", a.updateAsset)
			r.With(a.guard(m, authz.ActionDelete)).Delete("/", a.deleteAsset)
			r.With(a.guard(m, authz.ActionAssign)).Post("/assign", a.assignAsset)
			r.With(a.guard(m, authz.ActionAssign)).Post("/unassign", a.unassignAsset)
			r.With(a.guard(m, authz.ActionTransfer)).Post("/transfer", a.transferAsset)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/maintenance", a.assetToMaintenance)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/maintenance/return", a.assetFromMaintenance)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/lost", a.assetLost)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/found", a.assetFound)
			r.With(a.guard(m, authz.ActionDelete)).Post("/dispose", a.disposeAsset)
		})
	})
}

func (a *API) listAssets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	list, err := a.deps.Assets.List(r.Context(), currentSession(r), asset.ListFilter{
		Status:     asset.Status(q.Get("status")),
		OfficeID:   q.Get("office_id"),
		AssignedTo: q.Get("assigned_to"),
		Category:   q.Get("category"),
		NamePrefix: q.Get("q"),
		Limit:      limit,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) createAsset(w http.ResponseWriter, r *http.Request) {
	var in asset.NewAsset
	if !bind(w, r, &in) {
		return
	}
	created, err := a.deps.Assets.Create(r.Context(), currentSession(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/assets/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getAsset(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Assets.Get(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) assetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := a.deps.Assets.Events(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": events})
}

func (a *API) updateAsset(w http.ResponseWriter, r *http.Request) {
	var c asset.Changes
	if !bind(w, r, &c) {
		return
	}
	got, err := a.deps.Assets.Update(r.Context(), currentSession(r), chi.URLParam(r, "id"), c)
	respond(w, r, got, err)
}

func (a *API) deleteAsset(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Assets.Delete(r.Context(), currentSession(r), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assetAction struct {
	UserID   string `json:"user_id"`
	OfficeID string `json:"office_id"`
	Reason   string `json:"reason"`
}

func (a *API) assignAsset(w http.ResponseWriter, r *http.Request) {
	var in assetAction
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Assets.Assign(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.UserID)
	respond(w, r, got, err)
}

func (a *API) unassignAsset(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Assets.Unassign(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) transferAsset(w http.ResponseWriter, r *http.Request) {
	var in assetAction
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Assets.Transfer(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.OfficeID)
	respond(w, r, got, err)
}

func (a *API) assetToMaintenance(w http.ResponseWriter, r *http.Request) {
	var in assetAction
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Assets.SendToMaintenance(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Reason)
	respond(w, r, got, err)
}

func (a *API) assetFromMaintenance(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Assets.ReturnFromMaintenance(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) assetLost(w http.ResponseWriter, r *http.Request) {
	var in assetAction
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Assets.MarkLost(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Reason)
	respond(w, r, got, err)
}

func (a *API) assetFound(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Assets.MarkFound(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) disposeAsset(w http.ResponseWriter, r *http.Request) {
	var in assetAction
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Assets.Dispose(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Reason)
	respond(w, r, got, err)
}

// respond writes v with 200 or maps err.
func respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}
