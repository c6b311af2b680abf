package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/stock"
)

func (a *API) stockRoutes(r chi.Router) {
	m := authz.ModuleConsumables
	r.Route("/consumables", func(r chi.Router) {
		r.With(a.guard(m, authz.ActionRead)).Get("/", a.listConsumables)
		r.With(a.guard(m, authz.ActionCreate)).Post("/", a.createConsumable)
		r.Route("/{id}", func(r chi.Router) {
			r.With(a.guard(m, authz.ActionRead)).Get("/", a.getConsumable)
			r.With(a.guard(m, authz.ActionRead)).Get("/transactions", a.stockTransactions)
			r.With(a.guard(m, authz.ActionDelete)).Delete("/", a.deleteConsumable)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/receive", a.receiveStock)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/issue", a.issueStock)
			r.With(a.guard(m, authz.ActionUpdate)).Post("/adjust", a.adjustStock)
			r.With(a.guard(m, authz.ActionTransfer)).Post("/transfer", a.transferStock)
		})
	})
}

func (a *API) listConsumables(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	list, err := a.deps.Stock.List(r.Context(), currentSession(r), stock.ListFilter{
		OfficeID:     q.Get("office_id"),
		Category:     q.Get("category"),
		LowStockOnly: queryBool(r, "low_stock"),
		NamePrefix:   q.Get("q"),
		Limit:        limit,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": list})
}

func (a *API) createConsumable(w http.ResponseWriter, r *http.Request) {
	var in stock.NewConsumable
	if !bind(w, r, &in) {
		return
	}
	created, err := a.deps.Stock.Create(r.Context(), currentSession(r), in)
	if err != nil {
		handleError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/consumables/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) getConsumable(w http.ResponseWriter, r *http.Request) {
	got, err := a.deps.Stock.Get(r.Context(), currentSession(r), chi.URLParam(r, "id"))
	respond(w, r, got, err)
}

func (a *API) deleteConsumable(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Stock.Delete(r.Context(), currentSession(r), chi.URLParam(r, "id")); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) stockTransactions(w http.ResponseWriter, r *http.Request) {
	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	txs, err := a.deps.Stock.Transactions(r.Context(), currentSession(r), chi.URLParam(r, "id"), since)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": txs})
}

type stockMovement struct {
	Quantity   int64  `json:"quantity"`
	Reference  string `json:"reference"`
	IssuedTo   string `json:"issued_to"`
	Note       string `json:"note"`
	Reason     string `json:"reason"`
	ToOfficeID string `json:"to_office_id"`
}

func (a *API) receiveStock(w http.ResponseWriter, r *http.Request) {
	var in stockMovement
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Stock.Receive(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Quantity, in.Reference)
	respond(w, r, got, err)
}

func (a *API) issueStock(w http.ResponseWriter, r *http.Request) {
	var in stockMovement
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Stock.Issue(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Quantity, in.IssuedTo, in.Note)
	respond(w, r, got, err)
}

// adjustStock sets the counted quantity; quantity is the new absolute value.
func (a *API) adjustStock(w http.ResponseWriter, r *http.Request) {
	var in stockMovement
	if !bind(w, r, &in) {
		return
	}
	got, err := a.deps.Stock.Adjust(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.Quantity, in.Reason)
	respond(w, r, got, err)
}

func (a *API) transferStock(w http.ResponseWriter, r *http.Request) {
	var in stockMovement
	if !bind(w, r, &in) {
		return
	}
	from, to, err := a.deps.Stock.Transfer(r.Context(), currentSession(r), chi.URLParam(r, "id"), in.ToOfficeID, in.Quantity)
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"from": from, "to": to})
}
