package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"assetdesk.io/internal/asset"
	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/maintenance"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/project"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/stock"
	"assetdesk.io/internal/tenant"
	"assetdesk.io/internal/user"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{"error": msg}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON object and rejects unknown fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// bind decodes the body or answers 400.
func bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// handleError maps domain errors to status codes.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, repo.ErrTenantNotSet):
		obs.Ctx(r.Context()).Error().Err(err).Msg("repository reached without tenant")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	case errors.Is(err, repo.ErrNotFound), errors.Is(err, tenant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "resource not found")
	case errors.Is(err, session.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "permission denied")
	case errors.Is(err, session.ErrDisabled), errors.Is(err, tenant.ErrSuspended):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, session.ErrUnknownUser):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, stock.ErrInsufficientStock):
		writeError(w, r, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, asset.ErrInvalidTransition),
		errors.Is(err, maintenance.ErrInvalidTransition),
		errors.Is(err, project.ErrInvalidTransition),
		errors.Is(err, project.ErrClosed),
		errors.Is(err, stock.ErrDuplicateSKU),
		errors.Is(err, auth.ErrAlreadyExists),
		errors.Is(err, tenant.ErrExists),
		errors.Is(err, repo.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, asset.ErrInvalidInput),
		errors.Is(err, stock.ErrInvalidInput),
		errors.Is(err, maintenance.ErrInvalidInput),
		errors.Is(err, project.ErrInvalidInput),
		errors.Is(err, user.ErrInvalidInput),
		errors.Is(err, tenant.ErrInvalidInput),
		errors.Is(err, auth.ErrInvalidInput),
		errors.Is(err, repo.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, docstore.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "storage unavailable")
	default:
		obs.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func queryInt(r *http.Request, key string, def, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New(key + " must be a non-negative integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func queryTime(r *http.Request, key string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, errors.New(key + " must be an RFC 3339 timestamp")
	}
	return t, nil
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
