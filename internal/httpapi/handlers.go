// Package httpapi serves the JSON API over chi. Every /v1 route except
// sign-in and password reset runs behind bearer authentication and a
// module/action guard.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"assetdesk.io/internal/asset"
	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/maintenance"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/project"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/stock"
	"assetdesk.io/internal/tenant"
	"assetdesk.io/internal/user"
)

// ReadyProbe checks dependencies before the service reports ready. A nil DB
// means there is nothing to ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps are the services the API exposes.
type Deps struct {
	Tokens      *auth.Tokens
	Identities  *auth.Provider
	Sessions    *session.Resolver
	Enforcer    *authz.Enforcer
	Tenants     *tenant.Service
	Users       *user.Service
	Assets      *asset.Service
	Stock       *stock.Service
	Maintenance *maintenance.Service
	Projects    *project.Service
	Audit       *audit.Recorder
}

type API struct {
	deps         Deps
	readyProbe   ReadyProbe
	version      string
	corsOrigins  []string
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   float64
}

type Option func(*API)

func WithCORSOrigins(origins ...string) Option {
	return func(a *API) { a.corsOrigins = origins }
}

// WithRateLimit sets the per-client token bucket. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(a *API) { a.ratePerSec, a.rateBurst = perSecond, burst }
}

func WithMaxBodyBytes(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxBodyBytes = n
		}
	}
}

func New(deps Deps, rp ReadyProbe, version string, opts ...Option) *API {
	a := &API{
		deps:         deps,
		readyProbe:   rp,
		version:      version,
		maxBodyBytes: 1 << 20,
		rateBurst:    40,
		ratePerSec:   20,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler builds the router.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, Logging, SecurityHeaders, CORS(a.corsOrigins...))
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.maxBodyBytes) })
	if a.ratePerSec > 0 {
		r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.rateBurst, a.ratePerSec) })
	}
	r.Use(obs.Instrument)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Get("/v1/info", a.Info)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", a.handleSignIn)
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/password-reset", a.handlePasswordResetRequest)
		r.Post("/auth/password-reset/confirm", a.handlePasswordResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(a.authenticate)
			r.Get("/session", a.handleSession)
			r.Delete("/session", a.handleSignOut)

			a.assetRoutes(r)
			a.stockRoutes(r)
			a.maintenanceRoutes(r)
			a.projectRoutes(r)
			a.adminRoutes(r)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "assetdesk-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := a.readyProbe.Check(ctx); err != nil {
		obs.Ctx(ctx).Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "assetdesk-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}
