package httpapi

import (
	"net/http"
	"strings"
	"time"

	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/tenant"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TenantID string `json:"tenant_id"`
}

type tokenResponse struct {
	Token     string      `json:"token"`
	ExpiresAt time.Time   `json:"expires_at"`
	Session   sessionView `json:"session"`
}

type sessionView struct {
	UserID              string        `json:"user_id"`
	Email               string        `json:"email"`
	DisplayName         string        `json:"display_name,omitempty"`
	Role                authz.Role    `json:"role"`
	Tenant              tenant.Tenant `json:"tenant"`
	Modules             []string      `json:"modules"`
	AssignableRoles     []string      `json:"assignable_roles"`
	AccessibleOffices   []string      `json:"accessible_offices,omitempty"`
	AccessibleCompanies []string      `json:"accessible_companies,omitempty"`
}

func viewOf(s *session.Session) sessionView {
	v := sessionView{
		UserID:              s.UserID(),
		Email:               s.Profile.Email,
		DisplayName:         s.Profile.DisplayName,
		Role:                s.Role(),
		Tenant:              s.Tenant,
		Modules:             []string{},
		AssignableRoles:     []string{},
		AccessibleOffices:   s.Profile.AccessibleOffices,
		AccessibleCompanies: s.Profile.AccessibleCompanies,
	}
	for _, m := range authz.AccessibleModules(s.Role()) {
		v.Modules = append(v.Modules, m.String())
	}
	for _, r := range authz.AssignableRoles(s.Role()) {
		v.AssignableRoles = append(v.AssignableRoles, r.String())
	}
	return v
}

// handleSignIn exchanges email and password for an access token.
func (a *API) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if !bind(w, r, &req) {
		return
	}
	ident, err := a.deps.Identities.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleError(w, r, err)
		return
	}
	a.issue(w, r, ident, http.StatusOK)
}

// handleRegister creates an identity and signs it in. The first identity of
// a new tenant becomes its administrator; later ones must be created by an
// administrator first.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !bind(w, r, &req) {
		return
	}
	tenantID := strings.TrimSpace(req.TenantID)
	if _, err := tenant.NewContext(tenantID); err != nil {
		writeError(w, r, http.StatusBadRequest, "tenant_id is invalid")
		return
	}
	// Claiming the tenant first leaves a losing concurrent registration
	// without an identity.
	if _, err := a.deps.Tenants.Create(r.Context(), tenantID, ""); err != nil {
		handleError(w, r, err)
		return
	}
	ident, err := a.deps.Identities.Register(r.Context(), req.Email, req.Password, tenantID)
	if err != nil {
		if derr := a.deps.Tenants.Discard(r.Context(), tenantID); derr != nil {
			obs.Ctx(r.Context()).Error().Err(derr).Str("tenant_id", tenantID).Msg("discard unregistered tenant")
		}
		handleError(w, r, err)
		return
	}
	a.issue(w, r, ident, http.StatusCreated)
}

func (a *API) issue(w http.ResponseWriter, r *http.Request, ident auth.Identity, code int) {
	sess, err := a.deps.Sessions.Start(r.Context(), ident)
	if err != nil {
		handleError(w, r, err)
		return
	}
	token, expires, err := a.deps.Tokens.Issue(ident.UserID, sess.Tenant.ID, ident.Email, sess.Role().String())
	if err != nil {
		obs.Ctx(r.Context()).Error().Err(err).Msg("issue token")
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, code, tokenResponse{Token: token, ExpiresAt: expires, Session: viewOf(sess)})
}

type resetRequest struct {
	Email string `json:"email"`
}

type resetConfirm struct {
	Email       string `json:"email"`
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

// handlePasswordResetRequest always answers 202 so callers cannot learn
// which emails exist.
func (a *API) handlePasswordResetRequest(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !bind(w, r, &req) {
		return
	}
	if err := a.deps.Identities.RequestPasswordReset(r.Context(), req.Email); err != nil {
		obs.Ctx(r.Context()).Warn().Err(err).Msg("password reset request failed")
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (a *API) handlePasswordResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req resetConfirm
	if !bind(w, r, &req) {
		return
	}
	if err := a.deps.Identities.ResetPassword(r.Context(), req.Email, req.Token, req.NewPassword); err != nil {
		handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(currentSession(r)))
}

// handleSignOut records the logout. Tokens are stateless and expire on
// their own.
func (a *API) handleSignOut(w http.ResponseWriter, r *http.Request) {
	a.deps.Sessions.End(r.Context(), currentSession(r))
	w.WriteHeader(http.StatusNoContent)
}
