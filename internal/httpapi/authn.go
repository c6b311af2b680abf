package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/session"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer token and loads the caller's session.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		claims, err := a.deps.Tokens.Parse(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		ctx := auth.ContextWithClaims(r.Context(), claims)
		ctx = auth.ContextWithToken(ctx, token)

		sess, err := a.deps.Sessions.Load(ctx, claims)
		if err != nil {
			switch {
			case errors.Is(err, session.ErrUnknownUser):
				writeError(w, r, http.StatusUnauthorized, "unknown user")
			default:
				handleError(w, r, err)
			}
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithContext(ctx, sess)))
	})
}

// guard admits the request only when the session's role holds action on
// module. Services check again; the guard answers early and is counted.
func (a *API) guard(mod authz.Module, action authz.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := session.FromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, "not authenticated")
				return
			}
			allowed := a.deps.Enforcer.Allow(sess.Role(), mod, action)
			obs.ObserveAuthz(mod.String(), action.String(), allowed)
			if !allowed {
				obs.Ctx(r.Context()).Info().
					Str("user_id", sess.UserID()).
					Str("role", sess.Role().String()).
					Str("module", mod.String()).
					Str("action", action.String()).
					Msg("request denied")
				writeError(w, r, http.StatusForbidden, "permission denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentSession(r *http.Request) *session.Session {
	sess, _ := session.FromContext(r.Context())
	return sess
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
