package session

import (
	"context"
	"errors"
	"fmt"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/tenant"
)

// Users loads and provisions user profiles within a tenant.
type Users interface {
	Profile(ctx context.Context, tc tenant.Context, userID string) (Profile, error)
	// ProvisionOwner stores the first admin of a tenant. At most one call
	// per tenant succeeds; later ones fail with ErrUnknownUser.
	ProvisionOwner(ctx context.Context, tc tenant.Context, p Profile) (Profile, error)
	Count(ctx context.Context, tc tenant.Context) (int, error)
}

// Resolver turns a signed-in identity into a Session.
type Resolver struct {
	tenants *tenant.Service
	users   Users
	audit   *audit.Recorder
}

func NewResolver(tenants *tenant.Service, users Users, recorder *audit.Recorder) *Resolver {
	return &Resolver{tenants: tenants, users: users, audit: recorder}
}

// Start runs at sign-in. It provisions the tenant when absent, makes the
// first user of a fresh tenant its TENANT_ADMIN and records the login.
func (r *Resolver) Start(ctx context.Context, ident auth.Identity) (*Session, error) {
	t, created, err := r.tenants.Ensure(ctx, ident.TenantID, "")
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, fmt.Errorf("%w: %s", tenant.ErrSuspended, t.ID)
	}
	tc := t.Context()

	p, err := r.users.Profile(ctx, tc, ident.UserID)
	if errors.Is(err, ErrUnknownUser) {
		p, err = r.provisionFirst(ctx, tc, ident, created)
	}
	if err != nil {
		return nil, err
	}
	if p.Disabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, p.Email)
	}

	s := New(t, p)
	r.audit.Emit(ctx, tc, s.Actor(), audit.Entry{
		Action:      audit.ActionLogin,
		Module:      authz.ModuleDashboard,
		EntityType:  "session",
		EntityID:    p.UserID,
		EntityName:  p.Email,
		Description: audit.Describe(p.Email, "signed in"),
	})
	return s, nil
}

func (r *Resolver) provisionFirst(ctx context.Context, tc tenant.Context, ident auth.Identity, freshTenant bool) (Profile, error) {
	if !freshTenant {
		n, err := r.users.Count(ctx, tc)
		if err != nil {
			return Profile{}, err
		}
		if n > 0 {
			return Profile{}, fmt.Errorf("%w: %s", ErrUnknownUser, ident.Email)
		}
	}
	p, err := r.users.ProvisionOwner(ctx, tc, Profile{
		UserID:      ident.UserID,
		Email:       ident.Email,
		DisplayName: ident.Email,
		Role:        authz.RoleTenantAdmin,
	})
	if err != nil {
		return Profile{}, err
	}
	obs.Ctx(ctx).Info().Str("tenant_id", tc.ID()).Str("user_id", p.UserID).Msg("first user provisioned as tenant admin")
	return p, nil
}

// Load rebuilds the session for an authenticated request. The role comes
// from the stored profile, not the token, so role changes apply at once.
func (r *Resolver) Load(ctx context.Context, claims *auth.Claims) (*Session, error) {
	t, err := r.tenants.Get(ctx, claims.TenantID)
	if err != nil {
		return nil, err
	}
	if !t.Active() {
		return nil, fmt.Errorf("%w: %s", tenant.ErrSuspended, t.ID)
	}
	p, err := r.users.Profile(ctx, t.Context(), claims.Subject)
	if err != nil {
		return nil, err
	}
	if p.Disabled {
		return nil, fmt.Errorf("%w: %s", ErrDisabled, p.Email)
	}
	return New(t, p), nil
}

// End records the logout.
func (r *Resolver) End(ctx context.Context, s *Session) {
	r.audit.Emit(ctx, s.TenantContext(), s.Actor(), audit.Entry{
		Action:      audit.ActionLogout,
		Module:      authz.ModuleDashboard,
		EntityType:  "session",
		EntityID:    s.UserID(),
		EntityName:  s.Profile.Email,
		Description: audit.Describe(s.Profile.Email, "signed out"),
	})
}
