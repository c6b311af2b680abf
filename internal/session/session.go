// Package session resolves who is acting, for which tenant and with which
// role, and answers the permission and visibility questions services ask.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/tenant"
)

var (
	ErrForbidden   = errors.New("session: forbidden")
	ErrUnknownUser = errors.New("session: unknown user")
	ErrDisabled    = errors.New("session: user disabled")
)

// Profile is the slice of a user record the session needs.
type Profile struct {
	UserID              string
	Email               string
	DisplayName         string
	Role                authz.Role
	AccessibleOffices   []string
	AccessibleCompanies []string
	Disabled            bool
}

// Session is the resolved acting user. It is immutable once built.
type Session struct {
	Tenant  tenant.Tenant
	Profile Profile
}

func New(t tenant.Tenant, p Profile) *Session {
	return &Session{Tenant: t, Profile: p}
}

func (s *Session) TenantContext() tenant.Context { return s.Tenant.Context() }

func (s *Session) Role() authz.Role { return s.Profile.Role }

func (s *Session) UserID() string { return s.Profile.UserID }

func (s *Session) Actor() audit.Actor {
	return audit.Actor{ID: s.Profile.UserID, Email: s.Profile.Email, Name: s.Profile.DisplayName}
}

// Can reports whether the role grants action on module. A nil session can
// do nothing.
func (s *Session) Can(mod authz.Module, a authz.Action) bool {
	if s == nil {
		return false
	}
	return authz.HasPermission(s.Profile.Role, mod, a)
}

// Require is Can as an error.
func (s *Session) Require(mod authz.Module, a authz.Action) error {
	if s.Can(mod, a) {
		return nil
	}
	role := "anonymous"
	if s != nil {
		role = s.Profile.Role.String()
	}
	return fmt.Errorf("%w: %s may not %s %s", ErrForbidden, role, a, mod)
}

// CanSeeOffice applies the office restriction. Admin roles see every
// office; other roles see only the offices listed on their profile.
func (s *Session) CanSeeOffice(officeID string) bool {
	if s == nil {
		return false
	}
	if authz.IsAdminRole(s.Profile.Role) {
		return true
	}
	return slices.Contains(s.Profile.AccessibleOffices, officeID)
}

func (s *Session) CanSeeCompany(companyID string) bool {
	if s == nil {
		return false
	}
	if authz.IsAdminRole(s.Profile.Role) {
		return true
	}
	return slices.Contains(s.Profile.AccessibleCompanies, companyID)
}

// CompanyVisible is CanSeeCompany for entities whose company is optional:
// an entity without a company is limited by its office alone.
func (s *Session) CompanyVisible(companyID string) bool {
	return companyID == "" || s.CanSeeCompany(companyID)
}

// VisibleOffices narrows all to the offices this session may see.
func (s *Session) VisibleOffices(all []string) []string {
	out := make([]string, 0, len(all))
	for _, id := range all {
		if s.CanSeeOffice(id) {
			out = append(out, id)
		}
	}
	return out
}

// OfficeScope returns the office ids a query must be limited to, or nil
// when the session is unrestricted.
func (s *Session) OfficeScope() []string {
	if s == nil {
		return []string{}
	}
	if authz.IsAdminRole(s.Profile.Role) {
		return nil
	}
	return append([]string{}, s.Profile.AccessibleOffices...)
}

// CompanyScope is OfficeScope for companies.
func (s *Session) CompanyScope() []string {
	if s == nil {
		return []string{}
	}
	if authz.IsAdminRole(s.Profile.Role) {
		return nil
	}
	return append([]string{}, s.Profile.AccessibleCompanies...)
}

type ctxKey struct{}

func WithContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func FromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
