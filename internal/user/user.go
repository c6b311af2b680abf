// Package user manages the people of a tenant: their role and the offices
// and companies they may see.
package user

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/tenant"
)

const (
	Collection      = "users"
	OwnerCollection = "tenant_owner"
	ownerID         = "owner"
)

var ErrInvalidInput = errors.New("user: invalid input")

type Status string

const (
	StatusActive   Status = "active"
	StatusDisabled Status = "disabled"
)

type User struct {
	repo.Meta
	Email               string     `json:"email"`
	DisplayName         string     `json:"display_name"`
	Role                authz.Role `json:"role"`
	AccessibleOffices   []string   `json:"accessible_offices"`
	AccessibleCompanies []string   `json:"accessible_companies"`
	Status              Status     `json:"status"`
}

func (u User) profile() session.Profile {
	return session.Profile{
		UserID:              u.ID,
		Email:               u.Email,
		DisplayName:         u.DisplayName,
		Role:                u.Role,
		AccessibleOffices:   u.AccessibleOffices,
		AccessibleCompanies: u.AccessibleCompanies,
		Disabled:            u.Status == StatusDisabled,
	}
}

// ownerClaim names the user a tenant was provisioned for.
type ownerClaim struct {
	repo.Meta
	UserID string `json:"user_id"`
}

// NewUser is the input of Create.
type NewUser struct {
	Email       string   `json:"email" validate:"required,email"`
	DisplayName string   `json:"display_name" validate:"required,max=120"`
	Role        string   `json:"role" validate:"required"`
	Password    string   `json:"password" validate:"required,min=8"`
	Offices     []string `json:"accessible_offices"`
	Companies   []string `json:"accessible_companies"`
}

type Service struct {
	users      *repo.Repository[User]
	owners     *repo.Repository[ownerClaim]
	identities *auth.Provider
	audit      *audit.Recorder
	validate   *validator.Validate
}

var _ session.Users = (*Service)(nil)

func NewService(store docstore.Store, identities *auth.Provider, recorder *audit.Recorder) *Service {
	return &Service{
		users:      repo.New[User](store, Collection),
		owners:     repo.New[ownerClaim](store, OwnerCollection),
		identities: identities,
		audit:      recorder,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Profile implements session.Users.
func (s *Service) Profile(ctx context.Context, tc tenant.Context, userID string) (session.Profile, error) {
	u, err := s.users.WithTenant(tc).Get(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return session.Profile{}, fmt.Errorf("%w: %s", session.ErrUnknownUser, userID)
	}
	if err != nil {
		return session.Profile{}, err
	}
	return u.profile(), nil
}

func profileUser(p session.Profile) User {
	return User{
		Meta:                repo.Meta{ID: p.UserID},
		Email:               p.Email,
		DisplayName:         p.DisplayName,
		Role:                p.Role,
		AccessibleOffices:   p.AccessibleOffices,
		AccessibleCompanies: p.AccessibleCompanies,
		Status:              StatusActive,
	}
}

// ProvisionOwner implements session.Users. The profile and the tenant's
// owner claim are written together, so one caller per tenant wins; the
// others get session.ErrUnknownUser.
func (s *Service) ProvisionOwner(ctx context.Context, tc tenant.Context, p session.Profile) (session.Profile, error) {
	users := s.users.WithTenant(tc)
	op, created := users.CreateOp(profileUser(p), p.UserID)
	claim, _ := s.owners.WithTenant(tc).CreateOp(ownerClaim{Meta: repo.Meta{ID: ownerID}, UserID: p.UserID}, p.UserID)
	if err := users.Batch(ctx, op, claim); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return session.Profile{}, fmt.Errorf("%w: %s", session.ErrUnknownUser, p.Email)
		}
		return session.Profile{}, err
	}
	return created.profile(), nil
}

func (s *Service) Count(ctx context.Context, tc tenant.Context) (int, error) {
	list, err := s.users.WithTenant(tc).List(ctx, docstore.Query{})
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// Create registers the credentials and the profile of a new user. The role
// must be one the acting user may assign.
func (s *Service) Create(ctx context.Context, sess *session.Session, in NewUser) (User, error) {
	if err := sess.Require(authz.ModuleUsers, authz.ActionCreate); err != nil {
		return User{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return User{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	role, ok := authz.ParseRole(in.Role)
	if !ok {
		return User{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, in.Role)
	}
	if !authz.CanAssign(sess.Role(), role) {
		return User{}, fmt.Errorf("%w: %s may not assign %s", session.ErrForbidden, sess.Role(), role)
	}

	ident, err := s.identities.Register(ctx, in.Email, in.Password, sess.Tenant.ID)
	if err != nil {
		return User{}, err
	}
	u, err := s.users.WithTenant(sess.TenantContext()).Create(ctx, User{
		Meta:                repo.Meta{ID: ident.UserID},
		Email:               ident.Email,
		DisplayName:         strings.TrimSpace(in.DisplayName),
		Role:                role,
		AccessibleOffices:   dedupe(in.Offices),
		AccessibleCompanies: dedupe(in.Companies),
		Status:              StatusActive,
	}, sess.UserID())
	if err != nil {
		obs.Ctx(ctx).Error().Err(err).Str("email", ident.Email).Msg("identity registered without a user profile")
		return User{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionCreate,
		Module:      authz.ModuleUsers,
		EntityType:  "user",
		EntityID:    u.ID,
		EntityName:  u.Email,
		Description: audit.Describe("created user", u.Email, "as", role.String()),
	})
	return u, nil
}

func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (User, error) {
	if err := sess.Require(authz.ModuleUsers, authz.ActionRead); err != nil {
		return User{}, err
	}
	return s.users.WithTenant(sess.TenantContext()).Get(ctx, id)
}

// List returns users, optionally narrowed to one role.
func (s *Service) List(ctx context.Context, sess *session.Session, role *authz.Role) ([]User, error) {
	if err := sess.Require(authz.ModuleUsers, authz.ActionRead); err != nil {
		return nil, err
	}
	q := docstore.Query{OrderBy: "email"}
	if role != nil {
		q = q.Where(docstore.Eq("role", role.String()))
	}
	return s.users.WithTenant(sess.TenantContext()).List(ctx, q)
}

// ChangeRole needs update on users, and both the user's current role and
// the new one must be assignable by the actor. Nobody changes their own role.
func (s *Service) ChangeRole(ctx context.Context, sess *session.Session, id string, role authz.Role) (User, error) {
	if err := sess.Require(authz.ModuleUsers, authz.ActionUpdate); err != nil {
		return User{}, err
	}
	if id == sess.UserID() {
		return User{}, fmt.Errorf("%w: cannot change own role", session.ErrForbidden)
	}
	users := s.users.WithTenant(sess.TenantContext())
	before, err := users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !authz.CanAssign(sess.Role(), role) || !authz.CanAssign(sess.Role(), before.Role) {
		return User{}, fmt.Errorf("%w: %s may not move %s to %s", session.ErrForbidden, sess.Role(), before.Role, role)
	}
	if before.Role == role {
		return before, nil
	}
	if err := users.Batch(ctx, users.UpdateOp(id, map[string]any{"role": role}, sess.UserID()).Expect("role", before.Role)); err != nil {
		return User{}, err
	}
	after, err := users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.auditUpdate(ctx, sess, before, after, audit.Describe("changed role of", after.Email, "from", before.Role.String(), "to", role.String()))
	return after, nil
}

// SetAccess replaces the office and company lists of a user.
func (s *Service) SetAccess(ctx context.Context, sess *session.Session, id string, offices, companies []string) (User, error) {
	if err := sess.Require(authz.ModuleUsers, authz.ActionUpdate); err != nil {
		return User{}, err
	}
	users := s.users.WithTenant(sess.TenantContext())
	before, err := users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if id != sess.UserID() && !authz.CanAssign(sess.Role(), before.Role) {
		return User{}, fmt.Errorf("%w: %s may not manage %s", session.ErrForbidden, sess.Role(), before.Role)
	}
	patch := map[string]any{
		"accessible_offices":   dedupe(offices),
		"accessible_companies": dedupe(companies),
	}
	if err := users.Update(ctx, id, patch, sess.UserID()); err != nil {
		return User{}, err
	}
	after, err := users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.auditUpdate(ctx, sess, before, after, audit.Describe("changed access of", after.Email))
	return after, nil
}

// Disable blocks sign-in for a user below the actor's rank.
func (s *Service) Disable(ctx context.Context, sess *session.Session, id string) (User, error) {
	if err := sess.Require(authz.ModuleUsers, authz.ActionUpdate); err != nil {
		return User{}, err
	}
	if id == sess.UserID() {
		return User{}, fmt.Errorf("%w: cannot disable yourself", session.ErrForbidden)
	}
	users := s.users.WithTenant(sess.TenantContext())
	before, err := users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	if !authz.CanAssign(sess.Role(), before.Role) {
		return User{}, fmt.Errorf("%w: %s may not disable %s", session.ErrForbidden, sess.Role(), before.Role)
	}
	if err := users.Update(ctx, id, map[string]any{"status": StatusDisabled}, sess.UserID()); err != nil {
		return User{}, err
	}
	after, err := users.Get(ctx, id)
	if err != nil {
		return User{}, err
	}
	s.auditUpdate(ctx, sess, before, after, audit.Describe("disabled user", after.Email))
	return after, nil
}

func (s *Service) auditUpdate(ctx context.Context, sess *session.Session, before, after User, desc string) {
	changes, err := audit.Diff(before, after)
	if err != nil {
		obs.Ctx(ctx).Warn().Err(err).Msg("diff user")
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionUpdate,
		Module:      authz.ModuleUsers,
		EntityType:  "user",
		EntityID:    after.ID,
		EntityName:  after.Email,
		Description: desc,
		Changes:     changes,
	})
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
