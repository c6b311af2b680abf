package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/obs"
)

var (
	ErrNotFound     = errors.New("tenant: not found")
	ErrSuspended    = errors.New("tenant: suspended")
	ErrInvalidInput = errors.New("tenant: invalid input")
	ErrExists       = errors.New("tenant: already exists")
)

const collection = "tenants"

type Plan string

const (
	PlanFree       Plan = "free"
	PlanStandard   Plan = "standard"
	PlanEnterprise Plan = "enterprise"
)

func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanStandard, PlanEnterprise:
		return true
	}
	return false
}

type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

type Settings struct {
	Currency string          `json:"currency"`
	Timezone string          `json:"timezone"`
	Features map[string]bool `json:"features,omitempty"`
}

// DefaultSettings applies to auto-provisioned tenants.
func DefaultSettings() Settings {
	return Settings{Currency: "USD", Timezone: "UTC"}
}

type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Plan      Plan      `json:"plan"`
	Settings  Settings  `json:"settings"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t Tenant) Context() Context { return Context{id: t.ID} }

func (t Tenant) Active() bool { return t.Status == StatusActive }

// Update lists the fields a tenant admin may change. Nil fields stay as
// they are.
type Update struct {
	Name     *string
	Plan     *Plan
	Settings *Settings
}

// Service manages tenant records. Suspend is the only way to retire a
// tenant; Discard only undoes a registration that never got a user.
type Service struct {
	store docstore.Store
	now   func() time.Time
}

func NewService(store docstore.Store) *Service {
	return &Service{store: store, now: func() time.Time { return time.Now().UTC() }}
}

func path(id string) string { return docstore.Join(collection, id) }

func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	if _, err := NewContext(id); err != nil {
		return Tenant{}, err
	}
	doc, err := s.store.Get(ctx, path(id))
	if errors.Is(err, docstore.ErrNotFound) {
		return Tenant{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return Tenant{}, err
	}
	var t Tenant
	if err := docstore.Decode(doc, &t); err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// Ensure returns the tenant, provisioning it on the free plan when absent.
// created reports whether this call provisioned it.
func (s *Service) Ensure(ctx context.Context, id, name string) (t Tenant, created bool, err error) {
	t, err = s.Get(ctx, id)
	if err == nil {
		return t, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Tenant{}, false, err
	}
	t, err = s.Create(ctx, id, name)
	if errors.Is(err, ErrExists) {
		// Provisioned concurrently by another sign-in.
		t, err = s.Get(ctx, id)
		return t, false, err
	}
	if err != nil {
		return Tenant{}, false, err
	}
	return t, true, nil
}

// Create provisions a tenant on the free plan. It fails with ErrExists when
// the id is taken, so concurrent registrations of one tenant have a single
// winner.
func (s *Service) Create(ctx context.Context, id, name string) (Tenant, error) {
	if _, err := NewContext(id); err != nil {
		return Tenant{}, err
	}
	now := s.now()
	if strings.TrimSpace(name) == "" {
		name = id
	}
	t := Tenant{
		ID:        id,
		Name:      strings.TrimSpace(name),
		Plan:      PlanFree,
		Settings:  DefaultSettings(),
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	doc, err := docstore.Encode(t)
	if err != nil {
		return Tenant{}, err
	}
	err = s.store.Commit(ctx, []docstore.Write{{Kind: docstore.WriteCreate, Path: path(id), Data: doc}})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return Tenant{}, fmt.Errorf("%w: %s", ErrExists, id)
	}
	if err != nil {
		return Tenant{}, err
	}
	obs.Ctx(ctx).Info().Str("tenant_id", id).Msg("tenant provisioned")
	return t, nil
}

// Discard deletes the tenant record. Callers use it only to roll back a
// Create whose registration failed before any user existed.
func (s *Service) Discard(ctx context.Context, id string) error {
	if _, err := NewContext(id); err != nil {
		return err
	}
	err := s.store.Commit(ctx, []docstore.Write{{Kind: docstore.WriteDelete, Path: path(id)}})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	obs.Ctx(ctx).Warn().Str("tenant_id", id).Msg("tenant discarded")
	return nil
}

// Apply changes name, plan or settings and returns the stored tenant.
func (s *Service) Apply(ctx context.Context, id string, u Update) (Tenant, error) {
	patch := docstore.Document{"updated_at": s.now()}
	if u.Name != nil {
		name := strings.TrimSpace(*u.Name)
		if name == "" {
			return Tenant{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		patch["name"] = name
	}
	if u.Plan != nil {
		if !u.Plan.Valid() {
			return Tenant{}, fmt.Errorf("%w: unknown plan %q", ErrInvalidInput, *u.Plan)
		}
		patch["plan"] = *u.Plan
	}
	if u.Settings != nil {
		if strings.TrimSpace(u.Settings.Currency) == "" {
			return Tenant{}, fmt.Errorf("%w: currency is required", ErrInvalidInput)
		}
		if _, err := time.LoadLocation(u.Settings.Timezone); err != nil || u.Settings.Timezone == "" {
			return Tenant{}, fmt.Errorf("%w: unknown timezone %q", ErrInvalidInput, u.Settings.Timezone)
		}
		patch["settings"] = *u.Settings
	}
	if err := s.merge(ctx, id, patch); err != nil {
		return Tenant{}, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Suspend(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusSuspended)
}

func (s *Service) Reactivate(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusActive)
}

func (s *Service) setStatus(ctx context.Context, id string, status Status) error {
	if err := s.merge(ctx, id, docstore.Document{"status": status, "updated_at": s.now()}); err != nil {
		return err
	}
	obs.Ctx(ctx).Info().Str("tenant_id", id).Str("status", string(status)).Msg("tenant status changed")
	return nil
}

func (s *Service) merge(ctx context.Context, id string, patch docstore.Document) error {
	if _, err := NewContext(id); err != nil {
		return err
	}
	err := s.store.Commit(ctx, []docstore.Write{{Kind: docstore.WriteMerge, Path: path(id), Data: patch}})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}
