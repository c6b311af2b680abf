// Package asset tracks company assets through their lifecycle. Every
// status change is committed together with an immutable event.
package asset

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
)

const (
	Collection      = "assets"
	EventCollection = "asset_events"
)

var (
	ErrInvalidTransition = errors.New("asset: invalid status transition")
	ErrInvalidInput      = errors.New("asset: invalid input")
)

type Asset struct {
	repo.Meta
	Name         string     `json:"name"`
	AssetTag     string     `json:"asset_tag"`
	Category     string     `json:"category"`
	SerialNumber string     `json:"serial_number,omitempty"`
	OfficeID     string     `json:"office_id"`
	CompanyID    string     `json:"company_id,omitempty"`
	VendorID     string     `json:"vendor_id,omitempty"`
	Status       Status     `json:"status"`
	AssignedTo   string     `json:"assigned_to,omitempty"`
	AssignedAt   *time.Time `json:"assigned_at,omitempty"`
	PurchaseCost int64      `json:"purchase_cost"`
	PurchaseDate *time.Time `json:"purchase_date,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Event is one immutable entry of an asset's history.
type Event struct {
	repo.Meta
	AssetID    string            `json:"asset_id"`
	Type       EventType         `json:"type"`
	FromStatus Status            `json:"from_status,omitempty"`
	ToStatus   Status            `json:"to_status"`
	Details    map[string]string `json:"details,omitempty"`
}

// NewAsset is the input of Create. Costs are in minor currency units.
type NewAsset struct {
	Name         string     `json:"name" validate:"required,max=200"`
	AssetTag     string     `json:"asset_tag" validate:"required,max=64"`
	Category     string     `json:"category" validate:"required"`
	SerialNumber string     `json:"serial_number"`
	OfficeID     string     `json:"office_id" validate:"required"`
	CompanyID    string     `json:"company_id"`
	VendorID     string     `json:"vendor_id"`
	PurchaseCost int64      `json:"purchase_cost" validate:"gte=0"`
	PurchaseDate *time.Time `json:"purchase_date"`
	Notes        string     `json:"notes"`
}

// Changes lists the descriptive fields Update may set.
type Changes struct {
	Name         *string `json:"name"`
	Category     *string `json:"category"`
	SerialNumber *string `json:"serial_number"`
	VendorID     *string `json:"vendor_id"`
	PurchaseCost *int64  `json:"purchase_cost"`
	Notes        *string `json:"notes"`
}

type Service struct {
	assets   *repo.Repository[Asset]
	events   *repo.Repository[Event]
	audit    *audit.Recorder
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store docstore.Store, recorder *audit.Recorder) *Service {
	return &Service{
		assets:   repo.New[Asset](store, Collection),
		events:   repo.New[Event](store, EventCollection),
		audit:    recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type scoped struct {
	assets *repo.Repository[Asset]
	events *repo.Repository[Event]
}

func (s *Service) bind(sess *session.Session) scoped {
	tc := sess.TenantContext()
	return scoped{assets: s.assets.WithTenant(tc), events: s.events.WithTenant(tc)}
}

// Create stores a new available asset and its "created" event in one batch.
func (s *Service) Create(ctx context.Context, sess *session.Session, in NewAsset) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionCreate); err != nil {
		return Asset{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Asset{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !sess.CanSeeOffice(in.OfficeID) {
		return Asset{}, fmt.Errorf("%w: office %s", session.ErrForbidden, in.OfficeID)
	}
	if !sess.CompanyVisible(in.CompanyID) {
		return Asset{}, fmt.Errorf("%w: company %s", session.ErrForbidden, in.CompanyID)
	}
	r := s.bind(sess)
	op, created := r.assets.CreateOp(Asset{
		Name:         strings.TrimSpace(in.Name),
		AssetTag:     strings.TrimSpace(in.AssetTag),
		Category:     in.Category,
		SerialNumber: in.SerialNumber,
		OfficeID:     in.OfficeID,
		CompanyID:    in.CompanyID,
		VendorID:     in.VendorID,
		Status:       StatusAvailable,
		PurchaseCost: in.PurchaseCost,
		PurchaseDate: in.PurchaseDate,
		Notes:        in.Notes,
	}, sess.UserID())
	evOp, _ := r.events.CreateOp(Event{
		AssetID:  created.ID,
		Type:     EventCreated,
		ToStatus: StatusAvailable,
		Details:  map[string]string{"office_id": in.OfficeID},
	}, sess.UserID())
	if err := r.assets.Batch(ctx, op, evOp); err != nil {
		return Asset{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionCreate,
		Module:      authz.ModuleAssets,
		EntityType:  "asset",
		EntityID:    created.ID,
		EntityName:  created.Name,
		Description: audit.Describe("created asset", created.Name, created.AssetTag),
	})
	return created, nil
}

func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionRead); err != nil {
		return Asset{}, err
	}
	return s.load(ctx, sess, s.bind(sess), id)
}

func (s *Service) load(ctx context.Context, sess *session.Session, r scoped, id string) (Asset, error) {
	a, err := r.assets.Get(ctx, id)
	if err != nil {
		return Asset{}, err
	}
	if !sess.CanSeeOffice(a.OfficeID) {
		return Asset{}, fmt.Errorf("%w: office %s", session.ErrForbidden, a.OfficeID)
	}
	if !sess.CompanyVisible(a.CompanyID) {
		return Asset{}, fmt.Errorf("%w: company %s", session.ErrForbidden, a.CompanyID)
	}
	return a, nil
}

// ListFilter narrows List.
type ListFilter struct {
	Status     Status
	OfficeID   string
	AssignedTo string
	Category   string
	NamePrefix string
	Limit      int
}

// List returns the assets in offices and companies the session may see,
// newest first.
func (s *Service) List(ctx context.Context, sess *session.Session, f ListFilter) ([]Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionRead); err != nil {
		return nil, err
	}
	q := docstore.Query{Limit: f.Limit}
	if scope := sess.OfficeScope(); scope != nil {
		if len(scope) == 0 {
			return []Asset{}, nil
		}
		q = q.Where(docstore.In("office_id", scope...))
	}
	if scope := sess.CompanyScope(); scope != nil {
		q = q.Where(docstore.InOrUnset("company_id", scope...))
	}
	if f.Status != "" {
		q = q.Where(docstore.Eq("status", string(f.Status)))
	}
	if f.OfficeID != "" {
		q = q.Where(docstore.Eq("office_id", f.OfficeID))
	}
	if f.AssignedTo != "" {
		q = q.Where(docstore.Eq("assigned_to", f.AssignedTo))
	}
	if f.Category != "" {
		q = q.Where(docstore.Eq("category", f.Category))
	}
	if f.NamePrefix != "" {
		q = q.Where(docstore.Prefix("name", f.NamePrefix))
		q.OrderBy = "name"
	}
	return s.bind(sess).assets.List(ctx, q)
}

// Update changes descriptive fields and records an "updated" event.
func (s *Service) Update(ctx context.Context, sess *session.Session, id string, c Changes) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionUpdate); err != nil {
		return Asset{}, err
	}
	patch := map[string]any{}
	if c.Name != nil {
		if strings.TrimSpace(*c.Name) == "" {
			return Asset{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		patch["name"] = strings.TrimSpace(*c.Name)
	}
	if c.Category != nil {
		patch["category"] = *c.Category
	}
	if c.SerialNumber != nil {
		patch["serial_number"] = *c.SerialNumber
	}
	if c.VendorID != nil {
		patch["vendor_id"] = *c.VendorID
	}
	if c.PurchaseCost != nil {
		if *c.PurchaseCost < 0 {
			return Asset{}, fmt.Errorf("%w: purchase cost must not be negative", ErrInvalidInput)
		}
		patch["purchase_cost"] = *c.PurchaseCost
	}
	if c.Notes != nil {
		patch["notes"] = *c.Notes
	}
	if len(patch) == 0 {
		return s.Get(ctx, sess, id)
	}
	return s.apply(ctx, sess, id, EventUpdated, patch, nil, audit.ActionUpdate)
}

// Delete removes the asset. Its events stay as history.
func (s *Service) Delete(ctx context.Context, sess *session.Session, id string) error {
	if err := sess.Require(authz.ModuleAssets, authz.ActionDelete); err != nil {
		return err
	}
	r := s.bind(sess)
	a, err := s.load(ctx, sess, r, id)
	if err != nil {
		return err
	}
	if err := r.assets.Delete(ctx, id); err != nil {
		return err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionDelete,
		Module:      authz.ModuleAssets,
		EntityType:  "asset",
		EntityID:    a.ID,
		EntityName:  a.Name,
		Description: audit.Describe("deleted asset", a.Name),
	})
	return nil
}

// Events returns the history of one asset, oldest first.
func (s *Service) Events(ctx context.Context, sess *session.Session, assetID string) ([]Event, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionRead); err != nil {
		return nil, err
	}
	r := s.bind(sess)
	if _, err := s.load(ctx, sess, r, assetID); err != nil {
		// Events do not record the office, so only unrestricted sessions may
		// read the history of a deleted asset.
		if !errors.Is(err, repo.ErrNotFound) || sess.OfficeScope() != nil {
			return nil, err
		}
	}
	q := docstore.Query{OrderBy: "created_at"}.Where(docstore.Eq("asset_id", assetID))
	return r.events.List(ctx, q)
}
