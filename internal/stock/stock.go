// Package stock keeps per-office quantities of consumables. Quantities only
// change together with a stock transaction, and never below zero.
package stock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
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
	Collection            = "consumables"
	TransactionCollection = "stock_transactions"
	// SKUCollection holds one claim per (office, sku) so that two writers
	// cannot both stock the same SKU in one office.
	SKUCollection = "consumable_skus"
)

var (
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	ErrInvalidInput      = errors.New("stock: invalid input")
	ErrDuplicateSKU      = errors.New("stock: sku already stocked in office")
)

type Consumable struct {
	repo.Meta
	Name         string `json:"name"`
	SKU          string `json:"sku"`
	Category     string `json:"category"`
	Unit         string `json:"unit"`
	OfficeID     string `json:"office_id"`
	VendorID     string `json:"vendor_id,omitempty"`
	Quantity     int64  `json:"quantity"`
	ReorderLevel int64  `json:"reorder_level"`
	UnitCost     int64  `json:"unit_cost"`
	LowStock     bool   `json:"low_stock"`
}

func lowStock(qty, reorder int64) bool { return qty <= reorder }

type TxType string

const (
	TxReceive     TxType = "receive"
	TxIssue       TxType = "issue"
	TxAdjust      TxType = "adjust"
	TxTransferOut TxType = "transfer_out"
	TxTransferIn  TxType = "transfer_in"
)

// Transaction records one quantity change. Quantity is the signed delta.
type Transaction struct {
	repo.Meta
	ConsumableID string `json:"consumable_id"`
	OfficeID     string `json:"office_id"`
	Type         TxType `json:"type"`
	Quantity     int64  `json:"quantity"`
	BalanceAfter int64  `json:"balance_after"`
	IssuedTo     string `json:"issued_to,omitempty"`
	Reference    string `json:"reference,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

type skuClaim struct {
	repo.Meta
	OfficeID     string `json:"office_id"`
	SKU          string `json:"sku"`
	ConsumableID string `json:"consumable_id"`
}

// skuKey is the claim id for officeID and sku. Office ids are free text, so
// the pair is hashed into a path-safe key.
func skuKey(officeID, sku string) string {
	sum := sha256.Sum256([]byte(officeID + "\x00" + strings.TrimSpace(sku)))
	return hex.EncodeToString(sum[:16])
}

type NewConsumable struct {
	Name         string `json:"name" validate:"required,max=200"`
	SKU          string `json:"sku" validate:"required,max=64,excludesall=/"`
	Category     string `json:"category" validate:"required"`
	Unit         string `json:"unit" validate:"required"`
	OfficeID     string `json:"office_id" validate:"required"`
	VendorID     string `json:"vendor_id"`
	Quantity     int64  `json:"quantity" validate:"gte=0"`
	ReorderLevel int64  `json:"reorder_level" validate:"gte=0"`
	UnitCost     int64  `json:"unit_cost" validate:"gte=0"`
}

type Service struct {
	items    *repo.Repository[Consumable]
	txs      *repo.Repository[Transaction]
	skus     *repo.Repository[skuClaim]
	audit    *audit.Recorder
	validate *validator.Validate
}

func NewService(store docstore.Store, recorder *audit.Recorder) *Service {
	return &Service{
		items:    repo.New[Consumable](store, Collection),
		txs:      repo.New[Transaction](store, TransactionCollection),
		skus:     repo.New[skuClaim](store, SKUCollection),
		audit:    recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

type scoped struct {
	items *repo.Repository[Consumable]
	txs   *repo.Repository[Transaction]
	skus  *repo.Repository[skuClaim]
}

func (s *Service) bind(sess *session.Session) scoped {
	tc := sess.TenantContext()
	return scoped{items: s.items.WithTenant(tc), txs: s.txs.WithTenant(tc), skus: s.skus.WithTenant(tc)}
}

// claimSKU reserves the office and SKU of c. The batch carrying it fails
// with repo.ErrConflict when another consumable holds the claim.
func (r scoped) claimSKU(c Consumable, actorID string) repo.Op {
	op, _ := r.skus.CreateOp(skuClaim{
		Meta:         repo.Meta{ID: skuKey(c.OfficeID, c.SKU)},
		OfficeID:     c.OfficeID,
		SKU:          c.SKU,
		ConsumableID: c.ID,
	}, actorID)
	return op
}

// Create adds a consumable to an office. An opening quantity is booked as
// a receive transaction in the same batch.
func (s *Service) Create(ctx context.Context, sess *session.Session, in NewConsumable) (Consumable, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionCreate); err != nil {
		return Consumable{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Consumable{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !sess.CanSeeOffice(in.OfficeID) {
		return Consumable{}, fmt.Errorf("%w: office %s", session.ErrForbidden, in.OfficeID)
	}
	r := s.bind(sess)
	if _, found, err := findBySKU(ctx, r, in.OfficeID, in.SKU); err != nil {
		return Consumable{}, err
	} else if found {
		return Consumable{}, fmt.Errorf("%w: %s in %s", ErrDuplicateSKU, in.SKU, in.OfficeID)
	}

	op, created := r.items.CreateOp(Consumable{
		Name:         strings.TrimSpace(in.Name),
		SKU:          strings.TrimSpace(in.SKU),
		Category:     in.Category,
		Unit:         in.Unit,
		OfficeID:     in.OfficeID,
		VendorID:     in.VendorID,
		Quantity:     in.Quantity,
		ReorderLevel: in.ReorderLevel,
		UnitCost:     in.UnitCost,
		LowStock:     lowStock(in.Quantity, in.ReorderLevel),
	}, sess.UserID())
	ops := []repo.Op{op, r.claimSKU(created, sess.UserID())}
	if in.Quantity > 0 {
		txOp, _ := r.txs.CreateOp(Transaction{
			ConsumableID: created.ID,
			OfficeID:     created.OfficeID,
			Type:         TxReceive,
			Quantity:     in.Quantity,
			BalanceAfter: in.Quantity,
			Reason:       "opening balance",
		}, sess.UserID())
		ops = append(ops, txOp)
	}
	if err := r.items.Batch(ctx, ops...); err != nil {
		if errors.Is(err, repo.ErrConflict) {
			return Consumable{}, fmt.Errorf("%w: %s in %s", ErrDuplicateSKU, in.SKU, in.OfficeID)
		}
		return Consumable{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionCreate,
		Module:      authz.ModuleConsumables,
		EntityType:  "consumable",
		EntityID:    created.ID,
		EntityName:  created.Name,
		Description: audit.Describe("created consumable", created.Name, created.SKU),
	})
	return created, nil
}

func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (Consumable, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionRead); err != nil {
		return Consumable{}, err
	}
	return s.load(ctx, sess, s.bind(sess), id)
}

func (s *Service) load(ctx context.Context, sess *session.Session, r scoped, id string) (Consumable, error) {
	c, err := r.items.Get(ctx, id)
	if err != nil {
		return Consumable{}, err
	}
	if !sess.CanSeeOffice(c.OfficeID) {
		return Consumable{}, fmt.Errorf("%w: office %s", session.ErrForbidden, c.OfficeID)
	}
	return c, nil
}

type ListFilter struct {
	OfficeID     string
	Category     string
	LowStockOnly bool
	NamePrefix   string
	Limit        int
}

func (s *Service) List(ctx context.Context, sess *session.Session, f ListFilter) ([]Consumable, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionRead); err != nil {
		return nil, err
	}
	q := docstore.Query{Limit: f.Limit}
	if scope := sess.OfficeScope(); scope != nil {
		if len(scope) == 0 {
			return []Consumable{}, nil
		}
		q = q.Where(docstore.In("office_id", scope...))
	}
	if f.OfficeID != "" {
		q = q.Where(docstore.Eq("office_id", f.OfficeID))
	}
	if f.Category != "" {
		q = q.Where(docstore.Eq("category", f.Category))
	}
	if f.LowStockOnly {
		q = q.Where(docstore.Eq("low_stock", true))
	}
	if f.NamePrefix != "" {
		q = q.Where(docstore.Prefix("name", f.NamePrefix))
		q.OrderBy = "name"
	}
	return s.bind(sess).items.List(ctx, q)
}

// Delete removes a consumable and releases its SKU. Its transactions stay
// as history.
func (s *Service) Delete(ctx context.Context, sess *session.Session, id string) error {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionDelete); err != nil {
		return err
	}
	r := s.bind(sess)
	c, err := s.load(ctx, sess, r, id)
	if err != nil {
		return err
	}
	if err := r.items.Batch(ctx, r.items.DeleteOp(id), r.skus.DeleteOp(skuKey(c.OfficeID, c.SKU)).Expect("consumable_id", c.ID)); err != nil {
		return err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionDelete,
		Module:      authz.ModuleConsumables,
		EntityType:  "consumable",
		EntityID:    c.ID,
		EntityName:  c.Name,
		Description: audit.Describe("deleted consumable", c.Name),
	})
	return nil
}

// Transactions returns the movements of one consumable, newest first.
func (s *Service) Transactions(ctx context.Context, sess *session.Session, consumableID string, since time.Time) ([]Transaction, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionRead); err != nil {
		return nil, err
	}
	r := s.bind(sess)
	if _, err := s.load(ctx, sess, r, consumableID); err != nil && !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	q := docstore.Query{}.Where(docstore.Eq("consumable_id", consumableID))
	// The consumable may be gone; its transactions still carry their office.
	if scope := sess.OfficeScope(); scope != nil {
		if len(scope) == 0 {
			return []Transaction{}, nil
		}
		q = q.Where(docstore.In("office_id", scope...))
	}
	if !since.IsZero() {
		q = q.Where(docstore.Gte("created_at", since.UTC()))
	}
	return r.txs.List(ctx, q)
}

func findBySKU(ctx context.Context, r scoped, officeID, sku string) (Consumable, bool, error) {
	list, err := r.items.List(ctx, docstore.Query{Limit: 1}.Where(
		docstore.Eq("office_id", officeID),
		docstore.Eq("sku", strings.TrimSpace(sku)),
	))
	if err != nil || len(list) == 0 {
		return Consumable{}, false, err
	}
	return list[0], true, nil
}
