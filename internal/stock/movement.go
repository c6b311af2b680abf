package stock

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
)

// Receive books incoming stock.
func (s *Service) Receive(ctx context.Context, sess *session.Session, id string, qty int64, reference string) (Consumable, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionUpdate); err != nil {
		return Consumable{}, err
	}
	if qty <= 0 {
		return Consumable{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return s.move(ctx, sess, id, func(c Consumable) (Transaction, error) {
		return Transaction{Type: TxReceive, Quantity: qty, Reference: strings.TrimSpace(reference)}, nil
	})
}

// Issue hands out stock. The whole operation fails when qty exceeds the
// balance.
func (s *Service) Issue(ctx context.Context, sess *session.Session, id string, qty int64, issuedTo, note string) (Consumable, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionUpdate); err != nil {
		return Consumable{}, err
	}
	if qty <= 0 {
		return Consumable{}, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return s.move(ctx, sess, id, func(c Consumable) (Transaction, error) {
		if qty > c.Quantity {
			return Transaction{}, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, c.SKU, c.Quantity, qty)
		}
		return Transaction{Type: TxIssue, Quantity: -qty, IssuedTo: strings.TrimSpace(issuedTo), Reason: strings.TrimSpace(note)}, nil
	})
}

// Adjust sets the counted quantity. A reason is mandatory.
func (s *Service) Adjust(ctx context.Context, sess *session.Session, id string, counted int64, reason string) (Consumable, error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionUpdate); err != nil {
		return Consumable{}, err
	}
	if counted < 0 {
		return Consumable{}, fmt.Errorf("%w: quantity must not be negative", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		return Consumable{}, fmt.Errorf("%w: reason is required", ErrInvalidInput)
	}
	return s.move(ctx, sess, id, func(c Consumable) (Transaction, error) {
		return Transaction{Type: TxAdjust, Quantity: counted - c.Quantity, Reason: strings.TrimSpace(reason)}, nil
	})
}

// move applies the transaction derived from the current consumable. The
// quantity read is a commit precondition so concurrent movements cannot
// both pass the balance check.
func (s *Service) move(ctx context.Context, sess *session.Session, id string, derive func(Consumable) (Transaction, error)) (Consumable, error) {
	r := s.bind(sess)
	c, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Consumable{}, err
	}
	tx, err := derive(c)
	if err != nil {
		return Consumable{}, err
	}
	balance := c.Quantity + tx.Quantity
	if balance < 0 {
		return Consumable{}, fmt.Errorf("%w: %s would drop to %d", ErrInsufficientStock, c.SKU, balance)
	}
	tx.ConsumableID, tx.OfficeID, tx.BalanceAfter = c.ID, c.OfficeID, balance

	update := r.items.UpdateOp(c.ID, map[string]any{
		"quantity":  balance,
		"low_stock": lowStock(balance, c.ReorderLevel),
	}, sess.UserID()).Expect("quantity", c.Quantity)
	txOp, _ := r.txs.CreateOp(tx, sess.UserID())
	if err := r.items.Batch(ctx, update, txOp); err != nil {
		return Consumable{}, err
	}

	after, err := r.items.Get(ctx, c.ID)
	if err != nil {
		return Consumable{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionUpdate,
		Module:      authz.ModuleConsumables,
		EntityType:  "consumable",
		EntityID:    c.ID,
		EntityName:  c.Name,
		Description: audit.Describe(string(tx.Type), signed(tx.Quantity), c.Unit, c.Name),
		Changes:     []audit.Change{{Field: "quantity", Old: c.Quantity, New: balance}},
	})
	return after, nil
}

// Transfer moves qty to the consumable with the same SKU in another
// office, creating it there when the office does not stock it yet.
func (s *Service) Transfer(ctx context.Context, sess *session.Session, id, toOffice string, qty int64) (from, to Consumable, err error) {
	if err := sess.Require(authz.ModuleConsumables, authz.ActionTransfer); err != nil {
		return Consumable{}, Consumable{}, err
	}
	toOffice = strings.TrimSpace(toOffice)
	if qty <= 0 || toOffice == "" {
		return Consumable{}, Consumable{}, fmt.Errorf("%w: positive quantity and target office are required", ErrInvalidInput)
	}
	if !sess.CanSeeOffice(toOffice) {
		return Consumable{}, Consumable{}, fmt.Errorf("%w: office %s", session.ErrForbidden, toOffice)
	}
	r := s.bind(sess)
	src, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Consumable{}, Consumable{}, err
	}
	if src.OfficeID == toOffice {
		return Consumable{}, Consumable{}, fmt.Errorf("%w: source and target office are the same", ErrInvalidInput)
	}
	if qty > src.Quantity {
		return Consumable{}, Consumable{}, fmt.Errorf("%w: %s has %d, requested %d", ErrInsufficientStock, src.SKU, src.Quantity, qty)
	}

	dst, found, err := findBySKU(ctx, r, toOffice, src.SKU)
	if err != nil {
		return Consumable{}, Consumable{}, err
	}
	srcBalance := src.Quantity - qty
	ops := []repo.Op{
		r.items.UpdateOp(src.ID, map[string]any{
			"quantity":  srcBalance,
			"low_stock": lowStock(srcBalance, src.ReorderLevel),
		}, sess.UserID()).Expect("quantity", src.Quantity),
	}
	var dstBalance int64
	if found {
		dstBalance = dst.Quantity + qty
		ops = append(ops, r.items.UpdateOp(dst.ID, map[string]any{
			"quantity":  dstBalance,
			"low_stock": lowStock(dstBalance, dst.ReorderLevel),
		}, sess.UserID()).Expect("quantity", dst.Quantity))
	} else {
		dstBalance = qty
		var op repo.Op
		op, dst = r.items.CreateOp(Consumable{
			Name:         src.Name,
			SKU:          src.SKU,
			Category:     src.Category,
			Unit:         src.Unit,
			OfficeID:     toOffice,
			VendorID:     src.VendorID,
			Quantity:     qty,
			ReorderLevel: src.ReorderLevel,
			UnitCost:     src.UnitCost,
			LowStock:     lowStock(qty, src.ReorderLevel),
		}, sess.UserID())
		ops = append(ops, op, r.claimSKU(dst, sess.UserID()))
	}
	outOp, _ := r.txs.CreateOp(Transaction{
		ConsumableID: src.ID, OfficeID: src.OfficeID, Type: TxTransferOut,
		Quantity: -qty, BalanceAfter: srcBalance, Reference: dst.ID,
	}, sess.UserID())
	inOp, _ := r.txs.CreateOp(Transaction{
		ConsumableID: dst.ID, OfficeID: toOffice, Type: TxTransferIn,
		Quantity: qty, BalanceAfter: dstBalance, Reference: src.ID,
	}, sess.UserID())
	ops = append(ops, outOp, inOp)
	if err := r.items.Batch(ctx, ops...); err != nil {
		return Consumable{}, Consumable{}, err
	}

	if from, err = r.items.Get(ctx, src.ID); err != nil {
		return Consumable{}, Consumable{}, err
	}
	if to, err = r.items.Get(ctx, dst.ID); err != nil {
		return Consumable{}, Consumable{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionTransfer,
		Module:      authz.ModuleConsumables,
		EntityType:  "consumable",
		EntityID:    src.ID,
		EntityName:  src.Name,
		Description: audit.Describe("transferred", strconv.FormatInt(qty, 10), src.Unit, src.Name, "from", src.OfficeID, "to", toOffice),
	})
	return from, to, nil
}

func signed(n int64) string {
	if n > 0 {
		return "+" + strconv.FormatInt(n, 10)
	}
	return strconv.FormatInt(n, 10)
}
