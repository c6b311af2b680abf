package asset

import (
	"context"
	"fmt"
	"strings"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/session"
)

// Assign hands an available asset to a user.
func (s *Service) Assign(ctx context.Context, sess *session.Session, id, userID string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionAssign); err != nil {
		return Asset{}, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Asset{}, fmt.Errorf("%w: assignee is required", ErrInvalidInput)
	}
	patch := map[string]any{"assigned_to": userID, "assigned_at": s.now()}
	return s.apply(ctx, sess, id, EventAssigned, patch, map[string]string{"assigned_to": userID}, audit.ActionAssign)
}

// Unassign returns an in-use asset to the pool.
func (s *Service) Unassign(ctx context.Context, sess *session.Session, id string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionAssign); err != nil {
		return Asset{}, err
	}
	patch := map[string]any{"assigned_to": nil, "assigned_at": nil}
	return s.apply(ctx, sess, id, EventUnassigned, patch, nil, audit.ActionAssign)
}

// Transfer moves an asset to another office. The asset always ends up
// available and unassigned.
func (s *Service) Transfer(ctx context.Context, sess *session.Session, id, officeID string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionTransfer); err != nil {
		return Asset{}, err
	}
	officeID = strings.TrimSpace(officeID)
	if officeID == "" {
		return Asset{}, fmt.Errorf("%w: target office is required", ErrInvalidInput)
	}
	if !sess.CanSeeOffice(officeID) {
		return Asset{}, fmt.Errorf("%w: office %s", session.ErrForbidden, officeID)
	}
	patch := map[string]any{"office_id": officeID, "assigned_to": nil, "assigned_at": nil}
	return s.apply(ctx, sess, id, EventTransferred, patch, map[string]string{"to_office_id": officeID}, audit.ActionTransfer)
}

func (s *Service) SendToMaintenance(ctx context.Context, sess *session.Session, id, reason string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionUpdate); err != nil {
		return Asset{}, err
	}
	patch := map[string]any{"assigned_to": nil, "assigned_at": nil}
	return s.apply(ctx, sess, id, EventMaintenanceStarted, patch, details("reason", reason), audit.ActionUpdate)
}

func (s *Service) ReturnFromMaintenance(ctx context.Context, sess *session.Session, id string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionUpdate); err != nil {
		return Asset{}, err
	}
	return s.apply(ctx, sess, id, EventMaintenanceCompleted, map[string]any{}, nil, audit.ActionUpdate)
}

// Dispose retires an asset for good.
func (s *Service) Dispose(ctx context.Context, sess *session.Session, id, reason string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionDelete); err != nil {
		return Asset{}, err
	}
	patch := map[string]any{"assigned_to": nil, "assigned_at": nil}
	return s.apply(ctx, sess, id, EventDisposed, patch, details("reason", reason), audit.ActionUpdate)
}

func (s *Service) MarkLost(ctx context.Context, sess *session.Session, id, note string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionUpdate); err != nil {
		return Asset{}, err
	}
	patch := map[string]any{"assigned_to": nil, "assigned_at": nil}
	return s.apply(ctx, sess, id, EventLost, patch, details("note", note), audit.ActionUpdate)
}

// MarkFound brings a lost asset back as available.
func (s *Service) MarkFound(ctx context.Context, sess *session.Session, id string) (Asset, error) {
	if err := sess.Require(authz.ModuleAssets, authz.ActionUpdate); err != nil {
		return Asset{}, err
	}
	return s.apply(ctx, sess, id, EventFound, map[string]any{}, nil, audit.ActionUpdate)
}

// apply reads the asset, derives its next status from ev, and commits the
// asset patch with the event. The status read is a precondition of the
// commit, so a concurrent change aborts the batch.
func (s *Service) apply(ctx context.Context, sess *session.Session, id string, ev EventType, patch map[string]any, det map[string]string, action audit.Action) (Asset, error) {
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Asset{}, err
	}

	to := before.Status
	if ev != EventUpdated {
		var ok bool
		if to, ok = next(before.Status, ev); !ok {
			return Asset{}, fmt.Errorf("%w: %s from %s", ErrInvalidTransition, ev, before.Status)
		}
		patch["status"] = to
	} else if before.Status.Terminal() {
		return Asset{}, fmt.Errorf("%w: asset is %s", ErrInvalidTransition, before.Status)
	}
	if ev == EventTransferred {
		if det == nil {
			det = map[string]string{}
		}
		det["from_office_id"] = before.OfficeID
		if before.AssignedTo != "" {
			det["previous_assignee"] = before.AssignedTo
		}
	}

	update := r.assets.UpdateOp(id, patch, sess.UserID()).Expect("status", before.Status)
	evOp, _ := r.events.CreateOp(Event{
		AssetID:    id,
		Type:       ev,
		FromStatus: before.Status,
		ToStatus:   to,
		Details:    det,
	}, sess.UserID())
	if err := r.assets.Batch(ctx, update, evOp); err != nil {
		return Asset{}, err
	}

	after, err := r.assets.Get(ctx, id)
	if err != nil {
		return Asset{}, err
	}
	changes, _ := audit.Diff(before, after)
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      action,
		Module:      authz.ModuleAssets,
		EntityType:  "asset",
		EntityID:    after.ID,
		EntityName:  after.Name,
		Description: audit.Describe(string(ev), "asset", after.Name),
		Changes:     changes,
	})
	return after, nil
}

func details(key, value string) map[string]string {
	if value = strings.TrimSpace(value); value == "" {
		return nil
	}
	return map[string]string{key: value}
}
