// Package maintenance runs repair tickets through an explicit status
// machine. Each transition is stored with a history record.
package maintenance

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
	Collection        = "maintenance_tickets"
	HistoryCollection = "maintenance_history"
)

var (
	ErrInvalidTransition = errors.New("maintenance: invalid status transition")
	ErrInvalidInput      = errors.New("maintenance: invalid input")
)

type Ticket struct {
	repo.Meta
	Title           string     `json:"title"`
	Description     string     `json:"description,omitempty"`
	AssetID         string     `json:"asset_id,omitempty"`
	OfficeID        string     `json:"office_id"`
	Priority        Priority   `json:"priority"`
	Status          Status     `json:"status"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	VendorID        string     `json:"vendor_id,omitempty"`
	EstimatedCost   int64      `json:"estimated_cost"`
	ActualCost      int64      `json:"actual_cost"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	ResolutionNotes string     `json:"resolution_notes,omitempty"`
}

// History is one recorded status change.
type History struct {
	repo.Meta
	TicketID   string `json:"ticket_id"`
	FromStatus Status `json:"from_status,omitempty"`
	ToStatus   Status `json:"to_status"`
	Note       string `json:"note,omitempty"`
}

type NewTicket struct {
	Title         string   `json:"title" validate:"required,max=200"`
	Description   string   `json:"description"`
	AssetID       string   `json:"asset_id"`
	OfficeID      string   `json:"office_id" validate:"required"`
	Priority      Priority `json:"priority" validate:"omitempty,oneof=low medium high critical"`
	AssignedTo    string   `json:"assigned_to"`
	VendorID      string   `json:"vendor_id"`
	EstimatedCost int64    `json:"estimated_cost" validate:"gte=0"`
}

// Transition is the input of Move.
type Transition struct {
	To         Status `json:"to"`
	Note       string `json:"note"`
	ActualCost *int64 `json:"actual_cost"`
}

type Service struct {
	tickets  *repo.Repository[Ticket]
	history  *repo.Repository[History]
	audit    *audit.Recorder
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store docstore.Store, recorder *audit.Recorder) *Service {
	return &Service{
		tickets:  repo.New[Ticket](store, Collection),
		history:  repo.New[History](store, HistoryCollection),
		audit:    recorder,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

type scoped struct {
	tickets *repo.Repository[Ticket]
	history *repo.Repository[History]
}

func (s *Service) bind(sess *session.Session) scoped {
	tc := sess.TenantContext()
	return scoped{tickets: s.tickets.WithTenant(tc), history: s.history.WithTenant(tc)}
}

// Open files a new ticket.
func (s *Service) Open(ctx context.Context, sess *session.Session, in NewTicket) (Ticket, error) {
	if err := sess.Require(authz.ModuleMaintenance, authz.ActionCreate); err != nil {
		return Ticket{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Ticket{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !sess.CanSeeOffice(in.OfficeID) {
		return Ticket{}, fmt.Errorf("%w: office %s", session.ErrForbidden, in.OfficeID)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	r := s.bind(sess)
	op, created := r.tickets.CreateOp(Ticket{
		Title:         strings.TrimSpace(in.Title),
		Description:   in.Description,
		AssetID:       in.AssetID,
		OfficeID:      in.OfficeID,
		Priority:      in.Priority,
		Status:        StatusOpen,
		AssignedTo:    in.AssignedTo,
		VendorID:      in.VendorID,
		EstimatedCost: in.EstimatedCost,
	}, sess.UserID())
	hOp, _ := r.history.CreateOp(History{TicketID: created.ID, ToStatus: StatusOpen}, sess.UserID())
	if err := r.tickets.Batch(ctx, op, hOp); err != nil {
		return Ticket{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionCreate,
		Module:      authz.ModuleMaintenance,
		EntityType:  "maintenance_ticket",
		EntityID:    created.ID,
		EntityName:  created.Title,
		Description: audit.Describe("opened ticket", created.Title),
	})
	return created, nil
}

func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (Ticket, error) {
	if err := sess.Require(authz.ModuleMaintenance, authz.ActionRead); err != nil {
		return Ticket{}, err
	}
	return s.load(ctx, sess, s.bind(sess), id)
}

func (s *Service) load(ctx context.Context, sess *session.Session, r scoped, id string) (Ticket, error) {
	t, err := r.tickets.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	if !sess.CanSeeOffice(t.OfficeID) {
		return Ticket{}, fmt.Errorf("%w: office %s", session.ErrForbidden, t.OfficeID)
	}
	return t, nil
}

type ListFilter struct {
	Status     Status
	OfficeID   string
	AssetID    string
	AssignedTo string
	OpenOnly   bool
	Limit      int
}

func (s *Service) List(ctx context.Context, sess *session.Session, f ListFilter) ([]Ticket, error) {
	if err := sess.Require(authz.ModuleMaintenance, authz.ActionRead); err != nil {
		return nil, err
	}
	q := docstore.Query{Limit: f.Limit}
	if scope := sess.OfficeScope(); scope != nil {
		if len(scope) == 0 {
			return []Ticket{}, nil
		}
		q = q.Where(docstore.In("office_id", scope...))
	}
	if f.Status != "" {
		q = q.Where(docstore.Eq("status", string(f.Status)))
	}
	if f.OpenOnly {
		q = q.Where(docstore.In("status", StatusOpen, StatusInProgress, StatusWaitingParts))
	}
	if f.OfficeID != "" {
		q = q.Where(docstore.Eq("office_id", f.OfficeID))
	}
	if f.AssetID != "" {
		q = q.Where(docstore.Eq("asset_id", f.AssetID))
	}
	if f.AssignedTo != "" {
		q = q.Where(docstore.Eq("assigned_to", f.AssignedTo))
	}
	return s.bind(sess).tickets.List(ctx, q)
}

// Move applies one transition. Entering in_progress the first time stamps
// started_at; completing stamps completed_at and needs resolution notes.
func (s *Service) Move(ctx context.Context, sess *session.Session, id string, tr Transition) (Ticket, error) {
	if err := sess.Require(authz.ModuleMaintenance, authz.ActionUpdate); err != nil {
		return Ticket{}, err
	}
	if !tr.To.Valid() {
		return Ticket{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, tr.To)
	}
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Ticket{}, err
	}
	if !CanTransition(before.Status, tr.To) {
		return Ticket{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, before.Status, tr.To)
	}

	note := strings.TrimSpace(tr.Note)
	now := s.now()
	patch := map[string]any{"status": tr.To}
	switch tr.To {
	case StatusInProgress:
		if before.StartedAt == nil {
			patch["started_at"] = now
		}
	case StatusCompleted:
		if note == "" {
			return Ticket{}, fmt.Errorf("%w: resolution notes are required", ErrInvalidInput)
		}
		patch["completed_at"] = now
		patch["resolution_notes"] = note
	}
	if tr.ActualCost != nil {
		if *tr.ActualCost < 0 {
			return Ticket{}, fmt.Errorf("%w: actual cost must not be negative", ErrInvalidInput)
		}
		patch["actual_cost"] = *tr.ActualCost
	}

	update := r.tickets.UpdateOp(id, patch, sess.UserID()).Expect("status", before.Status)
	hOp, _ := r.history.CreateOp(History{TicketID: id, FromStatus: before.Status, ToStatus: tr.To, Note: note}, sess.UserID())
	if err := r.tickets.Batch(ctx, update, hOp); err != nil {
		return Ticket{}, err
	}
	after, err := r.tickets.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	changes, _ := audit.Diff(before, after)
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionUpdate,
		Module:      authz.ModuleMaintenance,
		EntityType:  "maintenance_ticket",
		EntityID:    id,
		EntityName:  after.Title,
		Description: audit.Describe("moved ticket", after.Title, "from", string(before.Status), "to", string(tr.To)),
		Changes:     changes,
	})
	return after, nil
}

func (s *Service) Start(ctx context.Context, sess *session.Session, id string) (Ticket, error) {
	return s.Move(ctx, sess, id, Transition{To: StatusInProgress})
}

func (s *Service) WaitForParts(ctx context.Context, sess *session.Session, id, note string) (Ticket, error) {
	return s.Move(ctx, sess, id, Transition{To: StatusWaitingParts, Note: note})
}

func (s *Service) Complete(ctx context.Context, sess *session.Session, id, notes string, actualCost int64) (Ticket, error) {
	return s.Move(ctx, sess, id, Transition{To: StatusCompleted, Note: notes, ActualCost: &actualCost})
}

func (s *Service) Cancel(ctx context.Context, sess *session.Session, id, reason string) (Ticket, error) {
	return s.Move(ctx, sess, id, Transition{To: StatusCancelled, Note: reason})
}

// Assign sets the technician working the ticket.
func (s *Service) Assign(ctx context.Context, sess *session.Session, id, userID string) (Ticket, error) {
	if err := sess.Require(authz.ModuleMaintenance, authz.ActionUpdate); err != nil {
		return Ticket{}, err
	}
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Ticket{}, err
	}
	if before.Status.Terminal() {
		return Ticket{}, fmt.Errorf("%w: ticket is %s", ErrInvalidTransition, before.Status)
	}
	// A ticket closed since the load stays unassigned.
	op := r.tickets.UpdateOp(id, map[string]any{"assigned_to": strings.TrimSpace(userID)}, sess.UserID()).
		Expect("status", before.Status)
	if err := r.tickets.Batch(ctx, op); err != nil {
		return Ticket{}, err
	}
	after, err := r.tickets.Get(ctx, id)
	if err != nil {
		return Ticket{}, err
	}
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      audit.ActionAssign,
		Module:      authz.ModuleMaintenance,
		EntityType:  "maintenance_ticket",
		EntityID:    id,
		EntityName:  after.Title,
		Description: audit.Describe("assigned ticket", after.Title, "to", after.AssignedTo),
	})
	return after, nil
}

// History returns the status changes of a ticket, oldest first.
func (s *Service) History(ctx context.Context, sess *session.Session, id string) ([]History, error) {
	if err := sess.Require(authz.ModuleMaintenance, authz.ActionRead); err != nil {
		return nil, err
	}
	r := s.bind(sess)
	if _, err := s.load(ctx, sess, r, id); err != nil {
		return nil, err
	}
	return r.history.List(ctx, docstore.Query{OrderBy: "created_at"}.Where(docstore.Eq("ticket_id", id)))
}
