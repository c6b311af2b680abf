// Package project tracks projects with their milestones and expenses.
// Progress and actual cost are derived from the full child set and are
// rewritten with every child mutation.
package project

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
	Collection          = "projects"
	MilestoneCollection = "project_milestones"
	ExpenseCollection   = "project_expenses"
)

var (
	ErrInvalidInput      = errors.New("project: invalid input")
	ErrInvalidTransition = errors.New("project: invalid status transition")
	ErrClosed            = errors.New("project: closed")
)

type Status string

const (
	StatusPlanning  Status = "planning"
	StatusActive    Status = "active"
	StatusOnHold    Status = "on_hold"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Closed() bool { return s == StatusCompleted || s == StatusCancelled }

var transitions = map[Status][]Status{
	StatusPlanning: {StatusCancelled},
	StatusActive:   {StatusOnHold, StatusCompleted, StatusCancelled},
	StatusOnHold:   {StatusActive, StatusCancelled},
}

func canMove(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Project struct {
	repo.Meta
	Name        string     `json:"name"`
	Code        string     `json:"code,omitempty"`
	Description string     `json:"description,omitempty"`
	OfficeID    string     `json:"office_id,omitempty"`
	CompanyID   string     `json:"company_id,omitempty"`
	ManagerID   string     `json:"manager_id,omitempty"`
	Status      Status     `json:"status"`
	Budget      int64      `json:"budget"`
	ActualCost  int64      `json:"actual_cost"`
	Progress    int        `json:"progress"`
	StartDate   *time.Time `json:"start_date,omitempty"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	ApprovedBy  string     `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time `json:"approved_at,omitempty"`
	// Revision increases with every child mutation and guards rollups
	// against concurrent writers.
	Revision int64 `json:"revision"`
}

// OverBudget reports whether recorded expenses exceed the budget.
func (p Project) OverBudget() bool { return p.Budget > 0 && p.ActualCost > p.Budget }

type Milestone struct {
	repo.Meta
	ProjectID   string     `json:"project_id"`
	Title       string     `json:"title"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Expense struct {
	repo.Meta
	ProjectID   string    `json:"project_id"`
	Description string    `json:"description"`
	Category    string    `json:"category,omitempty"`
	Amount      int64     `json:"amount"`
	IncurredOn  time.Time `json:"incurred_on"`
	VendorID    string    `json:"vendor_id,omitempty"`
}

type NewProject struct {
	Name        string     `json:"name" validate:"required,max=200"`
	Code        string     `json:"code" validate:"max=32"`
	Description string     `json:"description"`
	OfficeID    string     `json:"office_id"`
	CompanyID   string     `json:"company_id"`
	ManagerID   string     `json:"manager_id"`
	Budget      int64      `json:"budget" validate:"gte=0"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

type Changes struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	ManagerID   *string    `json:"manager_id"`
	Budget      *int64     `json:"budget"`
	StartDate   *time.Time `json:"start_date"`
	EndDate     *time.Time `json:"end_date"`
}

type NewMilestone struct {
	Title   string     `json:"title" validate:"required,max=200"`
	DueDate *time.Time `json:"due_date"`
}

type NewExpense struct {
	Description string     `json:"description" validate:"required,max=500"`
	Category    string     `json:"category"`
	Amount      int64      `json:"amount" validate:"gt=0"`
	IncurredOn  *time.Time `json:"incurred_on"`
	VendorID    string     `json:"vendor_id"`
}

type Service struct {
	projects   *repo.Repository[Project]
	milestones *repo.Repository[Milestone]
	expenses   *repo.Repository[Expense]
	audit      *audit.Recorder
	validate   *validator.Validate
	now        func() time.Time
}

func NewService(store docstore.Store, recorder *audit.Recorder) *Service {
	return &Service{
		projects:   repo.New[Project](store, Collection),
		milestones: repo.New[Milestone](store, MilestoneCollection),
		expenses:   repo.New[Expense](store, ExpenseCollection),
		audit:      recorder,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type scoped struct {
	projects   *repo.Repository[Project]
	milestones *repo.Repository[Milestone]
	expenses   *repo.Repository[Expense]
}

func (s *Service) bind(sess *session.Session) scoped {
	tc := sess.TenantContext()
	return scoped{
		projects:   s.projects.WithTenant(tc),
		milestones: s.milestones.WithTenant(tc),
		expenses:   s.expenses.WithTenant(tc),
	}
}

func (s *Service) Create(ctx context.Context, sess *session.Session, in NewProject) (Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionCreate); err != nil {
		return Project{}, err
	}
	if err := s.validate.Struct(in); err != nil {
		return Project{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.StartDate != nil && in.EndDate != nil && in.EndDate.Before(*in.StartDate) {
		return Project{}, fmt.Errorf("%w: end date before start date", ErrInvalidInput)
	}
	if in.OfficeID != "" && !sess.CanSeeOffice(in.OfficeID) {
		return Project{}, fmt.Errorf("%w: office %s", session.ErrForbidden, in.OfficeID)
	}
	if !sess.CompanyVisible(in.CompanyID) {
		return Project{}, fmt.Errorf("%w: company %s", session.ErrForbidden, in.CompanyID)
	}
	created, err := s.bind(sess).projects.Create(ctx, Project{
		Name:        strings.TrimSpace(in.Name),
		Code:        strings.TrimSpace(in.Code),
		Description: in.Description,
		OfficeID:    in.OfficeID,
		CompanyID:   in.CompanyID,
		ManagerID:   in.ManagerID,
		Status:      StatusPlanning,
		Budget:      in.Budget,
		StartDate:   in.StartDate,
		EndDate:     in.EndDate,
	}, sess.UserID())
	if err != nil {
		return Project{}, err
	}
	s.emit(ctx, sess, audit.ActionCreate, created, audit.Describe("created project", created.Name), nil)
	return created, nil
}

func (s *Service) Get(ctx context.Context, sess *session.Session, id string) (Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionRead); err != nil {
		return Project{}, err
	}
	return s.load(ctx, sess, s.bind(sess), id)
}

func (s *Service) load(ctx context.Context, sess *session.Session, r scoped, id string) (Project, error) {
	p, err := r.projects.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	if p.OfficeID != "" && !sess.CanSeeOffice(p.OfficeID) {
		return Project{}, fmt.Errorf("%w: office %s", session.ErrForbidden, p.OfficeID)
	}
	if !sess.CompanyVisible(p.CompanyID) {
		return Project{}, fmt.Errorf("%w: company %s", session.ErrForbidden, p.CompanyID)
	}
	return p, nil
}

type ListFilter struct {
	Status    Status
	CompanyID string
	ManagerID string
	// Search matches a name prefix.
	Search string
	Limit  int
}

// List returns projects visible to the session. Projects without an office
// or company are not narrowed by that list.
func (s *Service) List(ctx context.Context, sess *session.Session, f ListFilter) ([]Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionRead); err != nil {
		return nil, err
	}
	r := s.bind(sess)
	var (
		all []Project
		err error
	)
	if f.Search != "" {
		all, err = r.projects.Search(ctx, "name", f.Search, 0)
	} else {
		all, err = r.projects.List(ctx, docstore.Query{})
	}
	if err != nil {
		return nil, err
	}
	out := make([]Project, 0, len(all))
	for _, p := range all {
		switch {
		case f.Status != "" && p.Status != f.Status,
			f.CompanyID != "" && p.CompanyID != f.CompanyID,
			f.ManagerID != "" && p.ManagerID != f.ManagerID,
			p.OfficeID != "" && !sess.CanSeeOffice(p.OfficeID),
			!sess.CompanyVisible(p.CompanyID):
			continue
		}
		out = append(out, p)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (s *Service) Update(ctx context.Context, sess *session.Session, id string, c Changes) (Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionUpdate); err != nil {
		return Project{}, err
	}
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Project{}, err
	}
	if before.Status.Closed() {
		return Project{}, fmt.Errorf("%w: %s", ErrClosed, before.Status)
	}
	patch := map[string]any{}
	if c.Name != nil {
		name := strings.TrimSpace(*c.Name)
		if name == "" {
			return Project{}, fmt.Errorf("%w: name is required", ErrInvalidInput)
		}
		patch["name"] = name
	}
	if c.Description != nil {
		patch["description"] = *c.Description
	}
	if c.ManagerID != nil {
		patch["manager_id"] = *c.ManagerID
	}
	if c.Budget != nil {
		if *c.Budget < 0 {
			return Project{}, fmt.Errorf("%w: budget must not be negative", ErrInvalidInput)
		}
		patch["budget"] = *c.Budget
	}
	start, end := before.StartDate, before.EndDate
	if c.StartDate != nil {
		start = c.StartDate
		patch["start_date"] = *c.StartDate
	}
	if c.EndDate != nil {
		end = c.EndDate
		patch["end_date"] = *c.EndDate
	}
	if start != nil && end != nil && end.Before(*start) {
		return Project{}, fmt.Errorf("%w: end date before start date", ErrInvalidInput)
	}
	if len(patch) == 0 {
		return before, nil
	}
	if err := r.projects.Update(ctx, id, patch, sess.UserID()); err != nil {
		return Project{}, err
	}
	after, err := r.projects.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	changes, _ := audit.Diff(before, after)
	s.emit(ctx, sess, audit.ActionUpdate, after, audit.Describe("updated project", after.Name), changes)
	return after, nil
}

// Approve moves a planned project to active. Only roles holding
// projects.approve may call it.
func (s *Service) Approve(ctx context.Context, sess *session.Session, id string) (Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionApprove); err != nil {
		return Project{}, err
	}
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Project{}, err
	}
	if before.Status != StatusPlanning {
		return Project{}, fmt.Errorf("%w: cannot approve a %s project", ErrInvalidTransition, before.Status)
	}
	now := s.now()
	op := r.projects.UpdateOp(id, map[string]any{
		"status":      StatusActive,
		"approved_by": sess.UserID(),
		"approved_at": now,
	}, sess.UserID()).Expect("status", StatusPlanning)
	if err := r.projects.Batch(ctx, op); err != nil {
		return Project{}, err
	}
	after, err := r.projects.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	changes, _ := audit.Diff(before, after)
	s.emit(ctx, sess, audit.ActionApprove, after, audit.Describe("approved project", after.Name), changes)
	return after, nil
}

// SetStatus moves an approved project between active, on_hold and its
// closing states. Planned projects can only be cancelled.
func (s *Service) SetStatus(ctx context.Context, sess *session.Session, id string, to Status) (Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionUpdate); err != nil {
		return Project{}, err
	}
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, id)
	if err != nil {
		return Project{}, err
	}
	if !canMove(before.Status, to) {
		return Project{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, before.Status, to)
	}
	op := r.projects.UpdateOp(id, map[string]any{"status": to}, sess.UserID()).Expect("status", before.Status)
	if err := r.projects.Batch(ctx, op); err != nil {
		return Project{}, err
	}
	after, err := r.projects.Get(ctx, id)
	if err != nil {
		return Project{}, err
	}
	changes, _ := audit.Diff(before, after)
	s.emit(ctx, sess, audit.ActionUpdate, after,
		audit.Describe("moved project", after.Name, "from", string(before.Status), "to", string(to)), changes)
	return after, nil
}

// Delete removes a project with all its milestones and expenses.
func (s *Service) Delete(ctx context.Context, sess *session.Session, id string) error {
	if err := sess.Require(authz.ModuleProjects, authz.ActionDelete); err != nil {
		return err
	}
	r := s.bind(sess)
	p, err := s.load(ctx, sess, r, id)
	if err != nil {
		return err
	}
	ms, ex, err := children(ctx, r, id)
	if err != nil {
		return err
	}
	ops := []repo.Op{r.projects.DeleteOp(id)}
	for _, m := range ms {
		ops = append(ops, r.milestones.DeleteOp(m.ID))
	}
	for _, e := range ex {
		ops = append(ops, r.expenses.DeleteOp(e.ID))
	}
	if err := r.projects.Batch(ctx, ops...); err != nil {
		return err
	}
	s.emit(ctx, sess, audit.ActionDelete, p, audit.Describe("deleted project", p.Name), nil)
	return nil
}

func (s *Service) emit(ctx context.Context, sess *session.Session, action audit.Action, p Project, desc string, changes []audit.Change) {
	s.audit.Emit(ctx, sess.TenantContext(), sess.Actor(), audit.Entry{
		Action:      action,
		Module:      authz.ModuleProjects,
		EntityType:  "project",
		EntityID:    p.ID,
		EntityName:  p.Name,
		Description: desc,
		Changes:     changes,
	})
}
