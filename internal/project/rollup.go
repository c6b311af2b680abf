package project

import (
	"context"
	"fmt"
	"strings"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
)

// Rollup derives progress (percent of completed milestones, rounded down)
// and actual cost (sum of expenses) from the full child set.
func Rollup(milestones []Milestone, expenses []Expense) (progress int, actualCost int64) {
	if n := len(milestones); n > 0 {
		done := 0
		for _, m := range milestones {
			if m.Completed {
				done++
			}
		}
		progress = done * 100 / n
	}
	for _, e := range expenses {
		actualCost += e.Amount
	}
	return progress, actualCost
}

func children(ctx context.Context, r scoped, projectID string) ([]Milestone, []Expense, error) {
	byProject := docstore.Eq("project_id", projectID)
	ms, err := r.milestones.List(ctx, docstore.Query{OrderBy: "created_at"}.Where(byProject))
	if err != nil {
		return nil, nil, err
	}
	ex, err := r.expenses.List(ctx, docstore.Query{OrderBy: "created_at"}.Where(byProject))
	if err != nil {
		return nil, nil, err
	}
	return ms, ex, nil
}

// childSet is the state a mutation sees and returns.
type childSet struct {
	milestones []Milestone
	expenses   []Expense
}

type mutation func(r scoped, p Project, cur childSet) (ops []repo.Op, next childSet, desc string, err error)

// mutate applies a child mutation and rewrites the project's derived fields
// from the resulting child set in the same batch.
func (s *Service) mutate(ctx context.Context, sess *session.Session, projectID string, action audit.Action, fn mutation) (Project, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionUpdate); err != nil {
		return Project{}, err
	}
	r := s.bind(sess)
	before, err := s.load(ctx, sess, r, projectID)
	if err != nil {
		return Project{}, err
	}
	if before.Status.Closed() {
		return Project{}, fmt.Errorf("%w: %s", ErrClosed, before.Status)
	}
	ms, ex, err := children(ctx, r, projectID)
	if err != nil {
		return Project{}, err
	}
	ops, next, desc, err := fn(r, before, childSet{milestones: ms, expenses: ex})
	if err != nil {
		return Project{}, err
	}
	progress, actual := Rollup(next.milestones, next.expenses)
	ops = append(ops, r.projects.UpdateOp(projectID, map[string]any{
		"progress":    progress,
		"actual_cost": actual,
		"revision":    before.Revision + 1,
	}, sess.UserID()).Expect("revision", before.Revision))
	if err := r.projects.Batch(ctx, ops...); err != nil {
		return Project{}, err
	}
	after, err := r.projects.Get(ctx, projectID)
	if err != nil {
		return Project{}, err
	}
	changes, _ := audit.Diff(before, after)
	s.emit(ctx, sess, action, after, desc, changes)
	return after, nil
}

func (s *Service) AddMilestone(ctx context.Context, sess *session.Session, projectID string, in NewMilestone) (Project, Milestone, error) {
	if err := s.validate.Struct(in); err != nil {
		return Project{}, Milestone{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var added Milestone
	p, err := s.mutate(ctx, sess, projectID, audit.ActionCreate, func(r scoped, p Project, cur childSet) ([]repo.Op, childSet, string, error) {
		op, m := r.milestones.CreateOp(Milestone{
			ProjectID: projectID,
			Title:     strings.TrimSpace(in.Title),
			DueDate:   in.DueDate,
		}, sess.UserID())
		added = m
		cur.milestones = append(cur.milestones, m)
		return []repo.Op{op}, cur, audit.Describe("added milestone", m.Title, "to", p.Name), nil
	})
	if err != nil {
		return Project{}, Milestone{}, err
	}
	return p, added, nil
}

// SetMilestoneCompleted marks a milestone done or reopens it.
func (s *Service) SetMilestoneCompleted(ctx context.Context, sess *session.Session, projectID, milestoneID string, completed bool) (Project, error) {
	return s.mutate(ctx, sess, projectID, audit.ActionUpdate, func(r scoped, p Project, cur childSet) ([]repo.Op, childSet, string, error) {
		i := milestoneIndex(cur.milestones, milestoneID)
		if i < 0 {
			return nil, cur, "", fmt.Errorf("%w: milestone %s", repo.ErrNotFound, milestoneID)
		}
		m := cur.milestones[i]
		if m.Completed == completed {
			return nil, cur, "", fmt.Errorf("%w: milestone already in that state", ErrInvalidInput)
		}
		patch := map[string]any{"completed": completed, "completed_at": nil}
		verb := "reopened milestone"
		if completed {
			now := s.now()
			patch["completed_at"] = now
			m.CompletedAt = &now
			verb = "completed milestone"
		} else {
			m.CompletedAt = nil
		}
		m.Completed = completed
		next := append([]Milestone(nil), cur.milestones...)
		next[i] = m
		cur.milestones = next
		op := r.milestones.UpdateOp(milestoneID, patch, sess.UserID()).Expect("completed", !completed)
		return []repo.Op{op}, cur, audit.Describe(verb, m.Title, "of", p.Name), nil
	})
}

func (s *Service) DeleteMilestone(ctx context.Context, sess *session.Session, projectID, milestoneID string) (Project, error) {
	return s.mutate(ctx, sess, projectID, audit.ActionDelete, func(r scoped, p Project, cur childSet) ([]repo.Op, childSet, string, error) {
		i := milestoneIndex(cur.milestones, milestoneID)
		if i < 0 {
			return nil, cur, "", fmt.Errorf("%w: milestone %s", repo.ErrNotFound, milestoneID)
		}
		title := cur.milestones[i].Title
		next := append(append([]Milestone(nil), cur.milestones[:i]...), cur.milestones[i+1:]...)
		cur.milestones = next
		return []repo.Op{r.milestones.DeleteOp(milestoneID)}, cur, audit.Describe("removed milestone", title, "from", p.Name), nil
	})
}

func (s *Service) AddExpense(ctx context.Context, sess *session.Session, projectID string, in NewExpense) (Project, Expense, error) {
	if err := s.validate.Struct(in); err != nil {
		return Project{}, Expense{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	var added Expense
	p, err := s.mutate(ctx, sess, projectID, audit.ActionCreate, func(r scoped, p Project, cur childSet) ([]repo.Op, childSet, string, error) {
		incurred := s.now()
		if in.IncurredOn != nil {
			incurred = in.IncurredOn.UTC()
		}
		op, e := r.expenses.CreateOp(Expense{
			ProjectID:   projectID,
			Description: strings.TrimSpace(in.Description),
			Category:    in.Category,
			Amount:      in.Amount,
			IncurredOn:  incurred,
			VendorID:    in.VendorID,
		}, sess.UserID())
		added = e
		cur.expenses = append(cur.expenses, e)
		return []repo.Op{op}, cur, audit.Describe("recorded expense", e.Description, "on", p.Name), nil
	})
	if err != nil {
		return Project{}, Expense{}, err
	}
	return p, added, nil
}

func (s *Service) DeleteExpense(ctx context.Context, sess *session.Session, projectID, expenseID string) (Project, error) {
	return s.mutate(ctx, sess, projectID, audit.ActionDelete, func(r scoped, p Project, cur childSet) ([]repo.Op, childSet, string, error) {
		i := -1
		for j, e := range cur.expenses {
			if e.ID == expenseID {
				i = j
				break
			}
		}
		if i < 0 {
			return nil, cur, "", fmt.Errorf("%w: expense %s", repo.ErrNotFound, expenseID)
		}
		desc := cur.expenses[i].Description
		cur.expenses = append(append([]Expense(nil), cur.expenses[:i]...), cur.expenses[i+1:]...)
		return []repo.Op{r.expenses.DeleteOp(expenseID)}, cur, audit.Describe("removed expense", desc, "from", p.Name), nil
	})
}

// Milestones lists a project's milestones, oldest first.
func (s *Service) Milestones(ctx context.Context, sess *session.Session, projectID string) ([]Milestone, error) {
	ms, _, err := s.readChildren(ctx, sess, projectID)
	return ms, err
}

// Expenses lists a project's expenses, oldest first.
func (s *Service) Expenses(ctx context.Context, sess *session.Session, projectID string) ([]Expense, error) {
	_, ex, err := s.readChildren(ctx, sess, projectID)
	return ex, err
}

func (s *Service) readChildren(ctx context.Context, sess *session.Session, projectID string) ([]Milestone, []Expense, error) {
	if err := sess.Require(authz.ModuleProjects, authz.ActionRead); err != nil {
		return nil, nil, err
	}
	r := s.bind(sess)
	if _, err := s.load(ctx, sess, r, projectID); err != nil {
		return nil, nil, err
	}
	return children(ctx, r, projectID)
}

func milestoneIndex(ms []Milestone, id string) int {
	for i, m := range ms {
		if m.ID == id {
			return i
		}
	}
	return -1
}
