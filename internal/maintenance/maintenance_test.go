package maintenance

import (
	"context"
	"errors"
	"testing"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/tenant"
)

func newService(t *testing.T) *Service {
	t.Helper()
	obs.Init(obs.LogConfig{Level: "disabled"})
	t.Cleanup(func() { obs.Init(obs.LogConfig{}) })
	store := docstore.NewMemory()
	return NewService(store, audit.NewRecorder(store))
}

func sessionAs(role authz.Role, offices ...string) *session.Session {
	return session.New(
		tenant.Tenant{ID: "acme", Status: tenant.StatusActive},
		session.Profile{UserID: "user-" + role.String(), Role: role, AccessibleOffices: offices},
	)
}

var printerJam = NewTicket{Title: "Printer jams", OfficeID: "berlin", Priority: PriorityHigh}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusOpen, StatusInProgress}:         true,
		{StatusOpen, StatusCancelled}:          true,
		{StatusInProgress, StatusWaitingParts}: true,
		{StatusInProgress, StatusCompleted}:    true,
		{StatusInProgress, StatusCancelled}:    true,
		{StatusWaitingParts, StatusInProgress}: true,
		{StatusWaitingParts, StatusCancelled}:  true,
	}
	all := []Status{StatusOpen, StatusInProgress, StatusWaitingParts, StatusCompleted, StatusCancelled}
	for _, from := range all {
		for _, to := range all {
			if got := CanTransition(from, to); got != allowed[[2]Status{from, to}] {
				t.Fatalf("CanTransition(%s, %s) = %v", from, to, got)
			}
		}
	}
}

func TestCompleteFromOpenIsRejected(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	tech := sessionAs(authz.RoleITTechnician, "berlin")
	tk, err := svc.Open(ctx, tech, printerJam)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := svc.Complete(ctx, tech, tk.ID, "fixed", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	got, _ := svc.Get(ctx, tech, tk.ID)
	if got.Status != StatusOpen || got.CompletedAt != nil || got.StartedAt != nil {
		t.Fatalf("rejected transition changed the ticket: %+v", got)
	}
}

func TestLifecycleStampsTimes(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	tech := sessionAs(authz.RoleITTechnician, "berlin")
	tk, _ := svc.Open(ctx, tech, printerJam)

	started, err := svc.Start(ctx, tech, tk.ID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.StartedAt == nil {
		t.Fatal("started_at not stamped")
	}
	if _, err := svc.WaitForParts(ctx, tech, tk.ID, "fuser ordered"); err != nil {
		t.Fatalf("WaitForParts: %v", err)
	}
	resumed, err := svc.Start(ctx, tech, tk.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if !resumed.StartedAt.Equal(*started.StartedAt) {
		t.Fatalf("started_at must keep the first entry: %v vs %v", resumed.StartedAt, started.StartedAt)
	}

	if _, err := svc.Complete(ctx, tech, tk.ID, "  ", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("completion without notes: expected ErrInvalidInput, got %v", err)
	}
	done, err := svc.Complete(ctx, tech, tk.ID, "replaced fuser", 8900)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.CompletedAt == nil || done.ResolutionNotes != "replaced fuser" || done.ActualCost != 8900 {
		t.Fatalf("unexpected completed ticket: %+v", done)
	}
	if _, err := svc.Cancel(ctx, tech, tk.ID, "late"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed is terminal, got %v", err)
	}

	history, err := svc.History(ctx, tech, tk.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []Status{StatusOpen, StatusInProgress, StatusWaitingParts, StatusInProgress, StatusCompleted}
	if len(history) != len(want) {
		t.Fatalf("expected %d history rows, got %+v", len(want), history)
	}
	for i, h := range history {
		if h.ToStatus != want[i] {
			t.Fatalf("history[%d] = %s, want %s", i, h.ToStatus, want[i])
		}
	}
}

func TestPermissionsAndScope(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	mgmt := sessionAs(authz.RoleManagement, "berlin")
	if _, err := svc.Open(ctx, mgmt, printerJam); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("management cannot open tickets, got %v", err)
	}
	tk, _ := svc.Open(ctx, sessionAs(authz.RoleTenantAdmin), printerJam)
	if _, err := svc.Get(ctx, sessionAs(authz.RoleOfficeAdmin, "paris"), tk.ID); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("office outside scope, got %v", err)
	}
	list, err := svc.List(ctx, mgmt, ListFilter{OpenOnly: true})
	if err != nil || len(list) != 1 {
		t.Fatalf("List = %v, %v", list, err)
	}
	if _, err := svc.Open(ctx, sessionAs(authz.RoleTenantAdmin), NewTicket{Title: "x", OfficeID: "berlin", Priority: "urgent"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown priority: expected ErrInvalidInput, got %v", err)
	}
}

// closingStore cancels a ticket directly after it is read once, standing in
// for a concurrent Move between Assign's load and its write.
type closingStore struct {
	docstore.Store
	path string
}

func (s *closingStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	doc, err := s.Store.Get(ctx, path)
	if err == nil && path == s.path {
		s.path = ""
		err = s.Store.Commit(ctx, []docstore.Write{{
			Kind: docstore.WriteMerge, Path: path, Data: docstore.Document{"status": string(StatusCancelled)},
		}})
	}
	return doc, err
}

func TestAssignLosesToConcurrentClose(t *testing.T) {
	obs.Init(obs.LogConfig{Level: "disabled"})
	t.Cleanup(func() { obs.Init(obs.LogConfig{}) })
	store := &closingStore{Store: docstore.NewMemory()}
	svc := NewService(store, audit.NewRecorder(store))
	ctx := context.Background()
	admin := sessionAs(authz.RoleTenantAdmin)
	tk, err := svc.Open(ctx, admin, printerJam)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	store.path = admin.TenantContext().Path(Collection, tk.ID)
	if _, err := svc.Assign(ctx, admin, tk.ID, "user-9"); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected repo.ErrConflict, got %v", err)
	}
	got, err := svc.Get(ctx, admin, tk.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusCancelled || got.AssignedTo != "" {
		t.Fatalf("closed ticket was assigned: %+v", got)
	}
}
