package asset

import (
	"context"
	"errors"
	"testing"
	"time"

	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/repo"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/tenant"
)

func newService(t *testing.T) (*Service, *audit.Recorder) {
	t.Helper()
	obs.Init(obs.LogConfig{Level: "disabled"})
	t.Cleanup(func() { obs.Init(obs.LogConfig{}) })
	store := docstore.NewMemory()
	rec := audit.NewRecorder(store)
	return NewService(store, rec), rec
}

func sessionAs(role authz.Role, offices ...string) *session.Session {
	return session.New(
		tenant.Tenant{ID: "acme", Status: tenant.StatusActive},
		session.Profile{UserID: "user-" + role.String(), Email: "x@acme.test", Role: role, AccessibleOffices: offices},
	)
}

var laptop = NewAsset{Name: "Laptop 14", AssetTag: "AT-001", Category: "laptop", OfficeID: "berlin", PurchaseCost: 129900}

func TestCreateWritesCreatedEvent(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()
	admin := sessionAs(authz.RoleITAdmin, "berlin")

	a, err := svc.Create(ctx, admin, laptop)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.Status != StatusAvailable || a.CreatedBy != admin.UserID() {
		t.Fatalf("unexpected asset: %+v", a)
	}

	events, err := svc.Events(ctx, admin, a.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %+v", events)
	}
	ev := events[0]
	if ev.Type != EventCreated || ev.CreatedBy != admin.UserID() || ev.CreatedAt.After(time.Now()) || ev.CreatedAt.IsZero() {
		t.Fatalf("unexpected created event: %+v", ev)
	}

	entries, _ := rec.List(ctx, admin.TenantContext(), audit.Filter{EntityID: a.ID})
	if len(entries) != 1 || entries[0].Action != audit.ActionCreate {
		t.Fatalf("expected create audit entry, got %+v", entries)
	}
}

func TestCreateValidates(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), sessionAs(authz.RoleTenantAdmin), NewAsset{Name: "x"})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	_, err = svc.Create(context.Background(), sessionAs(authz.RoleITAdmin, "paris"), laptop)
	if !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("office outside scope: expected ErrForbidden, got %v", err)
	}
}

func TestTransferClearsAssignment(t *testing.T) {
	for _, assigned := range []bool{true, false} {
		svc, _ := newService(t)
		ctx := context.Background()
		admin := sessionAs(authz.RoleOrgAdmin)
		a, _ := svc.Create(ctx, admin, laptop)
		if assigned {
			var err error
			if a, err = svc.Assign(ctx, admin, a.ID, "user-7"); err != nil {
				t.Fatalf("Assign: %v", err)
			}
			if a.Status != StatusInUse || a.AssignedTo != "user-7" || a.AssignedAt == nil {
				t.Fatalf("unexpected assigned asset: %+v", a)
			}
		}

		got, err := svc.Transfer(ctx, admin, a.ID, "paris")
		if err != nil {
			t.Fatalf("Transfer: %v", err)
		}
		if got.Status != StatusAvailable || got.AssignedTo != "" || got.AssignedAt != nil || got.OfficeID != "paris" {
			t.Fatalf("transfer (assigned=%v) left %+v", assigned, got)
		}
		events, _ := svc.Events(ctx, admin, a.ID)
		last := events[len(events)-1]
		if last.Type != EventTransferred || last.Details["from_office_id"] != "berlin" || last.Details["to_office_id"] != "paris" {
			t.Fatalf("unexpected transfer event: %+v", last)
		}
	}
}

func TestLifecycleTransitions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := sessionAs(authz.RoleTenantAdmin)
	a, _ := svc.Create(ctx, admin, laptop)

	if _, err := svc.Unassign(ctx, admin, a.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("unassign of available asset: expected ErrInvalidTransition, got %v", err)
	}
	steps := []struct {
		name string
		run  func() (Asset, error)
		want Status
	}{
		{"assign", func() (Asset, error) { return svc.Assign(ctx, admin, a.ID, "u1") }, StatusInUse},
		{"maintenance", func() (Asset, error) { return svc.SendToMaintenance(ctx, admin, a.ID, "broken hinge") }, StatusUnderMaintenance},
		{"return", func() (Asset, error) { return svc.ReturnFromMaintenance(ctx, admin, a.ID) }, StatusAvailable},
		{"lost", func() (Asset, error) { return svc.MarkLost(ctx, admin, a.ID, "") }, StatusLost},
		{"found", func() (Asset, error) { return svc.MarkFound(ctx, admin, a.ID) }, StatusAvailable},
		{"dispose", func() (Asset, error) { return svc.Dispose(ctx, admin, a.ID, "end of life") }, StatusDisposed},
	}
	for _, step := range steps {
		got, err := step.run()
		if err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got.Status != step.want {
			t.Fatalf("%s: status %s, want %s", step.name, got.Status, step.want)
		}
	}

	if _, err := svc.Assign(ctx, admin, a.ID, "u1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("disposed is terminal: expected ErrInvalidTransition, got %v", err)
	}
	name := "renamed"
	if _, err := svc.Update(ctx, admin, a.ID, Changes{Name: &name}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("disposed assets are read-only, got %v", err)
	}
	events, _ := svc.Events(ctx, admin, a.ID)
	if len(events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(events))
	}
	for i := 1; i < len(events); i++ {
		if events[i].FromStatus != events[i-1].ToStatus {
			t.Fatalf("event chain broken at %d: %+v -> %+v", i, events[i-1], events[i])
		}
	}
}

func TestAssignMissingAssetIsNotFound(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Assign(context.Background(), sessionAs(authz.RoleTenantAdmin), "missing", "u1"); err == nil {
		t.Fatal("expected an error for a missing asset")
	}
}

func TestPermissionsAreEnforced(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	a, _ := svc.Create(ctx, sessionAs(authz.RoleTenantAdmin), laptop)

	tech := sessionAs(authz.RoleITTechnician, "berlin")
	if err := svc.Delete(ctx, tech, a.ID); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("technician delete: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Assign(ctx, tech, a.ID, "u1"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("technician assign: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.SendToMaintenance(ctx, tech, a.ID, "noise"); err != nil {
		t.Fatalf("technician may update assets: %v", err)
	}

	outsider := sessionAs(authz.RoleITTechnician, "paris")
	if _, err := svc.Get(ctx, outsider, a.ID); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("office outside scope: expected ErrForbidden, got %v", err)
	}
}

func TestListScopesByOffice(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := sessionAs(authz.RoleTenantAdmin)
	svc.Create(ctx, admin, laptop)
	paris := laptop
	paris.OfficeID, paris.AssetTag, paris.Name = "paris", "AT-002", "Laptop 15"
	svc.Create(ctx, admin, paris)

	all, _ := svc.List(ctx, admin, ListFilter{})
	if len(all) != 2 {
		t.Fatalf("admin should see both assets, got %d", len(all))
	}
	berlinOnly, _ := svc.List(ctx, sessionAs(authz.RoleManagement, "berlin"), ListFilter{})
	if len(berlinOnly) != 1 || berlinOnly[0].OfficeID != "berlin" {
		t.Fatalf("unexpected scoped list: %+v", berlinOnly)
	}
	none, _ := svc.List(ctx, sessionAs(authz.RoleManagement), ListFilter{})
	if len(none) != 0 {
		t.Fatalf("no offices means no assets, got %d", len(none))
	}
	byPrefix, _ := svc.List(ctx, admin, ListFilter{NamePrefix: "Laptop 1"})
	if len(byPrefix) != 2 || byPrefix[0].Name != "Laptop 14" {
		t.Fatalf("unexpected prefix list: %+v", byPrefix)
	}
}

func companySession(role authz.Role, offices, companies []string) *session.Session {
	return session.New(
		tenant.Tenant{ID: "acme", Status: tenant.StatusActive},
		session.Profile{UserID: "user-" + role.String(), Email: "x@acme.test", Role: role, AccessibleOffices: offices, AccessibleCompanies: companies},
	)
}

func TestCompanyScopeLimitsAssets(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := sessionAs(authz.RoleTenantAdmin)
	own := laptop
	own.CompanyID = "c1"
	mine, _ := svc.Create(ctx, admin, own)
	foreign := laptop
	foreign.AssetTag, foreign.CompanyID = "AT-002", "c2"
	theirs, _ := svc.Create(ctx, admin, foreign)
	shared := laptop
	shared.AssetTag = "AT-003"
	common, _ := svc.Create(ctx, admin, shared)

	it := companySession(authz.RoleITAdmin, []string{"berlin"}, []string{"c1"})
	list, err := svc.List(ctx, it, ListFilter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	seen := map[string]bool{}
	for _, a := range list {
		seen[a.ID] = true
	}
	if len(list) != 2 || !seen[mine.ID] || !seen[common.ID] {
		t.Fatalf("expected own and company-less assets, got %+v", list)
	}
	if _, err := svc.Get(ctx, it, theirs.ID); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("get other company: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Assign(ctx, it, theirs.ID, "u1"); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("assign other company: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Create(ctx, it, NewAsset{Name: "Dock", AssetTag: "AT-004", Category: "dock", OfficeID: "berlin", CompanyID: "c2"}); !errors.Is(err, session.ErrForbidden) {
		t.Fatalf("create in other company: expected ErrForbidden, got %v", err)
	}
	if _, err := svc.Assign(ctx, it, mine.ID, "u1"); err != nil {
		t.Fatalf("assign own company: %v", err)
	}

	noCompanies := companySession(authz.RoleITAdmin, []string{"berlin"}, nil)
	list, _ = svc.List(ctx, noCompanies, ListFilter{})
	if len(list) != 1 || list[0].ID != common.ID {
		t.Fatalf("without companies only company-less assets are visible, got %+v", list)
	}
	if all, _ := svc.List(ctx, admin, ListFilter{}); len(all) != 3 {
		t.Fatalf("admin should see every asset, got %d", len(all))
	}
}

func TestDeletedAssetHistoryNeedsUnrestrictedSession(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	admin := sessionAs(authz.RoleTenantAdmin)
	a, _ := svc.Create(ctx, admin, laptop)
	if err := svc.Delete(ctx, admin, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	outsider := sessionAs(authz.RoleITAdmin, "paris")
	if _, err := svc.Events(ctx, outsider, a.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("scoped session: expected ErrNotFound, got %v", err)
	}
	events, err := svc.Events(ctx, admin, a.ID)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if len(events) == 0 {
		t.Fatal("admin should still read the history of a deleted asset")
	}
}
