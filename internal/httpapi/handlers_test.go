package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"assetdesk.io/internal/asset"
	"assetdesk.io/internal/audit"
	"assetdesk.io/internal/auth"
	"assetdesk.io/internal/authz"
	"assetdesk.io/internal/docstore"
	"assetdesk.io/internal/maintenance"
	"assetdesk.io/internal/obs"
	"assetdesk.io/internal/project"
	"assetdesk.io/internal/session"
	"assetdesk.io/internal/stock"
	"assetdesk.io/internal/stream"
	"assetdesk.io/internal/tenant"
	"assetdesk.io/internal/user"
)

type captureNotifier struct {
	mu     sync.Mutex
	tokens map[string]string
}

func (c *captureNotifier) SendPasswordReset(_ context.Context, email, token string, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[email] = token
	return nil
}

type apiClient struct {
	baseURL  string
	client   *http.Client
	notifier *captureNotifier
	t        *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	obs.Init(obs.LogConfig{Level: "disabled"})
	t.Cleanup(func() { obs.Init(obs.LogConfig{}) })

	store := docstore.NewMemory()
	recorder := audit.NewRecorder(store, audit.WithFeed(stream.New[audit.Entry](16)))
	notifier := &captureNotifier{tokens: map[string]string{}}
	identities := auth.NewProvider(store, notifier)
	tokens, err := auth.NewTokens("test-secret-test-secret-test-secret")
	if err != nil {
		t.Fatalf("NewTokens: %v", err)
	}
	enforcer, err := authz.NewEnforcer()
	if err != nil {
		t.Fatalf("NewEnforcer: %v", err)
	}
	tenants := tenant.NewService(store)
	users := user.NewService(store, identities, recorder)

	api := New(Deps{
		Tokens:      tokens,
		Identities:  identities,
		Sessions:    session.NewResolver(tenants, users, recorder),
		Enforcer:    enforcer,
		Tenants:     tenants,
		Users:       users,
		Assets:      asset.NewService(store, recorder),
		Stock:       stock.NewService(store, recorder),
		Maintenance: maintenance.NewService(store, recorder),
		Projects:    project.NewService(store, recorder),
		Audit:       recorder,
	}, ReadyProbe{}, "test", WithRateLimit(0, 0))

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)
	return &apiClient{baseURL: srv.URL, client: srv.Client(), notifier: notifier, t: t}
}

func (c *apiClient) do(method, path, token string, body any) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

// expect checks the status and decodes the body into T.
func expect[T any](t *testing.T, resp *http.Response, status int) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if resp.StatusCode != status {
		var body map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&body)
		t.Fatalf("%s %s: expected %d, got %d (%v)", resp.Request.Method, resp.Request.URL.Path, status, resp.StatusCode, body)
	}
	if resp.StatusCode == http.StatusNoContent {
		return v
	}
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

type object = map[string]any

func (c *apiClient) register(email, password, tenantID string) tokenResponse {
	c.t.Helper()
	return expect[tokenResponse](c.t, c.do(http.MethodPost, "/v1/auth/register", "", object{
		"email": email, "password": password, "tenant_id": tenantID,
	}), http.StatusCreated)
}

func (c *apiClient) signIn(email, password string) tokenResponse {
	c.t.Helper()
	return expect[tokenResponse](c.t, c.do(http.MethodPost, "/v1/auth/token", "", object{
		"email": email, "password": password,
	}), http.StatusOK)
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t)
	health := expect[object](t, api.do(http.MethodGet, "/healthz", "", nil), http.StatusOK)
	if health["status"] != "ok" {
		t.Fatalf("unexpected health body: %v", health)
	}
	expect[object](t, api.do(http.MethodGet, "/readyz", "", nil), http.StatusOK)
}

func TestRegisterProvisionsTenantAdmin(t *testing.T) {
	api := newTestAPI(t)
	tok := api.register("owner@acme.test", "correct-horse", "acme")
	if tok.Token == "" || tok.Session.Role != authz.RoleTenantAdmin || tok.Session.Tenant.ID != "acme" {
		t.Fatalf("unexpected registration response: %+v", tok)
	}
	if tok.Session.Tenant.Settings.Currency != "USD" {
		t.Fatalf("tenant defaults not applied: %+v", tok.Session.Tenant)
	}

	resp := api.do(http.MethodPost, "/v1/auth/register", "", object{
		"email": "intruder@evil.test", "password": "correct-horse", "tenant_id": "acme",
	})
	expect[object](t, resp, http.StatusConflict)

	sess := expect[sessionView](t, api.do(http.MethodGet, "/v1/session", tok.Token, nil), http.StatusOK)
	if sess.Email != "owner@acme.test" || len(sess.Modules) == 0 {
		t.Fatalf("unexpected session: %+v", sess)
	}
}

func TestFailedRegistrationReleasesTenant(t *testing.T) {
	api := newTestAPI(t)
	api.register("owner@acme.test", "correct-horse", "acme")

	// The email is taken, so globex must not stay claimed.
	expect[object](t, api.do(http.MethodPost, "/v1/auth/register", "", object{
		"email": "owner@acme.test", "password": "correct-horse", "tenant_id": "globex",
	}), http.StatusConflict)
	tok := api.register("owner@globex.test", "correct-horse", "globex")
	if tok.Session.Role != authz.RoleTenantAdmin || tok.Session.Tenant.ID != "globex" {
		t.Fatalf("unexpected registration response: %+v", tok)
	}
}

func TestAuthenticationIsRequired(t *testing.T) {
	api := newTestAPI(t)
	body := expect[object](t, api.do(http.MethodGet, "/v1/assets", "", nil), http.StatusUnauthorized)
	if body["error"] == "" || body["request_id"] == "" {
		t.Fatalf("expected error and request id: %v", body)
	}
	expect[object](t, api.do(http.MethodGet, "/v1/assets", "garbage", nil), http.StatusUnauthorized)

	api.register("owner@acme.test", "correct-horse", "acme")
	resp := api.do(http.MethodPost, "/v1/auth/token", "", object{"email": "owner@acme.test", "password": "wrong-horse"})
	expect[object](t, resp, http.StatusUnauthorized)
}

func TestRoleGuardsAndDomainErrors(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("owner@acme.test", "correct-horse", "acme").Token

	expect[object](t, api.do(http.MethodPost, "/v1/users", admin, object{
		"email": "tech@acme.test", "display_name": "Tech", "role": "IT_TECHNICIAN",
		"password": "tech-password", "accessible_offices": []string{"berlin"},
	}), http.StatusCreated)
	tech := api.signIn("tech@acme.test", "tech-password")
	if tech.Session.Role != authz.RoleITTechnician {
		t.Fatalf("unexpected role: %s", tech.Session.Role)
	}

	laptop := expect[asset.Asset](t, api.do(http.MethodPost, "/v1/assets", tech.Token, object{
		"name": "Laptop", "asset_tag": "LT-1", "category": "laptop", "office_id": "berlin",
	}), http.StatusCreated)
	expect[object](t, api.do(http.MethodDelete, "/v1/assets/"+laptop.ID, tech.Token, nil), http.StatusForbidden)
	expect[object](t, api.do(http.MethodPost, "/v1/assets", tech.Token, object{
		"name": "Desk", "asset_tag": "D-1", "category": "furniture", "office_id": "paris",
	}), http.StatusForbidden)
	expect[object](t, api.do(http.MethodGet, "/v1/assets/missing", tech.Token, nil), http.StatusNotFound)

	ticket := expect[maintenance.Ticket](t, api.do(http.MethodPost, "/v1/maintenance", tech.Token, object{
		"title": "Fan noise", "office_id": "berlin", "asset_id": laptop.ID,
	}), http.StatusCreated)
	expect[object](t, api.do(http.MethodPost, "/v1/maintenance/"+ticket.ID+"/transitions", tech.Token, object{
		"to": "completed", "note": "fixed",
	}), http.StatusConflict)

	toner := expect[stock.Consumable](t, api.do(http.MethodPost, "/v1/consumables", admin, object{
		"name": "Toner", "sku": "TN-1", "category": "printing", "unit": "box", "office_id": "berlin", "quantity": 5,
	}), http.StatusCreated)
	expect[object](t, api.do(http.MethodPost, "/v1/consumables/"+toner.ID+"/issue", tech.Token, object{
		"quantity": 10, "issued_to": "reception",
	}), http.StatusUnprocessableEntity)
	after := expect[stock.Consumable](t, api.do(http.MethodGet, "/v1/consumables/"+toner.ID, tech.Token, nil), http.StatusOK)
	if after.Quantity != 5 {
		t.Fatalf("failed issue changed quantity to %d", after.Quantity)
	}

	expect[object](t, api.do(http.MethodGet, "/v1/audit-logs", tech.Token, nil), http.StatusForbidden)
	logs := expect[struct {
		Items []audit.Entry `json:"items"`
	}](t, api.do(http.MethodGet, "/v1/audit-logs?module=assets", admin, nil), http.StatusOK)
	if len(logs.Items) != 1 || logs.Items[0].EntityID != laptop.ID {
		t.Fatalf("unexpected asset audit entries: %+v", logs.Items)
	}
}

func TestProjectRollupOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("owner@acme.test", "correct-horse", "acme").Token

	p := expect[project.Project](t, api.do(http.MethodPost, "/v1/projects", admin, object{
		"name": "Office move", "budget": 1000,
	}), http.StatusCreated)
	added := expect[struct {
		Milestone project.Milestone `json:"milestone"`
	}](t, api.do(http.MethodPost, "/v1/projects/"+p.ID+"/milestones", admin, object{"title": "Pack"}), http.StatusCreated)
	expect[object](t, api.do(http.MethodPost, "/v1/projects/"+p.ID+"/milestones", admin, object{"title": "Move"}), http.StatusCreated)
	got := expect[project.Project](t, api.do(http.MethodPut, "/v1/projects/"+p.ID+"/milestones/"+added.Milestone.ID, admin,
		object{"completed": true}), http.StatusOK)
	if got.Progress != 50 {
		t.Fatalf("progress = %d", got.Progress)
	}
	expect[object](t, api.do(http.MethodPost, "/v1/projects/"+p.ID+"/expenses", admin, object{
		"description": "Boxes", "amount": 1200,
	}), http.StatusCreated)
	got = expect[project.Project](t, api.do(http.MethodGet, "/v1/projects/"+p.ID, admin, nil), http.StatusOK)
	if got.ActualCost != 1200 || !got.OverBudget() {
		t.Fatalf("actual cost = %d", got.ActualCost)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	api := newTestAPI(t)
	api.register("owner@acme.test", "correct-horse", "acme")

	expect[object](t, api.do(http.MethodPost, "/v1/auth/password-reset", "", object{"email": "nobody@acme.test"}), http.StatusAccepted)
	expect[object](t, api.do(http.MethodPost, "/v1/auth/password-reset", "", object{"email": "owner@acme.test"}), http.StatusAccepted)
	token := api.notifier.tokens["owner@acme.test"]
	if token == "" {
		t.Fatal("reset token not delivered")
	}
	confirm := object{"email": "owner@acme.test", "token": token, "new_password": "battery-staple"}
	expect[object](t, api.do(http.MethodPost, "/v1/auth/password-reset/confirm", "", confirm), http.StatusNoContent)
	expect[object](t, api.do(http.MethodPost, "/v1/auth/password-reset/confirm", "", confirm), http.StatusUnauthorized)
	api.signIn("owner@acme.test", "battery-staple")
}

func TestTenantSettingsUpdate(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("owner@acme.test", "correct-horse", "acme").Token
	updated := expect[tenant.Tenant](t, api.do(http.MethodPatch, "/v1/tenant", admin, object{
		"settings": object{"currency": "EUR", "timezone": "Europe/Berlin"},
	}), http.StatusOK)
	if updated.Settings.Currency != "EUR" {
		t.Fatalf("settings not applied: %+v", updated.Settings)
	}
	expect[object](t, api.do(http.MethodPatch, "/v1/tenant", admin, object{
		"settings": object{"currency": "EUR", "timezone": "Mars/Olympus"},
	}), http.StatusBadRequest)

	q := url.Values{"module": {"settings"}}
	logs := expect[struct {
		Items []audit.Entry `json:"items"`
	}](t, api.do(http.MethodGet, "/v1/audit-logs?"+q.Encode(), admin, nil), http.StatusOK)
	if len(logs.Items) != 1 || len(logs.Items[0].Changes) == 0 {
		t.Fatalf("unexpected settings audit: %+v", logs.Items)
	}
}

func TestUnknownFieldsAreRejected(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(http.MethodPost, "/v1/auth/token", "", object{"email": "a@b.test", "password": "x", "role": "SUPER_ADMIN"})
	expect[object](t, resp, http.StatusBadRequest)
}

func TestAuditStreamDeliversTenantEntries(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("owner@acme.test", "correct-horse", "acme").Token

	resp := api.do(http.MethodGet, "/v1/audit-logs/stream", admin, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected stream response: %d %s", resp.StatusCode, resp.Header.Get("Content-Type"))
	}
	lines := bufio.NewScanner(resp.Body)
	if !lines.Scan() || lines.Text() != ": stream started" {
		t.Fatalf("unexpected first line %q", lines.Text())
	}

	expect[object](t, api.do(http.MethodPost, "/v1/assets", admin, object{
		"name": "Laptop", "asset_tag": "LT-9", "category": "laptop", "office_id": "hq",
	}), http.StatusCreated)

	for lines.Scan() {
		data, ok := strings.CutPrefix(lines.Text(), "data: ")
		if !ok {
			continue
		}
		var e audit.Entry
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if e.TenantID != "acme" || e.EntityType != "asset" {
			t.Fatalf("unexpected streamed entry: %+v", e)
		}
		return
	}
	t.Fatalf("stream ended without an event: %v", lines.Err())
}
