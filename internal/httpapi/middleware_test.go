package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"assetdesk.io/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, 1))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" || body["request_id"] == "" {
		t.Fatalf("expected error and request_id in body: %v", body)
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("buckets must be per client, got %d", rr3.Code)
	}
}

func TestLoggingEmitsStructuredEntry(t *testing.T) {
	var buf bytes.Buffer
	obs.Init(obs.LogConfig{Output: &buf})
	t.Cleanup(func() { obs.Init(obs.LogConfig{}) })

	handler := RequestID(Logging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))
	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set(requestIDHeader, "rid-1")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Header().Get(requestIDHeader) != "rid-1" {
		t.Fatalf("request id not echoed: %q", rr.Header().Get(requestIDHeader))
	}
	line := strings.TrimSpace(buf.String())
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v (%q)", err, line)
	}
	for _, key := range []string{"time", "level", "message", "request_id", "method", "path", "status", "duration"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry %v", key, entry)
		}
	}
	if entry["status"] != float64(http.StatusTeapot) || entry["request_id"] != "rid-1" || entry["bytes"] != float64(2) {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	handler := CORS("https://app.example")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	cases := map[string]string{
		"https://app.example":   "https://app.example",
		"http://localhost:3000": "http://localhost:3000",
		"https://evil.example":  "",
	}
	for origin, want := range cases {
		req := httptest.NewRequest(http.MethodOptions, "/v1/assets", nil)
		req.Header.Set("Origin", origin)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Fatalf("preflight status %d", rr.Code)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != want {
			t.Fatalf("origin %s: allow-origin = %q, want %q", origin, got, want)
		}
	}
}

func TestExtractBearerToken(t *testing.T) {
	if tok, err := extractBearerToken("bearer abc"); err != nil || tok != "abc" {
		t.Fatalf("got %q, %v", tok, err)
	}
	for _, h := range []string{"", "Basic abc", "Bearer   "} {
		if _, err := extractBearerToken(h); err == nil {
			t.Fatalf("expected error for %q", h)
		}
	}
}

func TestGuardDeniesWithoutPermission(t *testing.T) {
	api := newTestAPI(t)
	admin := api.register("owner@acme.test", "correct-horse", "acme").Token
	expect[object](t, api.do(http.MethodPost, "/v1/users", admin, object{
		"email": "fin@acme.test", "display_name": "Fin", "role": "FINANCE", "password": "finance-password",
	}), http.StatusCreated)
	fin := api.signIn("fin@acme.test", "finance-password").Token

	expect[object](t, api.do(http.MethodPost, "/v1/maintenance", fin, object{"title": "x", "office_id": "berlin"}), http.StatusForbidden)
	expect[object](t, api.do(http.MethodPatch, "/v1/tenant", fin, object{"name": "Evil"}), http.StatusForbidden)
	expect[object](t, api.do(http.MethodGet, "/v1/assets", fin, nil), http.StatusOK)
}
