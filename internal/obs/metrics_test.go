package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Instrument)
	r.Get("/v1/assets/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/assets/{id}", "418"))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/assets/01HZX", nil))
	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/v1/assets/{id}", "418"))
	if after != before+1 {
		t.Fatalf("expected counter to grow by one, got %v -> %v", before, after)
	}
}

func TestObserveAuthz(t *testing.T) {
	before := testutil.ToFloat64(authzDecisions.WithLabelValues("assets", "delete", "deny"))
	ObserveAuthz("assets", "delete", false)
	if got := testutil.ToFloat64(authzDecisions.WithLabelValues("assets", "delete", "deny")); got != before+1 {
		t.Fatalf("deny counter = %v", got)
	}
}

func TestCtxTagsRequestID(t *testing.T) {
	var buf bytes.Buffer
	Init(LogConfig{Level: "debug", Output: &buf})
	t.Cleanup(func() { Init(LogConfig{}) })

	ctx := WithRequestID(context.Background(), "req-123")
	Ctx(ctx).Info().Str("foo", "bar").Msg("hello")

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v (%q)", err, buf.String())
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["message"] != "hello" || entry["foo"] != "bar" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestParseLevel(t *testing.T) {
	var buf bytes.Buffer
	Init(LogConfig{Level: "error", Output: &buf})
	t.Cleanup(func() { Init(LogConfig{}) })
	Logger().Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line should be filtered at error level: %q", buf.String())
	}
}
