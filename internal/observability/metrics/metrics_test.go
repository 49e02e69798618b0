package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	m := New()
	router := chi.NewRouter()
	router.Use(m.Middleware)
	router.Get("/api/v1/bots/{owner}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	router.Get("/boom", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	for _, path := range []string{"/api/v1/bots/a", "/api/v1/bots/b", "/boom"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/api/v1/bots/{owner}", http.MethodGet, "404")); got != 2 {
		t.Fatalf("requests by pattern = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.reqErrors.WithLabelValues("/boom", http.MethodGet)); got != 1 {
		t.Fatalf("server errors = %v, want 1", got)
	}
}

func TestRecordersAndHandler(t *testing.T) {
	m := New()
	m.ObserveOperation("execute_swap", "ok", 20*time.Millisecond)
	m.ObserveOperation("execute_swap", "AMOUNT_EXCEEDS_LIMIT", time.Millisecond)
	m.ObserveJob("execute", "succeeded")

	if got := testutil.ToFloat64(m.operations.WithLabelValues("execute_swap", "ok")); got != 1 {
		t.Fatalf("ok operations = %v", got)
	}
	if got := testutil.ToFloat64(m.jobs.WithLabelValues("execute", "succeeded")); got != 1 {
		t.Fatalf("jobs = %v", got)
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`swapbot_bot_operations_total{operation="execute_swap",result="AMOUNT_EXCEEDS_LIMIT"} 1`,
		`swapbot_swap_jobs_total{mode="execute",status="succeeded"} 1`,
		"swapbot_bot_operation_duration_seconds_count",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
}
