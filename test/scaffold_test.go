package test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	httptransport "aegis/internal/transport/http"
	"aegis/pkg/testutil"
)

func TestRouterScaffold(t *testing.T) {
	testutil.Given(t, "a router with one healthy and one failing dependency", func(t *testing.T) {
		checks := map[string]httptransport.HealthCheck{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}
		router := httptransport.NewRouter(checks)

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it reports 503 with per-dependency detail", func(t *testing.T) {
				if rec.Code != http.StatusServiceUnavailable {
					t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rec.Code)
				}
				var detail map[string]string
				if err := json.NewDecoder(rec.Body).Decode(&detail); err != nil {
					t.Fatalf("failed to decode health detail: %v", err)
				}
				if detail["postgres"] != "ok" {
					t.Fatalf("expected postgres ok, got %q", detail["postgres"])
				}
				if detail["redis"] != "connection refused" {
					t.Fatalf("expected redis failure detail, got %q", detail["redis"])
				}
			})
		})

		testutil.When(t, "calling GET /metrics", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it serves the Prometheus exposition", func(t *testing.T) {
				if rec.Code != http.StatusOK {
					t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
				}
			})
		})
	})

	testutil.Given(t, "a router with all dependencies healthy", func(t *testing.T) {
		router := httptransport.NewRouter(map[string]httptransport.HealthCheck{
			"postgres": func(context.Context) error { return nil },
		})

		testutil.When(t, "calling GET /healthz", func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			rec := httptest.NewRecorder()

			router.ServeHTTP(rec, req)

			testutil.Then(t, "it reports 200", func(t *testing.T) {
				if rec.Code != http.StatusOK {
					t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
				}
			})
		})
	})
}
