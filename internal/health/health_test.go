package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHandlerHealthy(t *testing.T) {
	h := NewHandler("test")
	h.RegisterChecker("storage", NewSimpleChecker("storage", func() error { return nil }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Status != StatusHealthy {
		t.Fatalf("overall = %s, want %s", resp.Status, StatusHealthy)
	}
	if resp.Checks["storage"].Status != StatusHealthy {
		t.Fatalf("storage check = %s, want %s", resp.Checks["storage"].Status, StatusHealthy)
	}
	if resp.Version != "test" {
		t.Fatalf("version = %q, want %q", resp.Version, "test")
	}
}

func TestHandlerUnhealthy(t *testing.T) {
	h := NewHandler("test")
	h.RegisterChecker("storage", NewSimpleChecker("storage", func() error {
		return errors.New("connection refused")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	rec = httptest.NewRecorder()
	h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
