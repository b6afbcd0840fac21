package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewAdminRouterHealthy(t *testing.T) {
	r := NewAdminRouter(func() (bool, map[string]string) {
		return true, map[string]string{"peers": "3"}
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestNewAdminRouterUnhealthy(t *testing.T) {
	r := NewAdminRouter(func() (bool, map[string]string) {
		return false, map[string]string{"reason": "starting up"}
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestNewAdminRouterMetrics(t *testing.T) {
	r := NewAdminRouter(func() (bool, map[string]string) { return true, nil })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}
