package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"callrelay/internal/auth"
	"callrelay/internal/calls"
	"callrelay/internal/config"
	"callrelay/internal/history"
	"callrelay/internal/presence"
	"callrelay/pkg/logger"
)

func newTestRouter(t *testing.T, ready func(context.Context) error) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	dir := presence.NewDirectory(logger.Discard())
	hist := history.NewService(history.NewMemoryRepo())

	r := gin.New()
	registerRoutes(r, routeDeps{
		auth:      m,
		history:   hist,
		directory: dir,
		calls:     calls.NewCoordinator(dir, hist, logger.Discard()),
		ready:     ready,
	})
	return r
}

func TestRegisterRoutes_ExposesAPI(t *testing.T) {
	r := newTestRouter(t, nil)

	want := map[string]bool{
		"GET /healthz":               false,
		"POST /v1/auth/signup":       false,
		"POST /v1/auth/login":        false,
		"POST /v1/auth/verify":       false,
		"POST /v1/auth/resend":       false,
		"GET /v1/me":                 false,
		"GET /v1/history":            false,
		"GET /v1/history/summary":    false,
		"GET /v1/presence/:identity": false,
		"GET /v1/admin/sessions":     false,
	}
	for _, rt := range r.Routes() {
		key := rt.Method + " " + rt.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for k, seen := range want {
		if !seen {
			t.Fatalf("route %s not registered", k)
		}
	}
}

func TestHealthz_ReportsReadiness(t *testing.T) {
	healthy := newTestRouter(t, func(context.Context) error { return nil })
	w := httptest.NewRecorder()
	healthy.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	degraded := newTestRouter(t, func(context.Context) error { return errors.New("db down") })
	w = httptest.NewRecorder()
	degraded.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestProtectedRouteRejectsMissingToken(t *testing.T) {
	r := newTestRouter(t, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}
