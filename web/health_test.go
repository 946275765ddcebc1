package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/netresearch/cronhook/scheduler"
)

func TestHealthCheckerHealthy(t *testing.T) {
	f := setupServer(t)
	hc := NewHealthChecker(f.st, f.rt, "1.0.0")

	health := hc.GetHealth(context.Background())

	if health.Status != HealthStatusHealthy {
		t.Errorf("expected healthy, got %q", health.Status)
	}
	if health.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", health.Version)
	}
	if health.Uptime < 0 {
		t.Error("uptime should not be negative")
	}

	db, ok := health.Checks["database"]
	if !ok || db.Status != HealthStatusHealthy {
		t.Errorf("unexpected database check %+v", db)
	}
	sched, ok := health.Checks["scheduler"]
	if !ok || sched.Status != HealthStatusHealthy {
		t.Errorf("unexpected scheduler check %+v", sched)
	}

	if health.System.GoVersion == "" {
		t.Error("go version should not be empty")
	}
	if health.System.NumCPU <= 0 {
		t.Error("number of CPUs should be positive")
	}
	if health.System.NumGoroutine <= 0 {
		t.Error("number of goroutines should be positive")
	}
}

func TestHealthCheckerFollowerDegraded(t *testing.T) {
	f := setupServer(t)
	f.rt.status = scheduler.Status{SchedulerRunning: false, SchedulerIsLeader: false}

	hc := NewHealthChecker(f.st, f.rt, "")
	health := hc.GetHealth(context.Background())

	if health.Status != HealthStatusDegraded {
		t.Errorf("follower should be degraded, got %q", health.Status)
	}
	if msg := health.Checks["scheduler"].Message; msg != "follower: serving API only" {
		t.Errorf("unexpected scheduler message %q", msg)
	}
	if health.Version != "dev" {
		t.Errorf("empty version should default to dev, got %q", health.Version)
	}
}

func TestHealthCheckerLeaderEngineDown(t *testing.T) {
	f := setupServer(t)
	f.rt.status = scheduler.Status{SchedulerRunning: false, SchedulerIsLeader: true}

	hc := NewHealthChecker(f.st, f.rt, "")
	health := hc.GetHealth(context.Background())

	if health.Status != HealthStatusUnhealthy {
		t.Errorf("stalled leader should be unhealthy, got %q", health.Status)
	}
	if msg := health.Checks["scheduler"].Message; msg != "leader lock held but engine not running" {
		t.Errorf("unexpected scheduler message %q", msg)
	}
}

func TestHealthCheckerMissingStore(t *testing.T) {
	f := setupServer(t)

	hc := NewHealthChecker(nil, f.rt, "")
	health := hc.GetHealth(context.Background())

	if health.Status != HealthStatusUnhealthy {
		t.Errorf("missing store should be unhealthy, got %q", health.Status)
	}
	if msg := health.Checks["database"].Message; msg != "store not initialized" {
		t.Errorf("unexpected database message %q", msg)
	}
}

func TestHealthCheckerNilRuntime(t *testing.T) {
	f := setupServer(t)

	hc := NewHealthChecker(f.st, nil, "")
	health := hc.GetHealth(context.Background())

	if health.Status != HealthStatusDegraded {
		t.Errorf("missing runtime should degrade, got %q", health.Status)
	}
	if msg := health.Checks["scheduler"].Message; msg != "scheduler runtime not attached" {
		t.Errorf("unexpected scheduler message %q", msg)
	}
}

func TestLivenessHandler(t *testing.T) {
	f := setupServer(t)
	hc := NewHealthChecker(f.st, f.rt, "")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	hc.LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if w.Body.String() != "OK" {
		t.Errorf("expected body 'OK', got %q", w.Body.String())
	}
}

func TestReadinessHandler(t *testing.T) {
	f := setupServer(t)
	hc := NewHealthChecker(f.st, f.rt, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	hc.ReadinessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected JSON content type, got %q", ct)
	}

	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != HealthStatusHealthy {
		t.Errorf("unexpected status %q", health.Status)
	}
}

func TestReadinessHandlerUnhealthy(t *testing.T) {
	f := setupServer(t)
	hc := NewHealthChecker(nil, f.rt, "")

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	hc.ReadinessHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 when unhealthy, got %d", w.Code)
	}
}

func TestHealthHandlerAlways200(t *testing.T) {
	f := setupServer(t)
	hc := NewHealthChecker(nil, f.rt, "")

	req := httptest.NewRequest("GET", "/api/health", nil)
	w := httptest.NewRecorder()
	hc.HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("health endpoint should always answer 200, got %d", w.Code)
	}

	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if health.Status != HealthStatusUnhealthy {
		t.Errorf("body should carry the unhealthy status, got %q", health.Status)
	}
}
