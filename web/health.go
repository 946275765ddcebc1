package web

import (
	"context"
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"github.com/netresearch/cronhook/store"
)

// HealthStatus represents the overall health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck represents a single health check
type HealthCheck struct {
	Name        string        `json:"name"`
	Status      HealthStatus  `json:"status"`
	Message     string        `json:"message,omitempty"`
	LastChecked time.Time     `json:"last_checked"`
	Duration    time.Duration `json:"duration_ms"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    HealthStatus           `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    float64                `json:"uptime_seconds"`
	Version   string                 `json:"version"`
	Checks    map[string]HealthCheck `json:"checks"`
	System    SystemInfo             `json:"system"`
}

// SystemInfo contains system-level information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"goroutines"`
	NumCPU       int    `json:"cpus"`
	MemoryAlloc  uint64 `json:"memory_alloc_bytes"`
	MemoryTotal  uint64 `json:"memory_total_bytes"`
	GCRuns       uint32 `json:"gc_runs"`
}

// HealthChecker performs health checks on demand: a database ping and the
// scheduler runtime flags. Checks run per request, so the response always
// reflects the current state.
type HealthChecker struct {
	startTime time.Time
	store     *store.Store
	runtime   Scheduler
	version   string
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(st *store.Store, rt Scheduler, version string) *HealthChecker {
	if version == "" {
		version = "dev"
	}
	return &HealthChecker{
		startTime: time.Now(),
		store:     st,
		runtime:   rt,
		version:   version,
	}
}

// checkDatabase verifies the store answers a ping
func (hc *HealthChecker) checkDatabase(ctx context.Context) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        "database",
		LastChecked: start,
		Status:      HealthStatusHealthy,
		Message:     "database reachable",
	}

	if hc.store == nil {
		check.Status = HealthStatusUnhealthy
		check.Message = "store not initialized"
	} else if err := hc.store.DB().PingContext(ctx); err != nil {
		check.Status = HealthStatusUnhealthy
		check.Message = "database unreachable: " + err.Error()
	}

	check.Duration = time.Since(start)
	return check
}

// checkScheduler reports the engine state. A follower is degraded, not
// unhealthy: it serves the API and can take over leadership later.
func (hc *HealthChecker) checkScheduler() HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Name:        "scheduler",
		LastChecked: start,
	}

	switch {
	case hc.runtime == nil:
		check.Status = HealthStatusDegraded
		check.Message = "scheduler runtime not attached"
	default:
		st := hc.runtime.Status()
		switch {
		case st.SchedulerRunning && st.SchedulerIsLeader:
			check.Status = HealthStatusHealthy
			check.Message = "scheduler leader running"
		case st.SchedulerIsLeader:
			check.Status = HealthStatusUnhealthy
			check.Message = "leader lock held but engine not running"
		default:
			check.Status = HealthStatusDegraded
			check.Message = "follower: serving API only"
		}
	}

	check.Duration = time.Since(start)
	return check
}

// GetHealth runs all checks and composes the response
func (hc *HealthChecker) GetHealth(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	checks := map[string]HealthCheck{
		"database":  hc.checkDatabase(ctx),
		"scheduler": hc.checkScheduler(),
	}

	// Overall status is the worst individual one
	status := HealthStatusHealthy
	for _, check := range checks {
		if check.Status == HealthStatusUnhealthy {
			status = HealthStatusUnhealthy
			break
		} else if check.Status == HealthStatusDegraded && status == HealthStatusHealthy {
			status = HealthStatusDegraded
		}
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return HealthResponse{
		Status:    status,
		Timestamp: time.Now(),
		Uptime:    time.Since(hc.startTime).Seconds(),
		Version:   hc.version,
		Checks:    checks,
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemoryAlloc:  m.Alloc,
			MemoryTotal:  m.Sys,
			GCRuns:       m.NumGC,
		},
	}
}

// LivenessHandler returns a simple liveness check
func (hc *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

// ReadinessHandler returns readiness status; 503 when unhealthy
func (hc *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.GetHealth(r.Context())

		statusCode := http.StatusOK
		if health.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// HealthHandler returns detailed health information. Always 200: monitoring
// tools read the status field, not the code.
func (hc *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := hc.GetHealth(r.Context())

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(health)
	}
}
