// Package web exposes the REST API: scheduler administration, job CRUD,
// execution history, notifications, taxonomy reads and the metrics endpoint.
// Authentication is left to the reverse proxy in front of the service.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/metrics"
	"github.com/netresearch/cronhook/scheduler"
	"github.com/netresearch/cronhook/store"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// Scheduler is the slice of the scheduler runtime the API needs. Satisfied
// by *scheduler.Runtime; tests substitute fakes for the follower paths.
type Scheduler interface {
	Status() scheduler.Status
	LastResync() *scheduler.ReconcileStats
	IsLeader() bool
	Resync(ctx context.Context, opts scheduler.ReconcileOptions) (*scheduler.ReconcileStats, error)
	SyncJobSchedule(ctx context.Context, row *store.Job) bool
	UnscheduleJob(id string) bool
	TriggerJob(ctx context.Context, id string, o scheduler.TriggerOverrides) error
}

type Server struct {
	addr      string
	store     *store.Store
	runtime   Scheduler
	collector *metrics.MetricsCollector
	health    *HealthChecker
	logger    core.Logger
	srv       *http.Server
}

// NewServer wires the route table and the middleware chain. The metrics
// collector may be nil; /metrics then returns 404. The health checker may
// be nil; /api/health then answers a bare ok.
func NewServer(addr string, st *store.Store, rt Scheduler, mc *metrics.MetricsCollector, hc *HealthChecker, logger core.Logger) *Server {
	s := &Server{addr: addr, store: st, runtime: rt, collector: mc, health: hc, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.healthHandler)
	mux.HandleFunc("GET /healthz", s.livenessHandler)
	mux.HandleFunc("GET /ready", s.readinessHandler)
	mux.HandleFunc("GET /api/scheduler/status", s.statusHandler)
	mux.HandleFunc("POST /api/scheduler/resync", s.resyncHandler)

	mux.HandleFunc("GET /api/jobs", s.listJobsHandler)
	mux.HandleFunc("POST /api/jobs", s.createJobHandler)
	mux.HandleFunc("GET /api/jobs/{id}", s.getJobHandler)
	mux.HandleFunc("PUT /api/jobs/{id}", s.updateJobHandler)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.deleteJobHandler)
	mux.HandleFunc("POST /api/jobs/{id}/trigger", s.triggerJobHandler)
	mux.HandleFunc("GET /api/jobs/{id}/executions", s.jobExecutionsHandler)
	mux.HandleFunc("GET /api/executions", s.recentExecutionsHandler)

	mux.HandleFunc("GET /api/notifications", s.listNotificationsHandler)
	mux.HandleFunc("POST /api/notifications/{id}/read", s.markNotificationReadHandler)
	mux.HandleFunc("GET /api/teams", s.listTeamsHandler)
	mux.HandleFunc("GET /api/categories", s.listCategoriesHandler)
	mux.HandleFunc("GET /api/settings/slack", s.getSlackSettingsHandler)
	mux.HandleFunc("PUT /api/settings/slack", s.putSlackSettingsHandler)

	mux.HandleFunc("GET /metrics", s.metricsHandler)

	// Apply security middlewares
	rl := newRateLimiter(100, 200)
	var handler http.Handler = mux
	handler = securityHeaders(handler)
	handler = rl.middleware(handler)
	if mc != nil {
		handler = metrics.HTTPMetrics(mc)(handler)
	}

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the full middleware-wrapped handler, for httptest servers.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Start serves until Shutdown is called. A closed listener is not an error.
func (s *Server) Start() error {
	err := s.srv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server on %s: %w", s.addr, err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	s.health.HealthHandler()(w, r)
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
		return
	}
	s.health.LivenessHandler()(w, r)
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		w.WriteHeader(http.StatusOK)
		return
	}
	s.health.ReadinessHandler()(w, r)
}

// metricsHandler refreshes the pull-model gauges from the runtime snapshot,
// then serves the text exposition.
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if s.collector == nil {
		http.NotFound(w, r)
		return
	}
	if s.runtime != nil {
		st := s.runtime.Status()
		s.collector.SetGauge("cronhook_scheduled_jobs", float64(st.ScheduledJobsCount))
		s.collector.SetGauge("cronhook_leader", boolGauge(st.SchedulerIsLeader))
		if stats := s.runtime.LastResync(); stats != nil {
			s.collector.SetGauge("cronhook_reconcile_db_jobs", float64(stats.DBJobsTotal))
			s.collector.SetGauge("cronhook_reconcile_db_jobs_active", float64(stats.DBJobsActive))
			s.collector.SetGauge("cronhook_reconcile_added", float64(stats.ScheduledAdded))
			s.collector.SetGauge("cronhook_reconcile_removed", float64(stats.ScheduledRemoved))
			s.collector.SetGauge("cronhook_reconcile_expired_auto_paused", float64(stats.ExpiredAutoPaused))
			s.collector.SetGauge("cronhook_reconcile_orphans_removed", float64(stats.OrphanedRemoved))
			s.collector.SetGauge("cronhook_reconcile_invalid_cron", float64(stats.InvalidCron))
		}
	}
	s.collector.Handler().ServeHTTP(w, r)
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// listLimit parses ?limit=, clamped to [1, maxListLimit].
func listLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return defaultListLimit
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}
