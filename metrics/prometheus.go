// Package metrics is a process-local metrics collector with Prometheus text
// exposition. It deliberately avoids a client library dependency: the
// counter/gauge/histogram surface needed here is small and the web layer
// serves the rendered text directly.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/netresearch/cronhook/core"
)

// MetricsCollector handles Prometheus-style metrics
type MetricsCollector struct {
	mu      sync.RWMutex
	metrics map[string]*Metric
}

// Metric represents a single metric with its type and values
type Metric struct {
	Name        string
	Type        string // counter, gauge, histogram
	Help        string
	Value       float64
	Histogram   *Histogram
	LastUpdated time.Time
}

// Histogram for tracking distributions
type Histogram struct {
	Count  int64
	Sum    float64
	Bucket map[float64]int64 // bucket threshold -> count
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		metrics: make(map[string]*Metric),
	}
}

// RegisterCounter registers a new counter metric
func (mc *MetricsCollector) RegisterCounter(name, help string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics[name] = &Metric{
		Name:        name,
		Type:        "counter",
		Help:        help,
		LastUpdated: time.Now(),
	}
}

// RegisterGauge registers a new gauge metric
func (mc *MetricsCollector) RegisterGauge(name, help string) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.metrics[name] = &Metric{
		Name:        name,
		Type:        "gauge",
		Help:        help,
		LastUpdated: time.Now(),
	}
}

// RegisterHistogram registers a new histogram metric
func (mc *MetricsCollector) RegisterHistogram(name, help string, buckets []float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	hist := &Histogram{
		Bucket: make(map[float64]int64),
	}
	for _, b := range buckets {
		hist.Bucket[b] = 0
	}

	mc.metrics[name] = &Metric{
		Name:        name,
		Type:        "histogram",
		Help:        help,
		Histogram:   hist,
		LastUpdated: time.Now(),
	}
}

// IncrementCounter increments a counter metric
func (mc *MetricsCollector) IncrementCounter(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.metrics[name]; exists && metric.Type == "counter" {
		metric.Value += value
		metric.LastUpdated = time.Now()
	}
}

// SetGauge sets a gauge metric value
func (mc *MetricsCollector) SetGauge(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.metrics[name]; exists && metric.Type == "gauge" {
		metric.Value = value
		metric.LastUpdated = time.Now()
	}
}

// AddGauge adds a delta to a gauge metric.
func (mc *MetricsCollector) AddGauge(name string, delta float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.metrics[name]; exists && metric.Type == "gauge" {
		metric.Value += delta
		metric.LastUpdated = time.Now()
	}
}

// ObserveHistogram records a value in a histogram
func (mc *MetricsCollector) ObserveHistogram(name string, value float64) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	if metric, exists := mc.metrics[name]; exists && metric.Type == "histogram" {
		hist := metric.Histogram
		hist.Count++
		hist.Sum += value

		for bucket := range hist.Bucket {
			if value <= bucket {
				hist.Bucket[bucket]++
			}
		}

		metric.LastUpdated = time.Now()
	}
}

// Value returns the current value of a counter or gauge, for tests and the
// health endpoint.
func (mc *MetricsCollector) Value(name string) float64 {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	if metric, exists := mc.metrics[name]; exists {
		return metric.Value
	}
	return 0
}

// Export formats metrics in Prometheus text format, sorted by name so the
// output is stable.
func (mc *MetricsCollector) Export() string {
	mc.mu.RLock()
	defer mc.mu.RUnlock()

	names := make([]string, 0, len(mc.metrics))
	for name := range mc.metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var out strings.Builder
	for _, name := range names {
		metric := mc.metrics[name]
		fmt.Fprintf(&out, "# HELP %s %s\n", metric.Name, metric.Help)
		fmt.Fprintf(&out, "# TYPE %s %s\n", metric.Name, metric.Type)

		switch metric.Type {
		case "counter", "gauge":
			fmt.Fprintf(&out, "%s %g\n", metric.Name, metric.Value)

		case "histogram":
			if metric.Histogram != nil {
				bounds := make([]float64, 0, len(metric.Histogram.Bucket))
				for b := range metric.Histogram.Bucket {
					bounds = append(bounds, b)
				}
				sort.Float64s(bounds)
				for _, b := range bounds {
					fmt.Fprintf(&out, "%s_bucket{le=%q} %d\n", metric.Name, fmt.Sprintf("%g", b), metric.Histogram.Bucket[b])
				}
				fmt.Fprintf(&out, "%s_bucket{le=\"+Inf\"} %d\n", metric.Name, metric.Histogram.Count)
				fmt.Fprintf(&out, "%s_count %d\n", metric.Name, metric.Histogram.Count)
				fmt.Fprintf(&out, "%s_sum %g\n", metric.Name, metric.Histogram.Sum)
			}
		}

		out.WriteString("\n")
	}

	return out.String()
}

// Handler returns an HTTP handler for the metrics endpoint
func (mc *MetricsCollector) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, mc.Export())
	}
}

// InitDefaultMetrics registers the collector's metric set.
func (mc *MetricsCollector) InitDefaultMetrics() {
	// Dispatch metrics
	mc.RegisterCounter("cronhook_dispatches_total", "Total job callback invocations")
	mc.RegisterCounter("cronhook_dispatches_failed_total", "Total failed job callbacks")
	mc.RegisterGauge("cronhook_jobs_running", "Number of currently running job callbacks")
	mc.RegisterHistogram("cronhook_job_duration_seconds", "Job callback duration in seconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300})
	mc.RegisterCounter("cronhook_jobs_scheduled_total", "Total engine schedule registrations")

	// Reconcile metrics (last pass snapshot)
	mc.RegisterGauge("cronhook_scheduled_jobs", "Jobs currently registered in the engine (excluding reserved)")
	mc.RegisterGauge("cronhook_reconcile_db_jobs", "Jobs in the store at the last reconcile")
	mc.RegisterGauge("cronhook_reconcile_db_jobs_active", "Active jobs in the store at the last reconcile")
	mc.RegisterGauge("cronhook_reconcile_added", "Schedules added by the last reconcile")
	mc.RegisterGauge("cronhook_reconcile_removed", "Schedules removed by the last reconcile")
	mc.RegisterGauge("cronhook_reconcile_expired_auto_paused", "Jobs auto-paused by the last reconcile")
	mc.RegisterGauge("cronhook_reconcile_orphans_removed", "Orphan schedules removed by the last reconcile")
	mc.RegisterGauge("cronhook_reconcile_invalid_cron", "Rows with invalid cron at the last reconcile")

	// System metrics
	mc.RegisterGauge("cronhook_up", "Service status (1 = up, 0 = down)")
	mc.RegisterGauge("cronhook_leader", "Leadership status (1 = leader, 0 = follower)")

	// HTTP metrics
	mc.RegisterCounter("cronhook_http_requests_total", "Total number of HTTP requests")
	mc.RegisterHistogram("cronhook_http_request_duration_seconds", "HTTP request duration in seconds",
		[]float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1})

	mc.SetGauge("cronhook_up", 1)
	mc.SetGauge("cronhook_jobs_running", 0)
}

// Recorder adapts the collector to the scheduler's engine hooks.
type Recorder struct {
	mc *MetricsCollector
}

func NewRecorder(mc *MetricsCollector) *Recorder {
	return &Recorder{mc: mc}
}

var _ core.MetricsRecorder = (*Recorder)(nil)

// RecordJobStart marks one callback in flight.
func (r *Recorder) RecordJobStart(string) {
	r.mc.IncrementCounter("cronhook_dispatches_total", 1)
	r.mc.AddGauge("cronhook_jobs_running", 1)
}

// RecordJobComplete records the callback outcome. The duration comes from
// the engine hook, which is authoritative.
func (r *Recorder) RecordJobComplete(_ string, seconds float64, panicked bool) {
	r.mc.AddGauge("cronhook_jobs_running", -1)
	r.mc.ObserveHistogram("cronhook_job_duration_seconds", seconds)
	if panicked {
		r.mc.IncrementCounter("cronhook_dispatches_failed_total", 1)
	}
}

// RecordJobScheduled counts engine schedule registrations.
func (r *Recorder) RecordJobScheduled(string) {
	r.mc.IncrementCounter("cronhook_jobs_scheduled_total", 1)
}

// RecordDispatchOutcome counts a finished dispatch by result. Wired to the
// scheduler's completion callback, which sees middleware-level failures the
// panic hook cannot.
func (r *Recorder) RecordDispatchOutcome(_ string, success bool) {
	if !success {
		r.mc.IncrementCounter("cronhook_dispatches_failed_total", 1)
	}
}

// HTTPMetrics middleware for tracking HTTP requests
func HTTPMetrics(mc *MetricsCollector) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			mc.IncrementCounter("cronhook_http_requests_total", 1)

			next.ServeHTTP(w, r)

			duration := time.Since(start).Seconds()
			mc.ObserveHistogram("cronhook_http_request_duration_seconds", duration)
		})
	}
}
