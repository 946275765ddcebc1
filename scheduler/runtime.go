package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

const (
	// DefaultPollInterval is how often the leader reconciles the engine
	// against the store. Clamped to [MinPollInterval, MaxPollInterval].
	DefaultPollInterval = 60 * time.Second
	MinPollInterval     = 10 * time.Second
	MaxPollInterval     = 300 * time.Second

	reconcileTimeout = 30 * time.Second

	staleRunningMessage = "interrupted by scheduler restart"
)

// ClampPollInterval normalizes the reconcile period: zero or negative means
// the default, anything else is clamped into the allowed range.
func ClampPollInterval(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPollInterval
	case d < MinPollInterval:
		return MinPollInterval
	case d > MaxPollInterval:
		return MaxPollInterval
	}
	return d
}

// Config carries the resolved scheduler settings from the environment.
type Config struct {
	Enabled         bool
	Location        *time.Location
	LockPath        string
	LockStale       time.Duration
	Poll            time.Duration
	GithubToken     string
	FrontendBaseURL string
}

// Status is the admin snapshot. ScheduledJobsCount excludes reserved
// internal jobs; LastResyncAt is null until the first reconcile.
type Status struct {
	SchedulerRunning   bool       `json:"scheduler_running"`
	SchedulerIsLeader  bool       `json:"scheduler_is_leader"`
	ScheduledJobsCount int        `json:"scheduled_jobs_count"`
	LastResyncAt       *time.Time `json:"last_resync_at"`
}

// TriggerOverrides are one-shot fields for a manual dispatch. They apply to
// that invocation only and are never written back to the store.
type TriggerOverrides struct {
	GithubToken string            `json:"github_token"`
	TargetURL   string            `json:"target_url"`
	Metadata    map[string]string `json:"metadata"`
}

// Runtime owns the trigger engine, the leader lock, the leadership flag and
// the reconcile loop. Every process builds one; only the process that wins
// the lock drives the engine, the rest serve the API with the side-effect
// helpers disabled.
type Runtime struct {
	Store      *store.Store
	Scheduler  *core.Scheduler
	Dispatcher *Dispatcher
	Notifier   *Notifier
	Reconciler *Reconciler
	Lock       *core.FileLock
	Logger     core.Logger
	Clock      core.Clock
	Location   *time.Location

	enabled bool
	poll    time.Duration

	mu         sync.Mutex
	started    bool
	leader     bool
	lastResync *ReconcileStats
	stopCh     chan struct{}
	loopDone   chan struct{}
}

// NewRuntime wires the engine, dispatcher, notifier and reconciler around
// one store handle. The engine logger is separate from the application
// logger because the cron library speaks slog.
func NewRuntime(cfg Config, st *store.Store, logger core.Logger, engineLogger *slog.Logger, recorder core.MetricsRecorder) *Runtime {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	clock := core.GetDefaultClock()

	sh := core.NewSchedulerWithOptions(engineLogger, loc, recorder)
	notifier := NewNotifier(st, logger, cfg.FrontendBaseURL)
	dispatcher := &Dispatcher{
		Store:               st,
		Notifier:            notifier,
		Client:              NewDispatchClient(DispatchTimeout),
		Clock:               clock,
		Location:            loc,
		FallbackGithubToken: cfg.GithubToken,
	}

	return &Runtime{
		Store:      st,
		Scheduler:  sh,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Reconciler: NewReconciler(st, sh, dispatcher, notifier, logger),
		Lock:       core.NewFileLock(cfg.LockPath, cfg.LockStale, logger),
		Logger:     logger,
		Clock:      clock,
		Location:   loc,
		enabled:    cfg.Enabled,
		poll:       ClampPollInterval(cfg.Poll),
	}
}

// Start attempts leadership once. Followers return nil and serve the API
// with scheduling disabled; a lock error degrades to follower rather than
// crashing the process.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	r.started = true

	if !r.enabled {
		r.Logger.Noticef("Scheduler disabled by configuration; serving API only")
		return nil
	}

	acquired, err := r.Lock.Acquire()
	if err != nil {
		r.Logger.Warningf("Leader lock %q error: %v; running as follower", r.Lock.Path(), err)
		return nil
	}
	if !acquired {
		r.Logger.Noticef("Leader lock %q held by another process; running as follower", r.Lock.Path())
		return nil
	}
	r.leader = true
	r.Logger.Noticef("Acquired leader lock %q", r.Lock.Path())

	// Dispatches interrupted by a previous crash must not stay running
	// forever.
	if n, err := r.Store.FailStaleRunning(ctx, staleRunningMessage); err != nil {
		r.Logger.Errorf("failing stale running executions: %v", err)
	} else if n > 0 {
		r.Logger.Warningf("Marked %d stale running execution(s) as failed", n)
	}

	maint := NewMaintenanceJob(r.Store, r.Notifier, r.Clock, r.Location, r.Logger)
	if err := r.Scheduler.AddJob(maint); err != nil {
		r.releaseLockLocked()
		return err
	}

	if stats, err := r.Reconciler.Reconcile(ctx, ReconcileOptions{RemoveOrphans: true, AutoPauseExpired: true}); err != nil {
		r.Logger.Errorf("initial reconcile: %v", err)
	} else {
		r.lastResync = stats
	}

	if err := r.Scheduler.Start(); err != nil {
		r.releaseLockLocked()
		return err
	}

	r.stopCh = make(chan struct{})
	r.loopDone = make(chan struct{})
	go r.reconcileLoop(r.stopCh, r.loopDone)

	return nil
}

func (r *Runtime) reconcileLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := r.Clock.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C():
			ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
			stats, err := r.Reconciler.Reconcile(ctx, ReconcileOptions{RemoveOrphans: true, AutoPauseExpired: true})
			cancel()
			if err != nil {
				r.Logger.Errorf("periodic reconcile: %v", err)
				continue
			}
			r.setLastResync(stats)
		}
	}
}

// Stop halts the reconcile loop and the engine, then releases the lock. The
// lock is released only after in-flight callbacks have drained, so a new
// leader never overlaps with running dispatches.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false

	if r.stopCh != nil {
		close(r.stopCh)
		<-r.loopDone
		r.stopCh = nil
		r.loopDone = nil
	}

	var stopErr error
	if r.leader {
		timeout := core.DefaultStopTimeout
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem > 0 && rem < timeout {
				timeout = rem
			}
		}
		if r.Scheduler.IsRunning() {
			stopErr = r.Scheduler.StopWithTimeout(timeout)
		}
		r.releaseLockLocked()
	}
	return stopErr
}

func (r *Runtime) releaseLockLocked() {
	if err := r.Lock.Release(); err != nil {
		r.Logger.Errorf("releasing leader lock: %v", err)
	}
	r.leader = false
}

// IsLeader reports whether this process holds the scheduler lock.
func (r *Runtime) IsLeader() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leader
}

// Status reports the admin snapshot for this process.
func (r *Runtime) Status() Status {
	r.mu.Lock()
	leader := r.leader
	last := r.lastResync
	r.mu.Unlock()

	st := Status{
		SchedulerRunning:   r.Scheduler.IsRunning(),
		SchedulerIsLeader:  leader,
		ScheduledJobsCount: r.Reconciler.scheduledCount(),
	}
	if last != nil {
		t := last.RanAt
		st.LastResyncAt = &t
	}
	return st
}

// LastResync returns the counters of the most recent reconcile pass, or nil
// before the first one.
func (r *Runtime) LastResync() *ReconcileStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastResync
}

func (r *Runtime) setLastResync(stats *ReconcileStats) {
	r.mu.Lock()
	r.lastResync = stats
	r.mu.Unlock()
}

// Resync runs an on-demand reconcile pass. Followers get ErrNotLeader,
// which the API maps to a conflict.
func (r *Runtime) Resync(ctx context.Context, opts ReconcileOptions) (*ReconcileStats, error) {
	if !r.IsLeader() {
		return nil, core.ErrNotLeader
	}
	stats, err := r.Reconciler.Reconcile(ctx, opts)
	if err != nil {
		return nil, err
	}
	r.setLastResync(stats)
	return stats, nil
}

// SyncJobSchedule applies one row's desired schedule to the engine right
// after an API write. No-op returning false on followers; the leader's next
// reconcile pass picks the change up instead.
func (r *Runtime) SyncJobSchedule(ctx context.Context, row *store.Job) bool {
	if !r.IsLeader() {
		return false
	}
	return r.Reconciler.SyncJobRow(ctx, row)
}

// UnscheduleJob removes one engine entry after an API delete. No-op
// returning false on followers.
func (r *Runtime) UnscheduleJob(id string) bool {
	if !r.IsLeader() {
		return false
	}
	return r.Reconciler.Unschedule(id)
}

// TriggerJob dispatches a job immediately with optional one-shot overrides.
// The manual run shares the per-job instance cap with scheduled fires;
// core.ErrMaxInstances means the cap refused it. Only the leader can
// trigger, because only the leader's engine tracks running instances.
func (r *Runtime) TriggerJob(ctx context.Context, id string, o TriggerOverrides) error {
	if !r.IsLeader() {
		return core.ErrNotLeader
	}

	row, err := r.Store.GetJob(ctx, id)
	if err != nil {
		return err
	}

	j, err := NewDispatchJob(row, r.Dispatcher)
	if err != nil {
		return err
	}
	if o.GithubToken != "" {
		j.GithubToken = o.GithubToken
	}
	if o.TargetURL != "" {
		j.TargetURL = o.TargetURL
	}
	if o.Metadata != nil {
		j.Metadata = o.Metadata
	}

	return r.Scheduler.RunJobManual(ctx, j)
}
