package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/netresearch/go-cron"
)

const (
	// DefaultMaxConcurrentJobs bounds the worker pool shared by every entry.
	// Fires beyond the limit are skipped, never queued.
	DefaultMaxConcurrentJobs = 20

	// MaxInstancesPerJob caps concurrent invocations of one job id. Extra due
	// fires are dropped with a log.
	MaxInstancesPerJob = 3

	// MisfireGraceTime is how late a fire may start before it is skipped.
	MisfireGraceTime = 30 * time.Second
)

// MetricsRecorder receives scheduler lifecycle events. The metrics package
// provides the production implementation; nil disables recording.
type MetricsRecorder interface {
	RecordJobStart(name string)
	RecordJobComplete(name string, seconds float64, panicked bool)
	RecordJobScheduled(name string)
}

// Scheduler drives the trigger engine. Entries are named by job id so the
// reconciler can diff engine state against the store in O(1) per job.
type Scheduler struct {
	Jobs    []Job
	Removed []Job
	Logger  *slog.Logger

	middlewareContainer
	cron              *cron.Cron
	wg                sync.WaitGroup
	mu                sync.RWMutex
	maxConcurrentJobs int
	concurrencySem    *concurrencySemaphore // go-cron middleware semaphore
	jobsByID          map[string]Job
	disabledIDs       map[string]struct{}
	guards            map[string]*instanceGuard
	metricsRecorder   MetricsRecorder
	clock             Clock
	jobLogger         Logger
	onJobComplete     func(jobName string, success bool)
}

// contextLogger returns the Logger handed to job contexts, bridging the
// slog-based engine logger to the interface jobs and middlewares use.
func (s *Scheduler) contextLogger() Logger {
	if s.jobLogger != nil {
		return s.jobLogger
	}
	return &SlogAdapter{L: s.Logger}
}

// concurrencySemaphore holds a swappable semaphore channel used by the
// go-cron MaxConcurrentSkip-style job wrapper. The wrapper reads the
// current channel via a mutex-protected accessor so that SetMaxConcurrentJobs
// can resize the limit before the scheduler is started.
type concurrencySemaphore struct {
	mu  sync.RWMutex
	ch  chan struct{}
	cap int
}

func newConcurrencySemaphore(n int) *concurrencySemaphore {
	return &concurrencySemaphore{
		ch:  make(chan struct{}, n),
		cap: n,
	}
}

func (cs *concurrencySemaphore) resize(n int) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.ch = make(chan struct{}, n)
	cs.cap = n
}

func (cs *concurrencySemaphore) getChan() chan struct{} {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.ch
}

func (cs *concurrencySemaphore) getCap() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.cap
}

// instanceGuard caps concurrent invocations of a single job id. Guards are
// keyed by id in the scheduler so a replaced entry keeps its in-flight slots.
type instanceGuard struct {
	slots chan struct{}
}

func newInstanceGuard(n int) *instanceGuard {
	return &instanceGuard{slots: make(chan struct{}, n)}
}

func (g *instanceGuard) tryAcquire() bool {
	select {
	case g.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

func (g *instanceGuard) release() {
	select {
	case <-g.slots:
	default:
	}
}

func (g *instanceGuard) active() int {
	return len(g.slots)
}

func NewScheduler(l *slog.Logger, loc *time.Location) *Scheduler {
	return NewSchedulerWithOptions(l, loc, nil)
}

// NewSchedulerWithOptions creates a scheduler firing in the given location
// with an optional metrics recorder.
func NewSchedulerWithOptions(l *slog.Logger, loc *time.Location, metricsRecorder MetricsRecorder) *Scheduler {
	cronUtils := NewCronUtils(l)
	if loc == nil {
		loc = time.Local
	}

	maxConcurrent := DefaultMaxConcurrentJobs
	sem := newConcurrencySemaphore(maxConcurrent)

	// Build the go-cron middleware chain. Concurrency limiting uses a
	// MaxConcurrentSkip-style wrapper backed by the scheduler's resizable
	// semaphore so that SetMaxConcurrentJobs can adjust the limit before Start.
	concurrencyWrapper := maxConcurrentSkipWrapper(cronUtils, sem)

	cronOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithParser(NewCronParser()),
		cron.WithLogger(cronUtils),
		cron.WithChain(cron.Recover(cronUtils), concurrencyWrapper),
		cron.WithCapacity(64), // pre-allocate for typical workloads
	}

	if metricsRecorder != nil {
		hooks := cron.ObservabilityHooks{
			OnJobStart: func(_ cron.EntryID, name string, _ time.Time) {
				metricsRecorder.RecordJobStart(name)
			},
			OnJobComplete: func(_ cron.EntryID, name string, duration time.Duration, recovered any) {
				metricsRecorder.RecordJobComplete(name, duration.Seconds(), recovered != nil)
			},
			OnSchedule: func(_ cron.EntryID, name string, _ time.Time) {
				metricsRecorder.RecordJobScheduled(name)
			},
		}
		cronOpts = append(cronOpts, cron.WithObservability(hooks))
	}

	return &Scheduler{
		Logger:            l,
		cron:              cron.New(cronOpts...),
		maxConcurrentJobs: maxConcurrent,
		concurrencySem:    sem,
		jobsByID:          make(map[string]Job),
		disabledIDs:       make(map[string]struct{}),
		guards:            make(map[string]*instanceGuard),
		metricsRecorder:   metricsRecorder,
		clock:             GetDefaultClock(),
		jobLogger:         &SlogAdapter{L: l},
	}
}

// maxConcurrentSkipWrapper returns a cron.JobWrapper that limits the total
// number of concurrent jobs across all entries. When the limit is reached,
// new invocations are skipped (not queued) and a log message is emitted.
func maxConcurrentSkipWrapper(logger cron.Logger, sem *concurrencySemaphore) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return &maxConcurrentSkipJob{inner: j, sem: sem, logger: logger}
	}
}

// maxConcurrentSkipJob implements cron.Job and cron.JobWithContext.
// It acquires a slot from the shared concurrencySemaphore before running
// the inner job. If no slot is available, the invocation is skipped.
type maxConcurrentSkipJob struct {
	inner  cron.Job
	sem    *concurrencySemaphore
	logger cron.Logger
}

func (m *maxConcurrentSkipJob) Run() {
	m.RunWithContext(context.Background())
}

func (m *maxConcurrentSkipJob) RunWithContext(ctx context.Context) {
	ch := m.sem.getChan()
	select {
	case ch <- struct{}{}: // try to acquire slot
		defer func() { <-ch }()
		if jc, ok := m.inner.(cron.JobWithContext); ok {
			jc.RunWithContext(ctx)
		} else {
			m.inner.Run()
		}
	default:
		// cron.Logger only exposes Info and Error; use Info since skipping
		// is non-fatal.
		m.logger.Info("skip", "reason", "max concurrent reached",
			"limit", m.sem.getCap())
	}
}

// SetMaxConcurrentJobs configures the worker pool size. When the limit is
// reached, new job invocations are skipped.
//
// This should be called before Start(); calling it on a running scheduler
// resizes the semaphore but in-flight jobs retain the previous channel.
func (s *Scheduler) SetMaxConcurrentJobs(maxJobs int) {
	if maxJobs < 1 {
		maxJobs = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && s.cron.IsRunning() {
		s.Logger.Warn("SetMaxConcurrentJobs called on running scheduler; in-flight jobs retain previous limit")
	}
	s.maxConcurrentJobs = maxJobs
	s.concurrencySem.resize(maxJobs)
}

func (s *Scheduler) SetClock(c Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
}

func (s *Scheduler) SetOnJobComplete(callback func(jobName string, success bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onJobComplete = callback
}

// AddJob registers a job keyed by its id, replacing any existing entry with
// the same id. Replacing is idempotent: a currently-executing instance keeps
// running while future fires follow the new schedule.
func (s *Scheduler) AddJob(j Job) error {
	return s.AddJobWithTags(j)
}

// AddJobWithTags adds a job with optional tags for categorization.
func (s *Scheduler) AddJobWithTags(j Job, tags ...string) error {
	if j.GetSchedule() == "" {
		return ErrEmptySchedule
	}

	if existing := s.GetAnyJob(j.GetJobID()); existing != nil {
		return s.UpdateJob(j.GetJobID(), j.GetSchedule(), j)
	}

	// Entries are named by job id for O(1) lookup and reconciler diffing.
	opts := []cron.JobOption{cron.WithName(j.GetJobID())}
	if len(tags) > 0 {
		opts = append(opts, cron.WithTags(tags...))
	}

	j.Use(s.Middlewares()...)

	id, err := s.cron.AddJob(j.GetSchedule(), &jobWrapper{s: s, j: j, trigger: TriggerScheduled}, opts...)
	if err != nil {
		s.Logger.Warn(fmt.Sprintf(
			"Failed to register job %q - %q - %q",
			j.GetName(), j.GetTarget(), j.GetSchedule(),
		))
		return fmt.Errorf("add cron job: %w", err)
	}
	j.SetCronJobID(uint64(id))
	s.mu.Lock()
	s.Jobs = append(s.Jobs, j)
	s.jobsByID[j.GetJobID()] = j
	if _, ok := s.guards[j.GetJobID()]; !ok {
		s.guards[j.GetJobID()] = newInstanceGuard(MaxInstancesPerJob)
	}
	s.mu.Unlock()

	s.Logger.Info(fmt.Sprintf(
		"New job registered %q (%s) - %q - %q - ID: %v",
		j.GetName(), j.GetJobID(), j.GetTarget(), j.GetSchedule(), id,
	))
	return nil
}

// RemoveJob deregisters a job after waiting for any in-flight execution.
func (s *Scheduler) RemoveJob(j Job) error {
	s.Logger.Info(fmt.Sprintf(
		"Job deregistered (will not fire again) %q (%s) - %q - ID: %v",
		j.GetName(), j.GetJobID(), j.GetSchedule(), j.GetCronJobID(),
	))
	s.cron.RemoveByName(j.GetJobID())
	s.cron.WaitForJobByName(j.GetJobID())
	s.mu.Lock()
	for i, job := range s.Jobs {
		if job == j || job.GetJobID() == j.GetJobID() {
			s.Jobs = append(s.Jobs[:i], s.Jobs[i+1:]...)
			break
		}
	}
	delete(s.jobsByID, j.GetJobID())
	delete(s.disabledIDs, j.GetJobID())
	delete(s.guards, j.GetJobID())
	s.Removed = append(s.Removed, j)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	for _, j := range s.Jobs {
		s.jobsByID[j.GetJobID()] = j
	}
	s.mu.Unlock()

	s.Logger.Debug("Starting scheduler")
	s.cron.Start()
	return nil
}

// DefaultStopTimeout is the default timeout for graceful shutdown.
const DefaultStopTimeout = 30 * time.Second

func (s *Scheduler) Stop() error {
	return s.StopWithTimeout(DefaultStopTimeout)
}

// StopWithTimeout stops the scheduler with a graceful shutdown timeout.
// It stops accepting new fires, then waits up to the timeout for running jobs
// to complete. Returns nil if all jobs completed, or an error if the timeout
// was exceeded.
func (s *Scheduler) StopWithTimeout(timeout time.Duration) error {
	completed := s.cron.StopWithTimeout(timeout)

	s.wg.Wait() // Wait for any remaining manual-trigger goroutines

	if !completed {
		s.Logger.Warn(fmt.Sprintf("Scheduler stop timed out after %v - some jobs may still be running", timeout))
		return fmt.Errorf("%w after %v", ErrSchedulerTimeout, timeout)
	}
	s.Logger.Debug("Scheduler stopped gracefully")
	return nil
}

// StopAndWait stops the scheduler and waits indefinitely for all jobs to complete.
func (s *Scheduler) StopAndWait() {
	s.cron.StopAndWait()

	s.wg.Wait()
	s.Logger.Debug("Scheduler stopped and all jobs completed")
}

// Entries returns all scheduled cron entries.
func (s *Scheduler) Entries() []cron.Entry {
	return s.cron.Entries()
}

// EntryNames returns the names (job ids) of every registered entry,
// including paused ones.
func (s *Scheduler) EntryNames() []string {
	entries := s.cron.Entries()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name != "" {
			names = append(names, e.Name)
		}
	}
	return names
}

// EntryByName returns a snapshot of the cron entry with the given name.
// Returns an invalid Entry (Entry.Valid() == false) if not found or if the
// scheduler's cron instance is nil.
func (s *Scheduler) EntryByName(name string) cron.Entry {
	if s.cron == nil {
		return cron.Entry{}
	}
	return s.cron.EntryByName(name)
}

// RunJobManual dispatches a job immediately, competing with scheduled fires
// under the per-job instance cap. The job argument may be a one-shot snapshot
// carrying overrides; only its id has to match a known job. Returns
// ErrMaxInstances when the cap is reached.
//
// The context parameter only gates acceptance; the dispatch itself runs on a
// background context so an API disconnect cannot abort an in-flight fire.
func (s *Scheduler) RunJobManual(ctx context.Context, j Job) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("manual trigger: %w", err)
	}
	if !s.cron.IsRunning() {
		return ErrSchedulerStopped
	}

	g := s.guardFor(j.GetJobID())
	if !g.tryAcquire() {
		return fmt.Errorf("%w: job %q has %d running instances", ErrMaxInstances, j.GetName(), MaxInstancesPerJob)
	}

	j.Use(s.Middlewares()...)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w := &jobWrapper{s: s, j: j, trigger: TriggerManual, guardHeld: true}
		w.runWithCtx(context.Background())
	}()
	return nil
}

// GetRemovedJobs returns a copy of all jobs that were removed from the scheduler.
func (s *Scheduler) GetRemovedJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, len(s.Removed))
	copy(jobs, s.Removed)
	return jobs
}

// GetDisabledJobs returns a copy of all disabled/paused jobs.
func (s *Scheduler) GetDisabledJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.disabledIDs))
	for _, j := range s.Jobs {
		if _, ok := s.disabledIDs[j.GetJobID()]; ok {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// GetAnyJob returns a job by id regardless of disabled state.
func (s *Scheduler) GetAnyJob(id string) Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobsByID[id]
}

// GetActiveJobs returns a copy of all active (non-disabled) jobs.
func (s *Scheduler) GetActiveJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]Job, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		if _, disabled := s.disabledIDs[j.GetJobID()]; !disabled {
			jobs = append(jobs, j)
		}
	}
	return jobs
}

// GetJob returns an active (non-disabled) job by id.
func (s *Scheduler) GetJob(id string) Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, disabled := s.disabledIDs[id]; disabled {
		return nil
	}
	return s.jobsByID[id]
}

// RunningInstances reports in-flight invocations for a job id.
func (s *Scheduler) RunningInstances(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.guards[id]; ok {
		return g.active()
	}
	return 0
}

func (s *Scheduler) guardFor(id string) *instanceGuard {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.guards[id]
	if !ok {
		g = newInstanceGuard(MaxInstancesPerJob)
		s.guards[id] = g
	}
	return g
}

// UpdateJob atomically replaces the schedule and job implementation for an
// existing entry using go-cron's UpdateEntryJobByName. The old job's in-flight
// invocations complete before the new schedule takes effect (go-cron
// serializes entry mutations through the scheduler goroutine). The instance
// guard keyed by id is preserved, so replacement never forgets running slots.
//
// Returns ErrJobNotFound if no job with the given id exists.
func (s *Scheduler) UpdateJob(id string, newSchedule string, newJob Job) error {
	s.mu.RLock()
	oldJob := s.jobsByID[id]
	s.mu.RUnlock()
	if oldJob == nil {
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}

	newJob.Use(s.Middlewares()...)

	if err := s.cron.UpdateEntryJobByName(id, newSchedule, &jobWrapper{s: s, j: newJob, trigger: TriggerScheduled}); err != nil {
		return fmt.Errorf("update job: %w", err)
	}

	s.mu.Lock()
	for i, j := range s.Jobs {
		if j.GetJobID() == id {
			s.Jobs[i] = newJob
			break
		}
	}
	s.jobsByID[id] = newJob
	s.mu.Unlock()

	s.Logger.Info(fmt.Sprintf("Job updated %q (%s) - %q", newJob.GetName(), id, newSchedule))
	return nil
}

// DisableJob pauses the job so it won't be scheduled or triggered, but keeps
// it for later enabling.
func (s *Scheduler) DisableJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobsByID[id]; !ok {
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}
	if _, already := s.disabledIDs[id]; already {
		return nil // already disabled
	}

	if err := s.cron.PauseEntryByName(id); err != nil {
		return fmt.Errorf("pause job: %w", err)
	}

	s.disabledIDs[id] = struct{}{}
	s.Logger.Info(fmt.Sprintf("Job disabled %q", id))
	return nil
}

// EnableJob resumes a previously disabled/paused job.
func (s *Scheduler) EnableJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, disabled := s.disabledIDs[id]; !disabled {
		return fmt.Errorf("%w: %q", ErrJobNotFound, id)
	}

	if err := s.cron.ResumeEntryByName(id); err != nil {
		return fmt.Errorf("resume job: %w", err)
	}

	delete(s.disabledIDs, id)
	s.Logger.Info(fmt.Sprintf("Job re-enabled %q", id))
	return nil
}

// IsRunning returns true if the scheduler is active.
// Delegates to go-cron's IsRunning() which is the authoritative source.
func (s *Scheduler) IsRunning() bool {
	return s.cron.IsRunning()
}

// IsJobRunning reports whether the job has any invocations currently in
// flight. Returns false if no job with the given id exists or the scheduler
// has no cron instance.
func (s *Scheduler) IsJobRunning(id string) bool {
	if s.cron == nil {
		return false
	}
	return s.cron.IsJobRunningByName(id)
}

// jobWrapper adapts a Job to cron.Job, enforcing the per-job instance cap and
// the misfire grace window before handing off to the middleware chain.
type jobWrapper struct {
	s       *Scheduler
	j       Job
	trigger string

	// guardHeld marks wrappers whose instance slot was acquired by the
	// manual-trigger path before the goroutine started.
	guardHeld bool
}

// Compile-time assertion: jobWrapper implements cron.JobWithContext.
var _ cron.JobWithContext = (*jobWrapper)(nil)

// Run implements cron.Job. Called by go-cron for jobs that don't support context.
func (w *jobWrapper) Run() {
	w.runWithCtx(context.Background())
}

// RunWithContext implements cron.JobWithContext. Called by go-cron with a
// per-entry context that is canceled when the entry is removed or replaced.
func (w *jobWrapper) RunWithContext(ctx context.Context) {
	w.runWithCtx(ctx)
}

func (w *jobWrapper) runWithCtx(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			w.s.Logger.Error("Job panicked", "job", w.j.GetName(), "recover", r)
		}
	}()

	g := w.s.guardFor(w.j.GetJobID())
	if !w.guardHeld {
		if !w.s.cron.IsRunning() {
			return
		}
		if w.misfired() {
			return
		}
		if !g.tryAcquire() {
			w.s.Logger.Warn("Skipping job run",
				"job", w.j.GetName(), "job_id", w.j.GetJobID(),
				"reason", "max instances reached", "limit", MaxInstancesPerJob)
			return
		}
	}
	defer g.release()

	e, err := NewExecution()
	if err != nil {
		w.s.Logger.Error(fmt.Sprintf("failed to create execution: %v", err))
		return
	}
	e.TriggerType = w.trigger

	// Ensure buffers are returned to pool when done
	defer e.Cleanup()

	jctx := NewContextWithContext(ctx, w.s, w.j, e)

	w.start(jctx)
	err = jctx.Next()
	w.stop(jctx, err)

	if w.s.onJobComplete != nil {
		success := err == nil && !jctx.Execution.Failed
		w.s.onJobComplete(w.j.GetName(), success)
	}
}

// misfired reports whether this fire started more than MisfireGraceTime after
// its scheduled instant. Only scheduled fires are checked; manual triggers
// have no scheduled instant.
func (w *jobWrapper) misfired() bool {
	entry := w.s.cron.EntryByName(w.j.GetJobID())
	if !entry.Valid() || entry.Prev.IsZero() {
		return false
	}
	late := w.s.clock.Now().Sub(entry.Prev)
	if late > MisfireGraceTime {
		w.s.Logger.Warn("Skipping misfired run",
			"job", w.j.GetName(), "job_id", w.j.GetJobID(),
			"late", late.String(), "grace", MisfireGraceTime.String())
		return true
	}
	return false
}

func (w *jobWrapper) start(ctx *Context) {
	ctx.Start()
	ctx.Log("Started - " + ctx.Job.GetTarget())
}

func (w *jobWrapper) stop(ctx *Context, err error) {
	ctx.Stop(err)

	if l, ok := ctx.Job.(interface{ SetLastRun(*Execution) }); ok {
		l.SetLastRun(ctx.Execution)
	}

	errText := "none"
	if ctx.Execution.Error != nil {
		errText = ctx.Execution.Error.Error()
	}

	if ctx.Execution.OutputStream != nil && ctx.Execution.OutputStream.TotalWritten() > 0 {
		ctx.Log("Response: " + ctx.Execution.OutputStream.String())
	}

	msg := fmt.Sprintf(
		"Finished in %q, failed: %t, skipped: %t, error: %s",
		ctx.Execution.Duration, ctx.Execution.Failed, ctx.Execution.Skipped, errText,
	)

	ctx.Log(msg)
}
