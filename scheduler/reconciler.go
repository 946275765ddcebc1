package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

// MaintenanceJobID is the reserved engine entry for the weekly end-date
// sweep. It has no backing row and orphan removal must leave it alone.
const MaintenanceJobID = "end_date_maintenance"

// ReconcileStats is the counter set produced by one reconcile pass and
// surfaced through the admin endpoint.
type ReconcileStats struct {
	DBJobsTotal       int       `json:"db_jobs_total"`
	DBJobsActive      int       `json:"db_jobs_active"`
	ScheduledNow      int       `json:"scheduled_now"`
	ScheduledAdded    int       `json:"scheduled_added"`
	ScheduledRemoved  int       `json:"scheduled_removed"`
	ExpiredAutoPaused int       `json:"expired_auto_paused"`
	OrphanedRemoved   int       `json:"orphaned_removed"`
	InvalidCron       int       `json:"invalid_cron"`
	RanAt             time.Time `json:"ran_at"`
}

// ReconcileOptions control the optional mutations of a pass. The defaults
// used by the periodic loop enable both.
type ReconcileOptions struct {
	RemoveOrphans    bool
	AutoPauseExpired bool
}

// Reconciler makes the trigger engine equal to the should-be-scheduled set
// derived from the store. Passes are idempotent and serialized, so the
// periodic loop and the admin resync cannot interleave.
type Reconciler struct {
	Store      *store.Store
	Scheduler  *core.Scheduler
	Dispatcher *Dispatcher
	Notifier   *Notifier
	Logger     core.Logger

	ReservedIDs map[string]struct{}

	mu sync.Mutex
}

func NewReconciler(st *store.Store, sh *core.Scheduler, d *Dispatcher, n *Notifier, logger core.Logger) *Reconciler {
	return &Reconciler{
		Store:      st,
		Scheduler:  sh,
		Dispatcher: d,
		Notifier:   n,
		Logger:     logger,
		ReservedIDs: map[string]struct{}{
			MaintenanceJobID: {},
		},
	}
}

// Reconcile runs one pass: auto-pause expired rows, schedule what should be
// scheduled, drop what should not be, then sweep engine-only orphans.
func (r *Reconciler) Reconcile(ctx context.Context, opts ReconcileOptions) (*ReconcileStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &ReconcileStats{}

	jobs, err := r.Store.ListJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	today := core.TodayIn(r.Dispatcher.Clock, r.Dispatcher.Location)
	rowIDs := make(map[string]struct{}, len(jobs))

	for _, row := range jobs {
		rowIDs[row.ID] = struct{}{}
		stats.DBJobsTotal++
		if row.IsActive {
			stats.DBJobsActive++
		}

		if opts.AutoPauseExpired && row.IsActive && core.DateBefore(row.EndDate, today) {
			if err := r.Store.SetJobActive(ctx, row.ID, false); err != nil {
				r.Logger.Errorf("auto-pause job %q: %v", row.ID, err)
			} else {
				row.IsActive = false
				stats.DBJobsActive--
				stats.ExpiredAutoPaused++
				r.Notifier.JobAutoPaused(ctx, row)
			}
		}

		shouldSchedule := row.IsActive && !core.DateBefore(row.EndDate, today)
		existing := r.Scheduler.GetAnyJob(row.ID)

		switch {
		case shouldSchedule:
			if changed, err := r.syncJob(row, existing, stats); err == nil && changed {
				stats.ScheduledAdded++
			}
		case existing != nil:
			if err := r.Scheduler.RemoveJob(existing); err != nil {
				r.Logger.Errorf("unschedule job %q: %v", row.ID, err)
			} else {
				stats.ScheduledRemoved++
			}
		}
	}

	if opts.RemoveOrphans {
		stats.OrphanedRemoved = r.removeOrphans(rowIDs)
	}

	stats.ScheduledNow = r.scheduledCount()
	stats.RanAt = r.Dispatcher.Clock.Now().UTC()
	return stats, nil
}

// syncJob registers or replaces one engine entry. The bool reports whether
// the engine was touched; a job whose signature is unchanged is left alone.
func (r *Reconciler) syncJob(row *store.Job, existing core.Job, stats *ReconcileStats) (bool, error) {
	if err := core.ValidateCronExpression(row.CronExpression); err != nil {
		stats.InvalidCron++
		r.Logger.Warningf("job %q has an invalid cron expression %q: %v", row.Name, row.CronExpression, err)
		return false, err
	}

	newJob, err := NewDispatchJob(row, r.Dispatcher)
	if err != nil {
		r.Logger.Errorf("building job %q: %v", row.ID, err)
		return false, err
	}

	if existing == nil {
		if err := r.Scheduler.AddJob(newJob); err != nil {
			r.Logger.Errorf("schedule job %q: %v", row.ID, err)
			return false, err
		}
		return true, nil
	}

	newHash, err1 := newJob.Hash()
	if err1 != nil {
		r.Logger.Errorf("hash calculation failed: %v", err1)
		return false, err1
	}
	oldHash, err2 := existing.Hash()
	if err2 != nil {
		r.Logger.Errorf("hash calculation failed: %v", err2)
		return false, err2
	}
	if newHash == oldHash {
		return false, nil
	}

	if err := r.Scheduler.UpdateJob(row.ID, row.CronExpression, newJob); err != nil {
		r.Logger.Errorf("reschedule job %q: %v", row.ID, err)
		return false, err
	}
	return true, nil
}

// SyncJobRow reconciles a single row against the engine. The API calls this
// right after a job write so the change takes effect without waiting for the
// next periodic pass. Returns false when the engine could not be brought in
// line (details are logged).
func (r *Reconciler) SyncJobRow(_ context.Context, row *store.Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	today := core.TodayIn(r.Dispatcher.Clock, r.Dispatcher.Location)
	shouldSchedule := row.IsActive && !core.DateBefore(row.EndDate, today)
	existing := r.Scheduler.GetAnyJob(row.ID)

	if !shouldSchedule {
		if existing == nil {
			return true
		}
		if err := r.Scheduler.RemoveJob(existing); err != nil {
			r.Logger.Errorf("unschedule job %q: %v", row.ID, err)
			return false
		}
		return true
	}

	stats := &ReconcileStats{}
	_, err := r.syncJob(row, existing, stats)
	return err == nil
}

// Unschedule removes a single engine entry by id, used by the API after a
// job deletion. Removing an id that is not scheduled is not an error.
func (r *Reconciler) Unschedule(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	j := r.Scheduler.GetAnyJob(id)
	if j == nil {
		return true
	}
	if err := r.Scheduler.RemoveJob(j); err != nil {
		r.Logger.Errorf("unschedule job %q: %v", id, err)
		return false
	}
	return true
}

// removeOrphans drops engine entries with no backing row, sparing reserved
// internal ids. Orphans appear when jobs are deleted while no leader runs.
func (r *Reconciler) removeOrphans(rowIDs map[string]struct{}) int {
	removed := 0
	for _, id := range r.Scheduler.EntryNames() {
		if _, ok := rowIDs[id]; ok {
			continue
		}
		if _, reserved := r.ReservedIDs[id]; reserved {
			continue
		}

		j := r.Scheduler.GetAnyJob(id)
		if j == nil {
			// Entry registered behind the scheduler's back; build a stub so
			// RemoveJob can clean up by id.
			stub := &core.BareJob{}
			stub.JobID = id
			stub.Name = id
			j = stub
		}
		r.Logger.Warningf("removing orphaned schedule %q: %v", id, core.ErrOrphanScheduled)
		if err := r.Scheduler.RemoveJob(j); err != nil {
			r.Logger.Errorf("remove orphaned schedule %q: %v", id, err)
			continue
		}
		removed++
	}
	return removed
}

// scheduledCount counts engine entries excluding reserved internal jobs.
func (r *Reconciler) scheduledCount() int {
	count := 0
	for _, id := range r.Scheduler.EntryNames() {
		if _, reserved := r.ReservedIDs[id]; reserved {
			continue
		}
		count++
	}
	return count
}
