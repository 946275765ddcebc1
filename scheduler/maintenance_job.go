package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

// MaintenanceSchedule fires the end-date sweep every Monday at 09:00 in the
// scheduler timezone.
const MaintenanceSchedule = "0 9 * * mon"

// EndingSoonWindowDays is how far ahead the sweep warns about jobs whose end
// date is approaching.
const EndingSoonWindowDays = 30

// MaintenanceJob is the reserved weekly task registered by the leader. It
// pauses jobs whose end date has passed and warns the creator and admins
// about jobs ending within the next 30 days. It has no backing store row,
// which is why orphan removal spares its id.
type MaintenanceJob struct {
	core.BareJob

	store    *store.Store
	notifier *Notifier
	clock    core.Clock
	loc      *time.Location
	logger   core.Logger
}

func NewMaintenanceJob(st *store.Store, n *Notifier, clock core.Clock, loc *time.Location, logger core.Logger) *MaintenanceJob {
	m := &MaintenanceJob{
		store:    st,
		notifier: n,
		clock:    clock,
		loc:      loc,
		logger:   logger,
	}
	m.JobID = MaintenanceJobID
	m.Name = "End-date maintenance"
	m.Schedule = MaintenanceSchedule
	return m
}

func (m *MaintenanceJob) GetTarget() string {
	return "end-date sweep"
}

type endingSoonJob struct {
	row      *store.Job
	daysLeft int
}

// Run performs one sweep. All database mutations (pauses plus notification
// rows) commit in a single transaction; Slack posts happen after commit and
// are best-effort.
func (m *MaintenanceJob) Run(ctx *core.Context) error {
	today := core.TodayIn(m.clock, m.loc)
	cutoff := today.AddDate(0, 0, EndingSoonWindowDays)

	jobs, err := m.store.ListJobs(ctx.Ctx)
	if err != nil {
		return fmt.Errorf("end-date maintenance: %w", err)
	}

	var expired []*store.Job
	var endingSoon []endingSoonJob
	for _, row := range jobs {
		if !row.IsActive || row.EndDate == "" {
			continue
		}
		end, err := core.ParseDate(row.EndDate)
		if err != nil {
			m.logger.Warningf("job %q has a malformed end date %q: %v", row.Name, row.EndDate, err)
			continue
		}
		switch {
		case end.Before(today):
			expired = append(expired, row)
		case !end.After(cutoff):
			days := int(end.Sub(today).Hours() / 24)
			endingSoon = append(endingSoon, endingSoonJob{row: row, daysLeft: days})
		}
	}

	notified := 0
	err = m.store.WithTx(ctx.Ctx, func(tx *sql.Tx) error {
		for _, row := range expired {
			if err := m.store.SetJobActiveTx(ctx.Ctx, tx, row.ID, false); err != nil {
				return err
			}
			msg := fmt.Sprintf("Job %q is past its end date (%s) and has been paused.", row.Name, row.EndDate)
			n, err := m.notifier.NotifyUsersTx(ctx.Ctx, tx, m.notifier.TargetedRecipients(ctx.Ctx, row.CreatedBy),
				"Job auto-paused (end date passed)", msg, store.NotificationWarning, row.ID, "")
			if err != nil {
				return err
			}
			notified += n
		}
		for _, e := range endingSoon {
			msg := fmt.Sprintf("Job %q will stop running after %s (%d days left). Team: %s.",
				e.row.Name, e.row.EndDate, e.daysLeft, m.teamName(ctx.Ctx, e.row.PicTeam))
			n, err := m.notifier.NotifyUsersTx(ctx.Ctx, tx, m.notifier.TargetedRecipients(ctx.Ctx, e.row.CreatedBy),
				"Job ending soon", msg, store.NotificationWarning, e.row.ID, "")
			if err != nil {
				return err
			}
			notified += n
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("end-date maintenance: %w", err)
	}

	for _, row := range expired {
		m.notifier.SlackAutoPaused(ctx.Ctx, row)
	}
	for _, e := range endingSoon {
		m.notifier.SlackEndingSoon(ctx.Ctx, e.row, e.daysLeft)
	}

	m.logger.Noticef("End-date maintenance finished: paused_expired_jobs=%d, ending_soon_jobs=%d, notifications_created=%d",
		len(expired), len(endingSoon), notified)
	return nil
}

// teamName resolves a slug to the team's display name, falling back to the
// slug itself.
func (m *MaintenanceJob) teamName(ctx context.Context, slug string) string {
	if slug == "" {
		return "unassigned"
	}
	t, err := m.store.GetTeam(ctx, slug)
	if err != nil || t == nil || t.Name == "" {
		return slug
	}
	return t.Name
}

var _ core.Job = (*MaintenanceJob)(nil)
