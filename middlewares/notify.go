package middlewares

import (
	"context"

	"github.com/netresearch/cronhook/core"
)

// NotificationSink receives job lifecycle announcements. The scheduler
// runtime's notifier implements it; the indirection keeps this package free
// of a store dependency.
type NotificationSink interface {
	JobCompleted(ctx context.Context, jobID, jobName, execID string)
	JobFailed(ctx context.Context, jobID, jobName, execID, errMsg string)
}

// NewNotify returns a middleware announcing finished dispatches, or nil when
// no sink is configured.
func NewNotify(sink NotificationSink) core.Middleware {
	if sink == nil {
		return nil
	}
	return &Notify{sink: sink}
}

// Notify announces every finished dispatch through the sink. Skipped
// executions and runs that never persisted an execution row (internal jobs,
// end-date guard exits) announce nothing.
type Notify struct {
	sink NotificationSink
}

// ContinueOnStop always returns true; the final status is what gets announced.
func (m *Notify) ContinueOnStop() bool {
	return true
}

func (m *Notify) Run(ctx *core.Context) error {
	err := ctx.Next()
	ctx.Stop(err)

	e := ctx.Execution
	if e.Skipped || e.RowID == "" {
		return err
	}

	jobID := ctx.Job.GetJobID()
	name := ctx.Job.GetName()
	if e.Failed {
		msg := "dispatch failed"
		if e.Error != nil {
			msg = e.Error.Error()
		}
		m.sink.JobFailed(ctx.Ctx, jobID, name, e.RowID, msg)
		return err
	}
	m.sink.JobCompleted(ctx.Ctx, jobID, name, e.RowID)
	return err
}
