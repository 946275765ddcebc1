package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/netresearch/cronhook/core"
)

const executionColumns = `id, job_id, status, trigger_type, started_at, completed_at,
	duration_seconds, execution_type, target, response_status, error_message, output`

// CreateExecution inserts a running row for a fresh dispatch attempt.
func (s *Store) CreateExecution(ctx context.Context, jobID, triggerType string, startedAt time.Time) (*Execution, error) {
	e := &Execution{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Status:      StatusRunning,
		TriggerType: triggerType,
		StartedAt:   startedAt.UTC(),
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO job_executions
		(id, job_id, status, trigger_type, started_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.JobID, e.Status, e.TriggerType, e.StartedAt)
	if err != nil {
		return nil, fmt.Errorf("insert execution for job %q: %w", jobID, err)
	}
	return e, nil
}

// SetExecutionTarget records the selected dispatch mode before the HTTP call
// goes out, so even a crashed process leaves the mode visible.
func (s *Store) SetExecutionTarget(ctx context.Context, id, executionType, target string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE job_executions SET execution_type = ?, target = ? WHERE id = ?`,
		executionType, target, id)
	if err != nil {
		return fmt.Errorf("set execution %q target: %w", id, err)
	}
	return nil
}

// ExecutionOutcome carries the terminal fields of a dispatch attempt.
type ExecutionOutcome struct {
	Status          string
	CompletedAt     time.Time
	DurationSeconds float64
	ResponseStatus  *int
	ErrorMessage    string
	Output          string
}

// CompleteExecution transitions a running row to success or failed. Output is
// truncated to the persisted cap.
func (s *Store) CompleteExecution(ctx context.Context, id string, out ExecutionOutcome) error {
	output := out.Output
	if len(output) > core.OutputLimit {
		output = output[:core.OutputLimit]
	}

	var respStatus sql.NullInt64
	if out.ResponseStatus != nil {
		respStatus = sql.NullInt64{Int64: int64(*out.ResponseStatus), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `UPDATE job_executions SET
		status = ?, completed_at = ?, duration_seconds = ?, response_status = ?, error_message = ?, output = ?
		WHERE id = ?`,
		out.Status, out.CompletedAt.UTC(), out.DurationSeconds, respStatus, nullStr(out.ErrorMessage), nullStr(output),
		id)
	if err != nil {
		return fmt.Errorf("complete execution %q: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("execution %q: %w", id, ErrNotFound)
	}
	return nil
}

// GetExecution fetches one execution row.
func (s *Store) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+executionColumns+` FROM job_executions WHERE id = ?`, id)
	return scanExecution(row)
}

// ListExecutionsByJob returns the most recent executions of one job.
func (s *Store) ListExecutionsByJob(ctx context.Context, jobID string, limit int) ([]*Execution, error) {
	return s.listExecutions(ctx,
		`SELECT `+executionColumns+` FROM job_executions WHERE job_id = ? ORDER BY started_at DESC LIMIT ?`,
		jobID, clampLimit(limit))
}

// ListRecentExecutions returns the most recent executions across all jobs.
func (s *Store) ListRecentExecutions(ctx context.Context, limit int) ([]*Execution, error) {
	return s.listExecutions(ctx,
		`SELECT `+executionColumns+` FROM job_executions ORDER BY started_at DESC LIMIT ?`,
		clampLimit(limit))
}

// FailStaleRunning marks rows stuck in "running" as failed with the given
// message. The leader calls it once on boot so rows orphaned by a crash or
// restart never stay visible as running.
func (s *Store) FailStaleRunning(ctx context.Context, message string) (int, error) {
	now := time.Now().UTC()

	var failed int
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx,
			`SELECT id, started_at FROM job_executions WHERE status = ?`, StatusRunning)
		if err != nil {
			return fmt.Errorf("select running executions: %w", err)
		}
		defer rows.Close()

		type stale struct {
			id        string
			startedAt time.Time
		}
		var stales []stale
		for rows.Next() {
			var st stale
			if err := rows.Scan(&st.id, &st.startedAt); err != nil {
				return fmt.Errorf("scan running execution: %w", err)
			}
			stales = append(stales, st)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("select running executions: %w", err)
		}

		for _, st := range stales {
			dur := now.Sub(st.startedAt).Seconds()
			if dur < 0 {
				dur = 0
			}
			if _, err := tx.ExecContext(ctx, `UPDATE job_executions SET
				status = ?, completed_at = ?, duration_seconds = ?, error_message = ?
				WHERE id = ?`,
				StatusFailed, now, dur, message, st.id); err != nil {
				return fmt.Errorf("fail stale execution %q: %w", st.id, err)
			}
			failed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return failed, nil
}

func (s *Store) listExecutions(ctx context.Context, query string, args ...any) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		execs = append(execs, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

func scanExecution(row rowScanner) (*Execution, error) {
	var e Execution
	var completedAt sql.NullTime
	var duration sql.NullFloat64
	var execType, target, errMsg, output sql.NullString
	var respStatus sql.NullInt64

	err := row.Scan(&e.ID, &e.JobID, &e.Status, &e.TriggerType, &e.StartedAt, &completedAt,
		&duration, &execType, &target, &respStatus, &errMsg, &output)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.CompletedAt = timePtr(completedAt)
	if duration.Valid {
		d := duration.Float64
		e.DurationSeconds = &d
	}
	if respStatus.Valid {
		rs := int(respStatus.Int64)
		e.ResponseStatus = &rs
	}
	e.ExecutionType = strOrEmpty(execType)
	e.Target = strOrEmpty(target)
	e.ErrorMessage = strOrEmpty(errMsg)
	e.Output = strOrEmpty(output)
	return &e, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 500 {
		return 500
	}
	return limit
}
