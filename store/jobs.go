package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const jobColumns = `id, name, cron_expression, is_active, end_date, target_url,
	github_owner, github_repo, github_workflow_name, metadata, pic_team, category,
	created_by, enable_email_notifications, notify_on_success, notification_emails,
	created_at, updated_at`

// CreateJob inserts a job row, assigning an id and timestamps when unset.
func (s *Store) CreateJob(ctx context.Context, j *Job) error {
	if j.ID == "" {
		j.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	j.UpdatedAt = now
	if j.Category == "" {
		j.Category = ReservedCategorySlug
	}

	meta, emails, err := marshalJobJSON(j)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Name, j.CronExpression, boolToInt(j.IsActive), nullStr(j.EndDate), nullStr(j.TargetURL),
		nullStr(j.GithubOwner), nullStr(j.GithubRepo), nullStr(j.GithubWorkflowName), meta, nullStr(j.PicTeam), j.Category,
		nullStr(j.CreatedBy), boolToInt(j.EnableEmailNotifications), boolToInt(j.NotifyOnSuccess), emails,
		j.CreatedAt, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job %q: %w", j.Name, err)
	}
	return nil
}

// GetJob fetches a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// GetJobByName fetches a job by its unique name.
func (s *Store) GetJobByName(ctx context.Context, name string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE name = ?`, name)
	return scanJob(row)
}

// ListJobs returns every job ordered by name.
func (s *Store) ListJobs(ctx context.Context) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob rewrites all mutable columns and bumps updated_at.
func (s *Store) UpdateJob(ctx context.Context, j *Job) error {
	j.UpdatedAt = time.Now().UTC()

	meta, emails, err := marshalJobJSON(j)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET
		name = ?, cron_expression = ?, is_active = ?, end_date = ?, target_url = ?,
		github_owner = ?, github_repo = ?, github_workflow_name = ?, metadata = ?, pic_team = ?, category = ?,
		enable_email_notifications = ?, notify_on_success = ?, notification_emails = ?, updated_at = ?
		WHERE id = ?`,
		j.Name, j.CronExpression, boolToInt(j.IsActive), nullStr(j.EndDate), nullStr(j.TargetURL),
		nullStr(j.GithubOwner), nullStr(j.GithubRepo), nullStr(j.GithubWorkflowName), meta, nullStr(j.PicTeam), j.Category,
		boolToInt(j.EnableEmailNotifications), boolToInt(j.NotifyOnSuccess), emails, j.UpdatedAt,
		j.ID)
	if err != nil {
		return fmt.Errorf("update job %q: %w", j.ID, err)
	}
	return requireRow(res, j.ID)
}

// SetJobActive flips is_active; used by auto-pause and the API toggle.
func (s *Store) SetJobActive(ctx context.Context, id string, active bool) error {
	return setJobActive(ctx, s.db, id, active)
}

// SetJobActiveTx is SetJobActive inside a caller-owned transaction, so the
// weekly maintenance sweep can pause jobs and write notifications atomically.
func (s *Store) SetJobActiveTx(ctx context.Context, tx *sql.Tx, id string, active bool) error {
	return setJobActive(ctx, tx, id, active)
}

func setJobActive(ctx context.Context, e execer, id string, active bool) error {
	res, err := e.ExecContext(ctx,
		`UPDATE jobs SET is_active = ?, updated_at = ? WHERE id = ?`,
		boolToInt(active), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set job %q active=%v: %w", id, active, err)
	}
	return requireRow(res, id)
}

// DeleteJob removes a job; executions cascade via the foreign key.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete job %q: %w", id, err)
	}
	return requireRow(res, id)
}

// CountJobs returns total and active row counts in one query.
func (s *Store) CountJobs(ctx context.Context) (total, active int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(is_active), 0) FROM jobs`).Scan(&total, &active)
	if err != nil {
		return 0, 0, fmt.Errorf("count jobs: %w", err)
	}
	return total, active, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var isActive, emailNotif, notifySuccess int
	var endDate, targetURL, owner, repo, wf, picTeam, createdBy sql.NullString
	var meta, emails string

	err := row.Scan(&j.ID, &j.Name, &j.CronExpression, &isActive, &endDate, &targetURL,
		&owner, &repo, &wf, &meta, &picTeam, &j.Category,
		&createdBy, &emailNotif, &notifySuccess, &emails,
		&j.CreatedAt, &j.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}

	j.IsActive = isActive != 0
	j.EnableEmailNotifications = emailNotif != 0
	j.NotifyOnSuccess = notifySuccess != 0
	j.EndDate = strOrEmpty(endDate)
	j.TargetURL = strOrEmpty(targetURL)
	j.GithubOwner = strOrEmpty(owner)
	j.GithubRepo = strOrEmpty(repo)
	j.GithubWorkflowName = strOrEmpty(wf)
	j.PicTeam = strOrEmpty(picTeam)
	j.CreatedBy = strOrEmpty(createdBy)

	if meta != "" {
		if err := json.Unmarshal([]byte(meta), &j.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for job %q: %w", j.ID, err)
		}
	}
	if emails != "" {
		if err := json.Unmarshal([]byte(emails), &j.NotificationEmails); err != nil {
			return nil, fmt.Errorf("decode notification emails for job %q: %w", j.ID, err)
		}
	}
	return &j, nil
}

func marshalJobJSON(j *Job) (meta, emails string, err error) {
	m := j.Metadata
	if m == nil {
		m = map[string]string{}
	}
	rawMeta, err := json.Marshal(m)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}

	e := j.NotificationEmails
	if e == nil {
		e = []string{}
	}
	rawEmails, err := json.Marshal(e)
	if err != nil {
		return "", "", fmt.Errorf("encode notification emails: %w", err)
	}
	return string(rawMeta), string(rawEmails), nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %q: %w", id, ErrNotFound)
	}
	return nil
}
