package store

import "time"

// Execution status values.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Notification type values.
const (
	NotificationInfo    = "info"
	NotificationSuccess = "success"
	NotificationWarning = "warning"
	NotificationError   = "error"
)

// Job is a stored cron job. EndDate is a calendar date (YYYY-MM-DD) compared
// in the scheduler timezone; empty means the job never expires. Either
// TargetURL is set or the GitHub triple is fully set, never both, never a
// partial triple.
type Job struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	CronExpression     string            `json:"cron_expression"`
	IsActive           bool              `json:"is_active"`
	EndDate            string            `json:"end_date,omitempty"`
	TargetURL          string            `json:"target_url,omitempty"`
	GithubOwner        string            `json:"github_owner,omitempty"`
	GithubRepo         string            `json:"github_repo,omitempty"`
	GithubWorkflowName string            `json:"github_workflow_name,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	PicTeam            string            `json:"pic_team,omitempty"`
	Category           string            `json:"category"`
	CreatedBy          string            `json:"created_by,omitempty"`

	EnableEmailNotifications bool     `json:"enable_email_notifications"`
	NotifyOnSuccess          bool     `json:"notify_on_success"`
	NotificationEmails       []string `json:"notification_emails,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasGithubTarget reports whether the GitHub triple is fully set.
func (j *Job) HasGithubTarget() bool {
	return j.GithubOwner != "" && j.GithubRepo != "" && j.GithubWorkflowName != ""
}

// Target returns the human-readable dispatch endpoint.
func (j *Job) Target() string {
	if j.HasGithubTarget() {
		return j.GithubOwner + "/" + j.GithubRepo + "/" + j.GithubWorkflowName
	}
	return j.TargetURL
}

// Execution is one dispatch attempt of a job. Status is "running" until
// CompletedAt is set, then exactly one of "success" or "failed".
type Execution struct {
	ID              string     `json:"id"`
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	TriggerType     string     `json:"trigger_type"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds *float64   `json:"duration_seconds,omitempty"`
	ExecutionType   string     `json:"execution_type,omitempty"`
	Target          string     `json:"target,omitempty"`
	ResponseStatus  *int       `json:"response_status,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Output          string     `json:"output,omitempty"`
}

// Notification is an in-app message for one user. Related ids are weak
// references; they survive job deletion and may resolve to nothing.
type Notification struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Title              string     `json:"title"`
	Message            string     `json:"message"`
	Type               string     `json:"type"`
	IsRead             bool       `json:"is_read"`
	ReadAt             *time.Time `json:"read_at,omitempty"`
	RelatedJobID       string     `json:"related_job_id,omitempty"`
	RelatedExecutionID string     `json:"related_execution_id,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Team is a PIC (person-in-charge) team jobs are assigned to.
type Team struct {
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	SlackHandle string `json:"slack_handle,omitempty"`
	IsActive    bool   `json:"is_active"`
}

// Category groups jobs for the UI. The "general" slug is reserved.
type Category struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	IsActive bool   `json:"is_active"`
}

// User is a minimal account row; the scheduler only needs it to resolve
// notification recipients.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// SlackSettings is the singleton Slack webhook configuration.
type SlackSettings struct {
	IsEnabled  bool   `json:"is_enabled"`
	WebhookURL string `json:"webhook_url,omitempty"`
	Channel    string `json:"channel,omitempty"`
}
