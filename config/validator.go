// Package config holds the input validation shared by the HTTP API and the
// CLI: the job write payload, its validator rules, and unknown-key warnings
// for INI files.
package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

// ErrValidationFailed is returned when struct validation fails.
var ErrValidationFailed = errors.New("validation failed")

// payloadValidator is the package-level validator instance
var payloadValidator *validator.Validate

var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

func init() {
	payloadValidator = validator.New()

	// Register custom validators
	_ = payloadValidator.RegisterValidation("cron5", validateCron5)
	_ = payloadValidator.RegisterValidation("slug", validateSlug)
	_ = payloadValidator.RegisterValidation("isodate", validateISODate)
	payloadValidator.RegisterStructValidation(jobPayloadStructLevel, JobPayload{})
}

// JobPayload is the write model accepted by POST/PUT /api/jobs and by seed
// fixtures. Exactly one dispatch target must be set: target_url, or the full
// GitHub triple (owner, repo, workflow file).
type JobPayload struct {
	ID                 string            `json:"id" yaml:"id" validate:"omitempty,slug"`
	Name               string            `json:"name" yaml:"name" validate:"required,max=200"`
	CronExpression     string            `json:"cron_expression" yaml:"cron_expression" validate:"required,cron5"`
	IsActive           *bool             `json:"is_active" yaml:"is_active"`
	EndDate            string            `json:"end_date" yaml:"end_date" validate:"omitempty,isodate"`
	TargetURL          string            `json:"target_url" yaml:"target_url" validate:"omitempty,url"`
	GithubOwner        string            `json:"github_owner" yaml:"github_owner"`
	GithubRepo         string            `json:"github_repo" yaml:"github_repo"`
	GithubWorkflowName string            `json:"github_workflow_name" yaml:"github_workflow_name"`
	Metadata           map[string]string `json:"metadata" yaml:"metadata"`
	PicTeam            string            `json:"pic_team" yaml:"pic_team" validate:"omitempty,slug"`
	Category           string            `json:"category" yaml:"category" validate:"omitempty,slug"`
	CreatedBy          string            `json:"created_by" yaml:"created_by"`

	EnableEmailNotifications bool     `json:"enable_email_notifications" yaml:"enable_email_notifications"`
	NotifyOnSuccess          bool     `json:"notify_on_success" yaml:"notify_on_success"`
	NotificationEmails       []string `json:"notification_emails" yaml:"notification_emails" validate:"omitempty,dive,email"`
}

// Validate checks the payload against the registered rules.
func (p *JobPayload) Validate() error {
	return ValidateStruct(p)
}

// Job converts the validated payload into a store row. Fields the payload
// leaves unset keep their zero values; CreateJob assigns id and timestamps.
func (p *JobPayload) Job() *store.Job {
	active := true
	if p.IsActive != nil {
		active = *p.IsActive
	}
	return &store.Job{
		ID:                 p.ID,
		Name:               p.Name,
		CronExpression:     strings.TrimSpace(p.CronExpression),
		IsActive:           active,
		EndDate:            p.EndDate,
		TargetURL:          p.TargetURL,
		GithubOwner:        p.GithubOwner,
		GithubRepo:         p.GithubRepo,
		GithubWorkflowName: p.GithubWorkflowName,
		Metadata:           p.Metadata,
		PicTeam:            p.PicTeam,
		Category:           p.Category,
		CreatedBy:          p.CreatedBy,

		EnableEmailNotifications: p.EnableEmailNotifications,
		NotifyOnSuccess:          p.NotifyOnSuccess,
		NotificationEmails:       p.NotificationEmails,
	}
}

// ApplyTo overwrites the mutable columns of an existing row with the payload
// values, preserving id, creator and timestamps.
func (p *JobPayload) ApplyTo(j *store.Job) {
	j.Name = p.Name
	j.CronExpression = strings.TrimSpace(p.CronExpression)
	if p.IsActive != nil {
		j.IsActive = *p.IsActive
	}
	j.EndDate = p.EndDate
	j.TargetURL = p.TargetURL
	j.GithubOwner = p.GithubOwner
	j.GithubRepo = p.GithubRepo
	j.GithubWorkflowName = p.GithubWorkflowName
	j.Metadata = p.Metadata
	j.PicTeam = p.PicTeam
	if p.Category != "" {
		j.Category = p.Category
	}
	j.EnableEmailNotifications = p.EnableEmailNotifications
	j.NotifyOnSuccess = p.NotifyOnSuccess
	j.NotificationEmails = p.NotificationEmails
}

// ValidateStruct validates a struct using its validate tags.
func ValidateStruct(v interface{}) error {
	err := payloadValidator.Struct(v)
	if err == nil {
		return nil
	}

	// Convert validation errors to user-friendly format
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	messages := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		messages = append(messages, formatValidationError(e))
	}

	return fmt.Errorf("%w:\n  %s", ErrValidationFailed, strings.Join(messages, "\n  "))
}

// formatValidationError formats a single validation error for display
func formatValidationError(e validator.FieldError) string {
	field := e.Field()
	tag := e.Tag()
	param := e.Param()
	value := e.Value()

	switch tag {
	case "required":
		return fmt.Sprintf("%s: required field is empty", field)
	case "gte":
		return fmt.Sprintf("%s: must be >= %s (got: %v)", field, param, value)
	case "lte":
		return fmt.Sprintf("%s: must be <= %s (got: %v)", field, param, value)
	case "min":
		return fmt.Sprintf("%s: must be at least %s characters (got: %v)", field, param, value)
	case "max":
		return fmt.Sprintf("%s: must be at most %s characters (got: %v)", field, param, value)
	case "oneof":
		return fmt.Sprintf("%s: must be one of [%s] (got: %v)", field, param, value)
	case "url":
		return fmt.Sprintf("%s: must be a valid URL (got: %v)", field, value)
	case "email":
		return fmt.Sprintf("%s: must be a valid email (got: %v)", field, value)
	case "cron5":
		return fmt.Sprintf("%s: must be a 5-field cron expression (got: %v)", field, value)
	case "slug":
		return fmt.Sprintf("%s: must be lowercase letters, digits, '-' or '_' (got: %v)", field, value)
	case "isodate":
		return fmt.Sprintf("%s: must be a YYYY-MM-DD date (got: %v)", field, value)
	case "target":
		return fmt.Sprintf("%s: %s", field, param)
	default:
		return fmt.Sprintf("%s: validation '%s' failed (got: %v)", field, tag, value)
	}
}

// validateCron5 accepts strict 5-field cron expressions only. Predefined
// schedules (@daily, @every ...) are rejected on purpose: stored jobs use
// plain minute-hour-dom-month-dow syntax.
func validateCron5(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Empty is valid (required check handles this)
	}
	return core.ValidateCronExpression(value) == nil
}

// validateSlug accepts lowercase identifiers such as job ids and team slugs.
func validateSlug(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return slugRegex.MatchString(value)
}

// validateISODate accepts calendar dates in the store's YYYY-MM-DD format.
func validateISODate(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	_, err := core.ParseDate(value)
	return err == nil
}

// jobPayloadStructLevel enforces the dispatch-target rule: a job is either a
// webhook (target_url) or a GitHub workflow dispatch (owner+repo+workflow),
// never both and never neither. A partial GitHub triple is reported on each
// missing field.
func jobPayloadStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(JobPayload)

	hasURL := p.TargetURL != ""
	githubFields := 0
	for _, f := range []string{p.GithubOwner, p.GithubRepo, p.GithubWorkflowName} {
		if f != "" {
			githubFields++
		}
	}

	switch {
	case hasURL && githubFields > 0:
		sl.ReportError(p.TargetURL, "target_url", "TargetURL", "target",
			"cannot combine a webhook URL with a GitHub target")
	case !hasURL && githubFields == 0:
		sl.ReportError(p.TargetURL, "target_url", "TargetURL", "target",
			"either target_url or the GitHub owner/repo/workflow triple is required")
	case !hasURL && githubFields < 3:
		if p.GithubOwner == "" {
			sl.ReportError(p.GithubOwner, "github_owner", "GithubOwner", "target",
				"incomplete GitHub target: github_owner is required")
		}
		if p.GithubRepo == "" {
			sl.ReportError(p.GithubRepo, "github_repo", "GithubRepo", "target",
				"incomplete GitHub target: github_repo is required")
		}
		if p.GithubWorkflowName == "" {
			sl.ReportError(p.GithubWorkflowName, "github_workflow_name", "GithubWorkflowName", "target",
				"incomplete GitHub target: github_workflow_name is required")
		}
	}
}
