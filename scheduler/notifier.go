package scheduler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

// SlackTimeout bounds the webhook POST to Slack.
const SlackTimeout = 10 * time.Second

// Notifier writes in-app notification rows and posts best-effort Slack
// messages. Job completed/failed announcements broadcast to every active
// user; auto-pause and ending-soon warnings target the creator plus active
// admins.
type Notifier struct {
	Store  *store.Store
	Logger core.Logger
	Client *http.Client

	// FrontendBaseURL renders deep links into Slack messages.
	FrontendBaseURL string
}

func NewNotifier(st *store.Store, logger core.Logger, frontendBaseURL string) *Notifier {
	return &Notifier{
		Store:           st,
		Logger:          logger,
		Client:          &http.Client{Timeout: SlackTimeout},
		FrontendBaseURL: frontendBaseURL,
	}
}

// Broadcast creates one notification row per active user. Failures are
// logged and never propagate; a notification must not change a dispatch
// outcome.
func (n *Notifier) Broadcast(ctx context.Context, title, message, typ, relatedJobID, relatedExecID string) int {
	userIDs, err := n.Store.ListActiveUserIDs(ctx)
	if err != nil {
		n.Logger.Errorf("broadcast %q: listing users: %v", title, err)
		return 0
	}
	return n.NotifyUsers(ctx, userIDs, title, message, typ, relatedJobID, relatedExecID)
}

// NotifyUsers creates one notification row per given user id, returning how
// many rows were written.
func (n *Notifier) NotifyUsers(ctx context.Context, userIDs []string, title, message, typ, relatedJobID, relatedExecID string) int {
	created := 0
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		err := n.Store.CreateNotification(ctx, &store.Notification{
			UserID:             uid,
			Title:              title,
			Message:            message,
			Type:               typ,
			RelatedJobID:       relatedJobID,
			RelatedExecutionID: relatedExecID,
		})
		if err != nil {
			n.Logger.Errorf("notification %q for user %q: %v", title, uid, err)
			continue
		}
		created++
	}
	return created
}

// NotifyUsersTx writes one notification row per user inside a caller-owned
// transaction. Unlike NotifyUsers it fails fast, so an insert error aborts
// the surrounding transaction instead of being swallowed.
func (n *Notifier) NotifyUsersTx(ctx context.Context, tx *sql.Tx, userIDs []string, title, message, typ, relatedJobID, relatedExecID string) (int, error) {
	created := 0
	for _, uid := range userIDs {
		if uid == "" {
			continue
		}
		err := n.Store.CreateNotificationTx(ctx, tx, &store.Notification{
			UserID:             uid,
			Title:              title,
			Message:            message,
			Type:               typ,
			RelatedJobID:       relatedJobID,
			RelatedExecutionID: relatedExecID,
		})
		if err != nil {
			return created, fmt.Errorf("notification %q for user %q: %w", title, uid, err)
		}
		created++
	}
	return created, nil
}

// TargetedRecipients resolves the audience for job lifecycle warnings: the
// creator plus every active admin, deduplicated.
func (n *Notifier) TargetedRecipients(ctx context.Context, createdBy string) []string {
	admins, err := n.Store.ListActiveAdminIDs(ctx)
	if err != nil {
		n.Logger.Errorf("listing admins: %v", err)
	}

	seen := make(map[string]struct{}, len(admins)+1)
	var ids []string
	if createdBy != "" {
		seen[createdBy] = struct{}{}
		ids = append(ids, createdBy)
	}
	for _, id := range admins {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// JobCompleted broadcasts a success announcement for a finished dispatch.
func (n *Notifier) JobCompleted(ctx context.Context, jobID, jobName, execID string) {
	msg := fmt.Sprintf("Job %q completed successfully.", jobName)
	n.Broadcast(ctx, "Job Completed", msg, store.NotificationSuccess, jobID, execID)
}

// JobFailed broadcasts a failure announcement with the dispatch error.
func (n *Notifier) JobFailed(ctx context.Context, jobID, jobName, execID, errMsg string) {
	msg := fmt.Sprintf("Job %q failed: %s", jobName, errMsg)
	n.Broadcast(ctx, "Job Failed", msg, store.NotificationError, jobID, execID)
}

// JobAutoPaused warns the creator and active admins that a job was paused
// because its end date passed, and posts a single Slack message mentioning
// the job's team handle.
func (n *Notifier) JobAutoPaused(ctx context.Context, row *store.Job) {
	msg := fmt.Sprintf("Job %q is past its end date (%s) and has been paused.", row.Name, row.EndDate)
	n.NotifyUsers(ctx, n.TargetedRecipients(ctx, row.CreatedBy),
		"Job auto-paused (end date passed)", msg, store.NotificationWarning, row.ID, "")
	n.SlackAutoPaused(ctx, row)
}

// SlackAutoPaused posts the auto-pause announcement for one job, mentioning
// its team handle and a frontend deep link when available.
func (n *Notifier) SlackAutoPaused(ctx context.Context, row *store.Job) {
	text := fmt.Sprintf("Job %q was auto-paused: end date %s has passed.", row.Name, row.EndDate)
	n.PostSlack(ctx, n.decorate(ctx, text, row))
}

// SlackEndingSoon posts the weekly reminder for a job approaching its end
// date.
func (n *Notifier) SlackEndingSoon(ctx context.Context, row *store.Job, daysLeft int) {
	text := fmt.Sprintf("Reminder: job %q reaches its end date %s (%dd).", row.Name, row.EndDate, daysLeft)
	n.PostSlack(ctx, n.decorate(ctx, text, row))
}

// decorate appends the team handle and job link to a Slack message.
func (n *Notifier) decorate(ctx context.Context, text string, row *store.Job) string {
	if handle := n.teamHandle(ctx, row.PicTeam); handle != "" {
		text += " " + handle
	}
	if link := n.jobLink(row.ID); link != "" {
		text += " " + link
	}
	return text
}

// teamHandle resolves a team slug to its Slack handle, falling back to the
// slug itself when no handle is configured.
func (n *Notifier) teamHandle(ctx context.Context, slug string) string {
	if slug == "" {
		return ""
	}
	team, err := n.Store.GetTeam(ctx, slug)
	if err != nil {
		n.Logger.Debugf("resolving team %q: %v", slug, err)
		return slug
	}
	if team.SlackHandle != "" {
		return team.SlackHandle
	}
	return team.Slug
}

func (n *Notifier) jobLink(jobID string) string {
	if n.FrontendBaseURL == "" {
		return ""
	}
	return n.FrontendBaseURL + "/jobs/" + jobID
}

type slackPayload struct {
	Text    string `json:"text"`
	Channel string `json:"channel,omitempty"`
}

// PostSlack sends one message through the configured incoming webhook.
// Returns false (after logging) when Slack is disabled, the URL is invalid,
// the POST errors or the response is non-2xx. Callers treat the result as
// best-effort only.
func (n *Notifier) PostSlack(ctx context.Context, text string) bool {
	cfg, err := n.Store.GetSlackSettings(ctx)
	if err != nil {
		n.Logger.Errorf("Slack settings: %v", err)
		return false
	}
	if !cfg.IsEnabled {
		return false
	}

	u, err := url.Parse(cfg.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		n.Logger.Errorf("Slack webhook URL is invalid: %q", cfg.WebhookURL)
		return false
	}

	body, err := json.Marshal(slackPayload{Text: text, Channel: cfg.Channel})
	if err != nil {
		n.Logger.Errorf("Slack payload: %v", err)
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, SlackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		n.Logger.Errorf("Slack request build error: %q", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: SlackTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		n.Logger.Errorf("Slack error calling %q error: %q", cfg.WebhookURL, err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		n.Logger.Errorf("Slack error non-2xx status code %d calling %q", resp.StatusCode, cfg.WebhookURL)
		return false
	}
	return true
}
