// Package scheduler glues the trigger engine to the job store: it owns the
// leader lock, builds dispatch jobs from stored rows, reconciles the engine
// against the store and fires webhook and GitHub Actions dispatches.
package scheduler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

const (
	// DispatchTimeout bounds every outbound webhook and GitHub call.
	DispatchTimeout = 10 * time.Second

	// DefaultBranch is used when metadata carries no branchDetails key.
	DefaultBranch = "master"

	githubAPIBase     = "https://api.github.com"
	branchMetadataKey = "branchDetails"
)

// Dispatcher bundles the collaborators every dispatch job shares. One
// instance is built by the runtime and referenced by all jobs it schedules.
type Dispatcher struct {
	Store    *store.Store
	Notifier *Notifier
	Client   *http.Client
	Clock    core.Clock
	Location *time.Location

	// FallbackGithubToken backs scheduled GitHub dispatches that carry no
	// one-shot token.
	FallbackGithubToken string

	// GithubBaseURL is overridable in tests; empty means api.github.com.
	GithubBaseURL string
}

// NewDispatchClient builds the shared outbound HTTP client. GitHub API
// redirects are not followed, so the bearer token never travels to a
// redirect target.
func NewDispatchClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 0 && via[0].URL.Host == "api.github.com" {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func (d *Dispatcher) githubBase() string {
	if d.GithubBaseURL != "" {
		return d.GithubBaseURL
	}
	return githubAPIBase
}

// DispatchJob fires one stored job: a webhook POST/GET or a GitHub Actions
// workflow dispatch. All dispatch fields are a snapshot of the row taken at
// build time; only the end-date guard re-reads the store.
type DispatchJob struct {
	core.BareJob

	TargetURL          string `hash:"true"`
	GithubOwner        string `hash:"true"`
	GithubRepo         string `hash:"true"`
	GithubWorkflowName string `hash:"true"`

	// MetadataJSON is the canonical encoding of the metadata object; it
	// participates in the change signature while the decoded map feeds the
	// dispatch body.
	MetadataJSON string `hash:"true"`
	Metadata     map[string]string

	IsActive bool   `hash:"true"`
	EndDate  string `hash:"true"`

	EnableEmailNotifications bool     `hash:"true"`
	NotifyOnSuccess          bool     `hash:"true"`
	NotificationEmails       []string `hash:"true"`

	// UpdatedAt pins the signature to the row revision.
	UpdatedAt string `hash:"true"`

	// GithubToken is a one-shot override for manual runs; never persisted.
	GithubToken string

	dispatcher *Dispatcher
}

// NewDispatchJob snapshots a stored row into a runnable job.
func NewDispatchJob(row *store.Job, d *Dispatcher) (*DispatchJob, error) {
	meta := row.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	// json.Marshal sorts map keys, so equal maps encode equally.
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode metadata for job %q: %w", row.ID, err)
	}

	j := &DispatchJob{
		TargetURL:                row.TargetURL,
		GithubOwner:              row.GithubOwner,
		GithubRepo:               row.GithubRepo,
		GithubWorkflowName:       row.GithubWorkflowName,
		MetadataJSON:             string(rawMeta),
		Metadata:                 meta,
		IsActive:                 row.IsActive,
		EndDate:                  row.EndDate,
		EnableEmailNotifications: row.EnableEmailNotifications,
		NotifyOnSuccess:          row.NotifyOnSuccess,
		NotificationEmails:       row.NotificationEmails,
		UpdatedAt:                row.UpdatedAt.UTC().Format(time.RFC3339),
		dispatcher:               d,
	}
	j.JobID = row.ID
	j.Name = row.Name
	j.Schedule = row.CronExpression
	return j, nil
}

func (j *DispatchJob) GetTarget() string {
	if j.hasGithubTarget() {
		return j.GithubOwner + "/" + j.GithubRepo + "/" + j.GithubWorkflowName
	}
	return j.TargetURL
}

func (j *DispatchJob) hasGithubTarget() bool {
	return j.GithubOwner != "" && j.GithubRepo != "" && j.GithubWorkflowName != ""
}

// EmailSettings exposes per-job mail preferences to the mail middleware.
func (j *DispatchJob) EmailSettings() (enabled, onSuccess bool, recipients []string) {
	return j.EnableEmailNotifications, j.NotifyOnSuccess, j.NotificationEmails
}

func (j *DispatchJob) Hash() (string, error) {
	var h string
	if err := core.GetHash(reflect.TypeOf(j).Elem(), reflect.ValueOf(j).Elem(), &h); err != nil {
		return "", err
	}
	return h, nil
}

// Run performs one dispatch: end-date guard, running row, HTTP call, outcome
// row. Errors are flattened into the execution record; the only error that
// escapes is the one marking the in-memory execution as failed or skipped.
func (j *DispatchJob) Run(ctx *core.Context) error {
	d := j.dispatcher
	e := ctx.Execution

	proceed, err := j.endDateGuard(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		return core.ErrSkippedExecution
	}

	startedAt := d.Clock.Now().UTC()
	rec, err := d.Store.CreateExecution(ctx.Ctx, j.JobID, e.TriggerType, startedAt)
	if err != nil {
		return fmt.Errorf("record execution start: %w", err)
	}
	e.RowID = rec.ID

	status, output, dispatchErr := j.dispatch(ctx)

	completedAt := d.Clock.Now().UTC()
	outcome := store.ExecutionOutcome{
		Status:          store.StatusSuccess,
		CompletedAt:     completedAt,
		DurationSeconds: completedAt.Sub(startedAt).Seconds(),
		Output:          output,
	}
	if status > 0 {
		e.ResponseStatus = status
		outcome.ResponseStatus = &status
	}
	if dispatchErr != nil {
		outcome.Status = store.StatusFailed
		outcome.ErrorMessage = dispatchErr.Error()
	}

	if err := d.Store.CompleteExecution(ctx.Ctx, e.RowID, outcome); err != nil {
		ctx.Warn(fmt.Sprintf("recording outcome failed: %v", err))
	}

	return dispatchErr
}

// endDateGuard re-reads the row. A missing or paused job skips silently; an
// expired one is auto-paused, deregistered and announced before skipping.
// Returns false when the dispatch must not proceed.
func (j *DispatchJob) endDateGuard(ctx *core.Context) (bool, error) {
	d := j.dispatcher

	row, err := d.Store.GetJob(ctx.Ctx, j.JobID)
	if errors.Is(err, store.ErrNotFound) {
		ctx.Warn("job row no longer exists, skipping dispatch")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("end date guard: %w", err)
	}

	if !row.IsActive {
		ctx.Warn("job is paused, skipping dispatch")
		return false, nil
	}

	today := core.TodayIn(d.Clock, d.Location)
	if !core.DateBefore(row.EndDate, today) {
		return true, nil
	}

	ctx.Warn(fmt.Sprintf("end date %s has passed, auto-pausing", row.EndDate))
	if err := d.Store.SetJobActive(ctx.Ctx, row.ID, false); err != nil {
		return false, fmt.Errorf("auto-pause expired job: %w", err)
	}
	row.IsActive = false

	// Removing the entry waits for this very invocation, so it has to run
	// outside the callback.
	if sh := ctx.Scheduler; sh != nil {
		go func() { _ = sh.RemoveJob(j) }()
	}

	d.Notifier.JobAutoPaused(ctx.Ctx, row)
	return false, nil
}

func (j *DispatchJob) dispatch(ctx *core.Context) (status int, output string, err error) {
	switch {
	case j.hasGithubTarget():
		return j.dispatchGithub(ctx)
	case j.TargetURL != "":
		return j.dispatchWebhook(ctx)
	default:
		return 0, "", core.ErrTargetMisconfigured
	}
}

func (j *DispatchJob) dispatchGithub(ctx *core.Context) (int, string, error) {
	d := j.dispatcher
	e := ctx.Execution

	target := j.GetTarget()
	e.ExecutionType = core.ExecutionTypeGitHub
	e.Target = target
	if err := d.Store.SetExecutionTarget(ctx.Ctx, e.RowID, core.ExecutionTypeGitHub, target); err != nil {
		ctx.Warn(fmt.Sprintf("recording target failed: %v", err))
	}

	token := j.GithubToken
	if token == "" {
		token = d.FallbackGithubToken
	}
	if token == "" {
		return 0, "", core.ErrAuthMissing
	}

	ref := j.Metadata[branchMetadataKey]
	if ref == "" {
		ref = DefaultBranch
	}
	inputs := j.Metadata
	if inputs == nil {
		inputs = map[string]string{}
	}
	body, err := json.Marshal(map[string]any{"ref": ref, "inputs": inputs})
	if err != nil {
		return 0, "", fmt.Errorf("encode dispatch body: %w", err)
	}

	url := fmt.Sprintf("%s/repos/%s/%s/actions/workflows/%s/dispatches",
		d.githubBase(), j.GithubOwner, j.GithubRepo, j.GithubWorkflowName)

	req, err := http.NewRequestWithContext(ctx.Ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("github dispatch: %w", err)
	}
	defer resp.Body.Close()

	respBody := readCapped(resp.Body)
	if resp.StatusCode != http.StatusNoContent {
		return resp.StatusCode, "", core.RemoteStatusError{StatusCode: resp.StatusCode, Body: respBody}
	}
	return resp.StatusCode, "", nil
}

func (j *DispatchJob) dispatchWebhook(ctx *core.Context) (int, string, error) {
	d := j.dispatcher
	e := ctx.Execution

	e.ExecutionType = core.ExecutionTypeWebhook
	e.Target = j.TargetURL
	if err := d.Store.SetExecutionTarget(ctx.Ctx, e.RowID, core.ExecutionTypeWebhook, j.TargetURL); err != nil {
		ctx.Warn(fmt.Sprintf("recording target failed: %v", err))
	}

	var req *http.Request
	var err error
	if len(j.Metadata) > 0 {
		body, merr := json.Marshal(j.Metadata)
		if merr != nil {
			return 0, "", fmt.Errorf("encode webhook body: %w", merr)
		}
		req, err = http.NewRequestWithContext(ctx.Ctx, http.MethodPost, j.TargetURL, bytes.NewReader(body))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx.Ctx, http.MethodGet, j.TargetURL, nil)
	}
	if err != nil {
		return 0, "", fmt.Errorf("build webhook request: %w", err)
	}

	resp, err := d.Client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("webhook dispatch: %w", err)
	}
	defer resp.Body.Close()

	output := readCapped(resp.Body)
	if e.OutputStream != nil {
		_, _ = e.OutputStream.Write([]byte(output))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, output, core.RemoteStatusError{StatusCode: resp.StatusCode, Body: output}
	}
	return resp.StatusCode, output, nil
}

// readCapped drains at most OutputLimit bytes of a response body, a head
// truncation matching what the executions table stores.
func readCapped(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, core.OutputLimit))
	return string(b)
}

var _ core.Job = (*DispatchJob)(nil)
