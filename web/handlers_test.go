package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

func webhookPayload(name string) map[string]any {
	return map[string]any{
		"name":            name,
		"cron_expression": "*/5 * * * *",
		"target_url":      "https://example.com/hook",
	}
}

// createJob posts a payload and returns the created row.
func (f *serverFixture) createJob(t *testing.T, payload map[string]any) *store.Job {
	t.Helper()

	w := f.do(t, "POST", "/api/jobs", payload)
	if w.Code != http.StatusCreated {
		t.Fatalf("create job: unexpected status %d: %s", w.Code, w.Body.String())
	}
	var job store.Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("decode created job: %v", err)
	}
	return &job
}

func TestListJobsEmpty(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, "GET", "/api/jobs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("empty list should encode as [], got %q", body)
	}
}

func TestCreateJobEndpoint(t *testing.T) {
	f := setupServer(t)

	job := f.createJob(t, webhookPayload("nightly-report"))
	if job.ID == "" {
		t.Fatal("created job should get an id")
	}
	if job.Category != store.ReservedCategorySlug {
		t.Errorf("expected default category, got %q", job.Category)
	}
	if !job.IsActive {
		t.Error("jobs should default to active")
	}

	if len(f.rt.synced) != 1 || f.rt.synced[0] != job.ID {
		t.Errorf("created job was not handed to the scheduler: %v", f.rt.synced)
	}

	w := f.do(t, "GET", "/api/jobs", nil)
	var jobs []*store.Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].Name != "nightly-report" {
		t.Errorf("unexpected job list %+v", jobs)
	}
}

func TestCreateJobValidation(t *testing.T) {
	f := setupServer(t)

	cases := []struct {
		name    string
		payload map[string]any
		wantMsg string
	}{
		{
			name: "missing name",
			payload: map[string]any{
				"cron_expression": "*/5 * * * *",
				"target_url":      "https://example.com/hook",
			},
		},
		{
			name: "bad cron",
			payload: map[string]any{
				"name":            "bad-cron",
				"cron_expression": "not a cron",
				"target_url":      "https://example.com/hook",
			},
		},
		{
			name: "both targets",
			payload: map[string]any{
				"name":                 "both",
				"cron_expression":      "*/5 * * * *",
				"target_url":           "https://example.com/hook",
				"github_owner":         "acme",
				"github_repo":          "reports",
				"github_workflow_name": "nightly.yml",
			},
			wantMsg: "cannot combine a webhook URL with a GitHub target",
		},
		{
			name: "no target",
			payload: map[string]any{
				"name":            "no-target",
				"cron_expression": "*/5 * * * *",
			},
			wantMsg: "either target_url or the GitHub owner/repo/workflow triple is required",
		},
		{
			name: "partial github triple",
			payload: map[string]any{
				"name":                 "partial",
				"cron_expression":      "*/5 * * * *",
				"github_repo":          "reports",
				"github_workflow_name": "nightly.yml",
			},
			wantMsg: "incomplete GitHub target: github_owner is required",
		},
	}

	for _, tc := range cases {
		w := f.do(t, "POST", "/api/jobs", tc.payload)
		if w.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d: %s", tc.name, w.Code, w.Body.String())
			continue
		}
		if tc.wantMsg != "" {
			if msg := errorBody(t, w); !strings.Contains(msg, tc.wantMsg) {
				t.Errorf("%s: error %q should contain %q", tc.name, msg, tc.wantMsg)
			}
		}
	}

	// Nothing should have been stored or scheduled
	jobs, err := f.st.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("invalid payloads must not create rows, found %d", len(jobs))
	}
	if len(f.rt.synced) != 0 {
		t.Errorf("invalid payloads must not reach the scheduler: %v", f.rt.synced)
	}
}

func TestCreateJobBadJSON(t *testing.T) {
	f := setupServer(t)

	w := f.doRaw(t, "POST", "/api/jobs", "{not json")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestGetJobEndpoint(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	w := f.do(t, "GET", "/api/jobs/"+created.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var job store.Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != created.ID || job.Name != "nightly-report" {
		t.Errorf("unexpected job %+v", job)
	}

	w = f.do(t, "GET", "/api/jobs/no-such-job", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}
}

func TestUpdateJobEndpoint(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	update := webhookPayload("nightly-report")
	update["cron_expression"] = "0 6 * * *"
	update["pic_team"] = "data-eng"

	w := f.do(t, "PUT", "/api/jobs/"+created.ID, update)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}
	var job store.Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.CronExpression != "0 6 * * *" || job.PicTeam != "data-eng" {
		t.Errorf("update not applied: %+v", job)
	}

	// Create + update both notify the scheduler
	if len(f.rt.synced) != 2 {
		t.Errorf("expected 2 sync calls, got %v", f.rt.synced)
	}

	stored, err := f.st.GetJob(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if stored.CronExpression != "0 6 * * *" {
		t.Errorf("update not persisted: %+v", stored)
	}
}

func TestUpdateJobErrors(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	w := f.do(t, "PUT", "/api/jobs/no-such-job", webhookPayload("nightly-report"))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", w.Code)
	}

	bad := webhookPayload("nightly-report")
	bad["cron_expression"] = "@daily"
	w = f.do(t, "PUT", "/api/jobs/"+created.ID, bad)
	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for invalid cron, got %d", w.Code)
	}
}

func TestDeleteJobEndpoint(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	w := f.do(t, "DELETE", "/api/jobs/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if len(f.rt.unscheduled) != 1 || f.rt.unscheduled[0] != created.ID {
		t.Errorf("delete should unschedule the job: %v", f.rt.unscheduled)
	}

	w = f.do(t, "GET", "/api/jobs/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("deleted job should be gone, got %d", w.Code)
	}

	w = f.do(t, "DELETE", "/api/jobs/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("double delete should 404, got %d", w.Code)
	}
}

func TestTriggerJobEndpoint(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	w := f.do(t, "POST", "/api/jobs/"+created.ID+"/trigger", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["job_id"] != created.ID || resp["status"] != "triggered" {
		t.Errorf("unexpected trigger response %v", resp)
	}

	if len(f.rt.triggered) != 1 {
		t.Fatalf("expected 1 trigger call, got %d", len(f.rt.triggered))
	}
	call := f.rt.triggered[0]
	if call.id != created.ID {
		t.Errorf("triggered wrong job %q", call.id)
	}
	if call.overrides.TargetURL != "" || len(call.overrides.Metadata) != 0 {
		t.Errorf("empty body should produce empty overrides: %+v", call.overrides)
	}
}

func TestTriggerJobOverrides(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	w := f.do(t, "POST", "/api/jobs/"+created.ID+"/trigger", map[string]any{
		"target_url": "https://staging.example.com/hook",
		"metadata":   map[string]string{"env": "stage"},
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", w.Code)
	}

	call := f.rt.triggered[0]
	if call.overrides.TargetURL != "https://staging.example.com/hook" {
		t.Errorf("target override lost: %+v", call.overrides)
	}
	if call.overrides.Metadata["env"] != "stage" {
		t.Errorf("metadata override lost: %+v", call.overrides)
	}
}

func TestTriggerJobErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{name: "unknown job", err: store.ErrNotFound, wantCode: http.StatusNotFound},
		{name: "already running", err: core.ErrMaxInstances, wantCode: http.StatusTooManyRequests},
		{
			name:     "follower",
			err:      core.ErrNotLeader,
			wantCode: http.StatusConflict,
			wantMsg:  "manual triggers run on the scheduler leader only",
		},
		{name: "dispatch error", err: errors.New("boom"), wantCode: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		f := setupServer(t)
		f.rt.triggerErr = tc.err

		w := f.do(t, "POST", "/api/jobs/some-id/trigger", nil)
		if w.Code != tc.wantCode {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.wantCode, w.Code)
			continue
		}
		if tc.wantMsg != "" {
			if msg := errorBody(t, w); msg != tc.wantMsg {
				t.Errorf("%s: unexpected error message %q", tc.name, msg)
			}
		}
	}
}

func TestJobExecutionsEndpoint(t *testing.T) {
	f := setupServer(t)
	created := f.createJob(t, webhookPayload("nightly-report"))

	ctx := context.Background()
	for i := range 3 {
		row, err := f.st.CreateExecution(ctx, created.ID, core.TriggerScheduled, time.Now().Add(time.Duration(-i)*time.Minute))
		if err != nil {
			t.Fatalf("create execution: %v", err)
		}
		status := store.StatusSuccess
		if i == 2 {
			status = store.StatusFailed
		}
		err = f.st.CompleteExecution(ctx, row.ID, store.ExecutionOutcome{
			Status:      status,
			CompletedAt: time.Now(),
		})
		if err != nil {
			t.Fatalf("complete execution: %v", err)
		}
	}

	w := f.do(t, "GET", "/api/jobs/"+created.ID+"/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	var execs []*store.Execution
	if err := json.NewDecoder(w.Body).Decode(&execs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(execs) != 3 {
		t.Fatalf("expected 3 executions, got %d", len(execs))
	}

	w = f.do(t, "GET", "/api/jobs/"+created.ID+"/executions?limit=1", nil)
	if err := json.NewDecoder(w.Body).Decode(&execs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(execs) != 1 {
		t.Errorf("limit=1 should return 1 row, got %d", len(execs))
	}

	w = f.do(t, "GET", "/api/jobs/no-such-job/executions", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
}

func TestRecentExecutionsEndpoint(t *testing.T) {
	f := setupServer(t)

	w := f.do(t, "GET", "/api/executions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", w.Code)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("empty history should encode as [], got %q", body)
	}

	created := f.createJob(t, webhookPayload("nightly-report"))
	if _, err := f.st.CreateExecution(context.Background(), created.ID, core.TriggerManual, time.Now()); err != nil {
		t.Fatalf("create execution: %v", err)
	}

	w = f.do(t, "GET", "/api/executions", nil)
	var execs []*store.Execution
	if err := json.NewDecoder(w.Body).Decode(&execs); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(execs) != 1 || execs[0].JobID != created.ID {
		t.Errorf("unexpected executions %+v", execs)
	}
	if execs[0].Status != store.StatusRunning {
		t.Errorf("incomplete execution should report running, got %q", execs[0].Status)
	}
}
