package scheduler

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
	"github.com/netresearch/cronhook/test"
)

func discardSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), test.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func webhookRow(name, url string) *store.Job {
	return &store.Job{
		Name:           name,
		CronExpression: "*/5 * * * *",
		IsActive:       true,
		TargetURL:      url,
	}
}

func githubRow(name string) *store.Job {
	return &store.Job{
		Name:               name,
		CronExpression:     "0 2 * * *",
		IsActive:           true,
		GithubOwner:        "acme",
		GithubRepo:         "reports",
		GithubWorkflowName: "nightly.yml",
	}
}

func mustCreateJob(t *testing.T, st *store.Store, row *store.Job) *store.Job {
	t.Helper()
	require.NoError(t, st.CreateJob(context.Background(), row))
	return row
}

func seedUser(t *testing.T, st *store.Store, email string, admin, active bool) *store.User {
	t.Helper()
	u := &store.User{Email: email, Name: email, IsAdmin: admin, IsActive: active}
	require.NoError(t, st.UpsertUser(context.Background(), u))
	return u
}

func notificationsFor(t *testing.T, st *store.Store, userID string) []*store.Notification {
	t.Helper()
	rows, err := st.ListNotifications(context.Background(), userID, false, 100)
	require.NoError(t, err)
	return rows
}

// notificationTitles collects the titles of every notification a user has,
// newest first.
func notificationTitles(t *testing.T, st *store.Store, userID string) []string {
	t.Helper()
	rows := notificationsFor(t, st, userID)
	titles := make([]string, 0, len(rows))
	for _, n := range rows {
		titles = append(titles, n.Title)
	}
	return titles
}

func fixedClock(t *testing.T) *core.FakeClock {
	t.Helper()
	start, err := time.Parse(time.RFC3339, "2026-03-15T12:00:00Z")
	require.NoError(t, err)
	return core.NewFakeClock(start)
}
