package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	. "gopkg.in/check.v1"

	"github.com/netresearch/cronhook/middlewares"
	"github.com/netresearch/cronhook/test"
)

// Hook up gocheck into the "go test" runner.
func TestConfig(t *testing.T) { TestingT(t) }

type SuiteConfig struct{}

var _ = Suite(&SuiteConfig{})

// Use shared TestLogger from test package
type TestLogger = test.Logger

func (s *SuiteConfig) TestDefaults(c *C) {
	mockLogger := TestLogger{}
	conf := NewConfig(&mockLogger)

	c.Assert(conf.Global.LogLevel, Equals, "")
	c.Assert(conf.Global.DatabaseURL, Equals, "cronhook.db")
	c.Assert(conf.Global.FrontendBaseURL, Equals, "http://localhost:5173")
	c.Assert(conf.Web.Address, Equals, ":8080")
	c.Assert(conf.Web.EnablePprof, Equals, false)
	c.Assert(conf.Web.PprofAddr, Equals, "127.0.0.1:6060")
	c.Assert(conf.Scheduler.Enabled, Equals, true)
	c.Assert(conf.Scheduler.Timezone, Equals, "Asia/Tokyo")
	c.Assert(conf.Scheduler.PollSeconds, Equals, 60)
	c.Assert(middlewares.IsEmpty(&conf.Email), Equals, true)
}

func (s *SuiteConfig) TestBuildFromString(c *C) {
	mockLogger := TestLogger{}
	conf, err := BuildFromString(`
		[global]
		log-level = debug
		database-url = /var/lib/cronhook/cronhook.db
		frontend-base-url = https://cron.example.com
		github-token = ghp_testtoken

		[web]
		address = :9090
		enable-pprof = true
		pprof-address = 127.0.0.1:7070

		[scheduler]
		enabled = false
		timezone = Europe/Berlin
		lock-path = /run/cronhook.lock
		lock-stale-seconds = 120
		poll-seconds = 30

		[email]
		smtp-host = smtp.example.com
		smtp-port = 2525
		smtp-user = mailer
		smtp-password = secret
		email-from = cron@example.com
	`, &mockLogger)

	c.Assert(err, IsNil)
	c.Assert(conf.Global.LogLevel, Equals, "debug")
	c.Assert(conf.Global.DatabaseURL, Equals, "/var/lib/cronhook/cronhook.db")
	c.Assert(conf.Global.FrontendBaseURL, Equals, "https://cron.example.com")
	c.Assert(conf.Global.GithubToken, Equals, "ghp_testtoken")
	c.Assert(conf.Web.Address, Equals, ":9090")
	c.Assert(conf.Web.EnablePprof, Equals, true)
	c.Assert(conf.Web.PprofAddr, Equals, "127.0.0.1:7070")
	c.Assert(conf.Scheduler.Enabled, Equals, false)
	c.Assert(conf.Scheduler.Timezone, Equals, "Europe/Berlin")
	c.Assert(conf.Scheduler.LockPath, Equals, "/run/cronhook.lock")
	c.Assert(conf.Scheduler.LockStaleSeconds, Equals, 120)
	c.Assert(conf.Scheduler.PollSeconds, Equals, 30)
	c.Assert(conf.Email.SMTPHost, Equals, "smtp.example.com")
	c.Assert(conf.Email.SMTPPort, Equals, 2525)
	c.Assert(conf.Email.SMTPUser, Equals, "mailer")
	c.Assert(conf.Email.SMTPPassword, Equals, "secret")
	c.Assert(conf.Email.EmailFrom, Equals, "cron@example.com")
	c.Assert(middlewares.IsEmpty(&conf.Email), Equals, false)
	c.Assert(conf.Warnings(), HasLen, 0)
}

func (s *SuiteConfig) TestBuildFromStringKeysCaseInsensitive(c *C) {
	mockLogger := TestLogger{}
	conf, err := BuildFromString(`
		[global]
		Database-URL = custom.db

		[scheduler]
		POLL-SECONDS = 10
	`, &mockLogger)

	c.Assert(err, IsNil)
	c.Assert(conf.Global.DatabaseURL, Equals, "custom.db")
	c.Assert(conf.Scheduler.PollSeconds, Equals, 10)
	c.Assert(conf.Warnings(), HasLen, 0)
}

func (s *SuiteConfig) TestBuildFromStringUnderscoreKeys(c *C) {
	mockLogger := TestLogger{}
	conf, err := BuildFromString(`
		[global]
		database_url = snake.db
	`, &mockLogger)

	c.Assert(err, IsNil)
	c.Assert(conf.Global.DatabaseURL, Equals, "snake.db")
	c.Assert(conf.Warnings(), HasLen, 0)
}

func (s *SuiteConfig) TestBuildFromStringKeepsDefaultsForUnsetKeys(c *C) {
	mockLogger := TestLogger{}
	conf, err := BuildFromString(`
		[global]
		log-level = warning
	`, &mockLogger)

	c.Assert(err, IsNil)
	c.Assert(conf.Global.LogLevel, Equals, "warning")
	c.Assert(conf.Global.DatabaseURL, Equals, "cronhook.db")
	c.Assert(conf.Web.Address, Equals, ":8080")
	c.Assert(conf.Scheduler.Enabled, Equals, true)
}

func (s *SuiteConfig) TestUnknownKeyWarnings(c *C) {
	mockLogger := TestLogger{}
	conf, err := BuildFromString(`
		[global]
		databse-url = typo.db

		[scheduler]
		container-name = nope
	`, &mockLogger)

	c.Assert(err, IsNil)

	warnings := conf.Warnings()
	c.Assert(warnings, HasLen, 2)
	c.Assert(warnings[0].Section, Equals, "global")
	c.Assert(warnings[0].Key, Equals, "databse-url")
	c.Assert(warnings[0].Suggestion, Equals, "database-url")
	c.Assert(warnings[1].Section, Equals, "scheduler")
	c.Assert(warnings[1].Key, Equals, "container-name")
	c.Assert(warnings[1].Suggestion, Equals, "")
}

func (s *SuiteConfig) TestLogWarnings(c *C) {
	mockLogger := TestLogger{}
	conf, err := BuildFromString(`
		[global]
		databse-url = typo.db

		[web]
		bind = :8081
	`, &mockLogger)

	c.Assert(err, IsNil)
	conf.LogWarnings()

	c.Assert(mockLogger.HasWarning(`unknown key "databse-url" in [global]`), Equals, true)
	c.Assert(mockLogger.HasWarning(`did you mean "database-url"?`), Equals, true)
	c.Assert(mockLogger.HasWarning(`unknown key "bind" in [web]`), Equals, true)
}

func (s *SuiteConfig) TestBuildFromFile(c *C) {
	mockLogger := TestLogger{}
	path := filepath.Join(c.MkDir(), "config.ini")
	err := os.WriteFile(path, []byte("[global]\nlog-level = warning\n"), 0o644)
	c.Assert(err, IsNil)

	conf, err := BuildFromFile(path, &mockLogger)
	c.Assert(err, IsNil)
	c.Assert(conf.Global.LogLevel, Equals, "warning")
	c.Assert(conf.Global.DatabaseURL, Equals, "cronhook.db")
}

func (s *SuiteConfig) TestBuildFromFileMissing(c *C) {
	mockLogger := TestLogger{}
	_, err := BuildFromFile(filepath.Join(c.MkDir(), "absent.ini"), &mockLogger)

	c.Assert(err, NotNil)
	c.Assert(err, ErrorMatches, `load config .*absent.ini.*`)
}

func (s *SuiteConfig) TestLocation(c *C) {
	mockLogger := TestLogger{}
	conf := NewConfig(&mockLogger)

	loc, err := conf.Location()
	c.Assert(err, IsNil)
	c.Assert(loc.String(), Equals, "Asia/Tokyo")

	conf.Scheduler.Timezone = ""
	loc, err = conf.Location()
	c.Assert(err, IsNil)
	c.Assert(loc.String(), Equals, "Asia/Tokyo")

	conf.Scheduler.Timezone = "Europe/Berlin"
	loc, err = conf.Location()
	c.Assert(err, IsNil)
	c.Assert(loc.String(), Equals, "Europe/Berlin")

	conf.Scheduler.Timezone = "Mars/Olympus"
	_, err = conf.Location()
	c.Assert(err, NotNil)
	c.Assert(err, ErrorMatches, `timezone "Mars/Olympus": .*`)
}

func (s *SuiteConfig) TestLockPath(c *C) {
	mockLogger := TestLogger{}

	testcases := []struct {
		explicit string
		database string
		expected string
	}{
		{"", "cronhook.db", "scheduler.lock"},
		{"", "/var/lib/cronhook/db.sqlite", "/var/lib/cronhook/scheduler.lock"},
		{"", "file:/data/db.sqlite?cache=shared&mode=rwc", "/data/scheduler.lock"},
		{"", ":memory:", "scheduler.lock"},
		{"", "", "scheduler.lock"},
		{"/run/cronhook.lock", "/var/lib/cronhook/db.sqlite", "/run/cronhook.lock"},
	}

	for _, tc := range testcases {
		conf := NewConfig(&mockLogger)
		conf.Scheduler.LockPath = tc.explicit
		conf.Global.DatabaseURL = tc.database
		c.Check(conf.LockPath(), Equals, tc.expected)
	}
}

func (s *SuiteConfig) TestRuntimeConfig(c *C) {
	mockLogger := TestLogger{}
	conf := NewConfig(&mockLogger)
	conf.Global.GithubToken = "ghp_abc"
	conf.Scheduler.Timezone = "UTC"
	conf.Scheduler.LockPath = "/tmp/cronhook.lock"
	conf.Scheduler.LockStaleSeconds = 90
	conf.Scheduler.PollSeconds = 15

	rc, err := conf.RuntimeConfig()
	c.Assert(err, IsNil)
	c.Assert(rc.Enabled, Equals, true)
	c.Assert(rc.Location, Equals, time.UTC)
	c.Assert(rc.LockPath, Equals, "/tmp/cronhook.lock")
	c.Assert(rc.LockStale, Equals, 90*time.Second)
	c.Assert(rc.Poll, Equals, 15*time.Second)
	c.Assert(rc.GithubToken, Equals, "ghp_abc")
	c.Assert(rc.FrontendBaseURL, Equals, "http://localhost:5173")
}

func (s *SuiteConfig) TestRuntimeConfigBadTimezone(c *C) {
	mockLogger := TestLogger{}
	conf := NewConfig(&mockLogger)
	conf.Scheduler.Timezone = "Nowhere/Nope"

	_, err := conf.RuntimeConfig()
	c.Assert(err, NotNil)
}
