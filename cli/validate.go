package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

// ValidateCommand checks the config file and, unless told otherwise, the
// database it points at: reachability, stored cron expressions and end dates.
type ValidateCommand struct {
	ConfigFile  string `long:"config" env:"CRONHOOK_CONFIG" description:"configuration file" default:"/etc/cronhook/config.ini"`
	LogLevel    string `long:"log-level" env:"CRONHOOK_LOG_LEVEL" description:"Set log level (overrides config)"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"SQLite database path or DSN"`
	SkipDB      bool   `long:"skip-db" description:"validate the config file only, without opening the database"`
	Logger      core.Logger
}

// Execute runs the validation command
func (c *ValidateCommand) Execute(_ []string) error {
	ApplyLogLevel(c.LogLevel)
	c.Logger.Debugf("Validating %q ... ", c.ConfigFile)
	conf, err := BuildFromFile(c.ConfigFile, c.Logger)
	if err != nil {
		c.Logger.Errorf("ERROR")
		return err
	}
	if c.LogLevel == "" {
		ApplyLogLevel(conf.Global.LogLevel)
	}
	conf.LogWarnings()

	if c.DatabaseURL != "" {
		conf.Global.DatabaseURL = c.DatabaseURL
	}

	var problems []string
	if _, err := conf.Location(); err != nil {
		problems = append(problems, fmt.Sprintf("timezone: %v", err))
	}
	if _, err := conf.RuntimeConfig(); err != nil {
		problems = append(problems, fmt.Sprintf("scheduler config: %v", err))
	}

	out, err := json.MarshalIndent(conf, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))

	if !c.SkipDB {
		problems = append(problems, c.checkDatabase(conf.Global.DatabaseURL)...)
	}

	if len(problems) > 0 {
		for _, p := range problems {
			c.Logger.Errorf("validation: %s", p)
		}
		return fmt.Errorf("validation failed: %d problem(s)", len(problems))
	}

	c.Logger.Noticef("OK")
	return nil
}

// checkDatabase verifies the store is reachable and that every persisted job
// still carries a parseable schedule and end date.
func (c *ValidateCommand) checkDatabase(databaseURL string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := store.Open(databaseURL, c.Logger)
	if err != nil {
		return []string{fmt.Sprintf("database %q: %v", databaseURL, err)}
	}
	defer st.Close()

	if err := st.DB().PingContext(ctx); err != nil {
		return []string{fmt.Sprintf("database %q unreachable: %v", databaseURL, err)}
	}

	jobs, err := st.ListJobs(ctx)
	if err != nil {
		return []string{fmt.Sprintf("list jobs: %v", err)}
	}

	var problems []string
	for _, job := range jobs {
		if err := core.ValidateCronExpression(job.CronExpression); err != nil {
			problems = append(problems, fmt.Sprintf("job %s (%s): %v", job.ID, job.Name, err))
		}
		if job.EndDate != "" {
			if _, err := core.ParseDate(job.EndDate); err != nil {
				problems = append(problems, fmt.Sprintf("job %s (%s): end date: %v", job.ID, job.Name, err))
			}
		}
	}
	c.Logger.Debugf("Checked %d stored job(s)", len(jobs))
	return problems
}
