package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/netresearch/cronhook/config"
	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/store"
)

// SeedCommand loads reference data from a YAML fixture file: users, teams,
// categories, Slack settings and jobs. Re-running it is safe; rows are keyed
// by email, slug or job name and updated in place.
type SeedCommand struct {
	ConfigFile  string `long:"config" env:"CRONHOOK_CONFIG" description:"configuration file" default:"/etc/cronhook/config.ini"`
	File        string `long:"file" short:"f" description:"YAML fixture file" default:"./fixtures.yml"`
	LogLevel    string `long:"log-level" env:"CRONHOOK_LOG_LEVEL" description:"Set log level"`
	DatabaseURL string `long:"database-url" env:"DATABASE_URL" description:"SQLite database path or DSN"`
	Logger      core.Logger
}

type seedFixtures struct {
	Users      []seedUser          `yaml:"users"`
	Teams      []seedTeam          `yaml:"teams"`
	Categories []seedCategory      `yaml:"categories"`
	Slack      *seedSlack          `yaml:"slack"`
	Jobs       []config.JobPayload `yaml:"jobs"`
}

type seedUser struct {
	Email   string `yaml:"email"`
	Name    string `yaml:"name"`
	IsAdmin bool   `yaml:"is_admin"`
	// Active defaults to true; fixtures rarely seed disabled accounts.
	Active *bool `yaml:"is_active"`
}

type seedTeam struct {
	Slug        string `yaml:"slug"`
	Name        string `yaml:"name"`
	SlackHandle string `yaml:"slack_handle"`
	Active      *bool  `yaml:"is_active"`
}

type seedCategory struct {
	Slug   string `yaml:"slug"`
	Name   string `yaml:"name"`
	Active *bool  `yaml:"is_active"`
}

type seedSlack struct {
	IsEnabled  bool   `yaml:"is_enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// Execute runs the seed command
func (c *SeedCommand) Execute(_ []string) error {
	ApplyLogLevel(c.LogLevel)

	conf, err := BuildFromFile(c.ConfigFile, c.Logger)
	if err != nil {
		c.Logger.Warningf("Could not load config file %q: %v", c.ConfigFile, err)
		conf = NewConfig(c.Logger)
	}
	if c.LogLevel == "" {
		ApplyLogLevel(conf.Global.LogLevel)
	}
	if c.DatabaseURL != "" {
		conf.Global.DatabaseURL = c.DatabaseURL
	}

	fixtures, err := loadFixtures(c.File)
	if err != nil {
		return err
	}

	st, err := store.Open(conf.Global.DatabaseURL, c.Logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	if err := st.EnsureDefaults(ctx); err != nil {
		return fmt.Errorf("store defaults: %w", err)
	}

	return c.apply(ctx, st, fixtures)
}

// loadFixtures reads and strictly decodes the fixture file; unknown YAML keys
// are an error so typos do not silently drop data.
func loadFixtures(path string) (*seedFixtures, error) {
	raw, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied fixture file
	if err != nil {
		return nil, fmt.Errorf("read fixtures %q: %w", path, err)
	}

	var fixtures seedFixtures
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&fixtures); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode fixtures %q: %w", path, err)
	}
	return &fixtures, nil
}

func (c *SeedCommand) apply(ctx context.Context, st *store.Store, fixtures *seedFixtures) error {
	var problems []string

	users := 0
	for _, u := range fixtures.Users {
		if u.Email == "" {
			problems = append(problems, "user with empty email skipped")
			continue
		}
		err := st.UpsertUser(ctx, &store.User{
			Email:    u.Email,
			Name:     u.Name,
			IsAdmin:  u.IsAdmin,
			IsActive: u.Active == nil || *u.Active,
		})
		if err != nil {
			problems = append(problems, fmt.Sprintf("user %q: %v", u.Email, err))
			continue
		}
		users++
	}

	teams := 0
	for _, t := range fixtures.Teams {
		if t.Slug == "" {
			problems = append(problems, "team with empty slug skipped")
			continue
		}
		err := st.UpsertTeam(ctx, &store.Team{
			Slug:        t.Slug,
			Name:        t.Name,
			SlackHandle: t.SlackHandle,
			IsActive:    t.Active == nil || *t.Active,
		})
		if err != nil {
			problems = append(problems, fmt.Sprintf("team %q: %v", t.Slug, err))
			continue
		}
		teams++
	}

	categories := 0
	for _, cat := range fixtures.Categories {
		if cat.Slug == "" {
			problems = append(problems, "category with empty slug skipped")
			continue
		}
		err := st.UpsertCategory(ctx, &store.Category{
			Slug:     cat.Slug,
			Name:     cat.Name,
			IsActive: cat.Active == nil || *cat.Active,
		})
		if err != nil {
			problems = append(problems, fmt.Sprintf("category %q: %v", cat.Slug, err))
			continue
		}
		categories++
	}

	if fixtures.Slack != nil {
		err := st.SaveSlackSettings(ctx, &store.SlackSettings{
			IsEnabled:  fixtures.Slack.IsEnabled,
			WebhookURL: fixtures.Slack.WebhookURL,
			Channel:    fixtures.Slack.Channel,
		})
		if err != nil {
			problems = append(problems, fmt.Sprintf("slack settings: %v", err))
		} else {
			c.Logger.Debugf("Slack settings saved (enabled=%v)", fixtures.Slack.IsEnabled)
		}
	}

	created, updated := 0, 0
	for i := range fixtures.Jobs {
		payload := &fixtures.Jobs[i]
		if err := payload.Validate(); err != nil {
			problems = append(problems, fmt.Sprintf("job %q: %v", payload.Name, err))
			continue
		}
		c.resolveCreator(ctx, st, payload)

		existing, err := st.GetJobByName(ctx, payload.Name)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if err := st.CreateJob(ctx, payload.Job()); err != nil {
				problems = append(problems, fmt.Sprintf("job %q: %v", payload.Name, err))
				continue
			}
			created++
		case err != nil:
			problems = append(problems, fmt.Sprintf("job %q: %v", payload.Name, err))
		default:
			payload.ApplyTo(existing)
			if err := st.UpdateJob(ctx, existing); err != nil {
				problems = append(problems, fmt.Sprintf("job %q: %v", payload.Name, err))
				continue
			}
			updated++
		}
	}

	c.Logger.Noticef("Seeded %d user(s), %d team(s), %d categorie(s), %d job(s) created, %d updated",
		users, teams, categories, created, updated)

	if len(problems) > 0 {
		for _, p := range problems {
			c.Logger.Errorf("seed: %s", p)
		}
		return fmt.Errorf("seed finished with %d problem(s)", len(problems))
	}
	return nil
}

// resolveCreator turns a created_by given as an email address into the user
// id seeded above. Unresolvable values pass through untouched.
func (c *SeedCommand) resolveCreator(ctx context.Context, st *store.Store, payload *config.JobPayload) {
	if !strings.Contains(payload.CreatedBy, "@") {
		return
	}
	user, err := st.GetUserByEmail(ctx, payload.CreatedBy)
	if err != nil {
		c.Logger.Warningf("seed: job %q creator %q not found, storing as-is", payload.Name, payload.CreatedBy)
		return
	}
	payload.CreatedBy = user.ID
}
