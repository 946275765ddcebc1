package cli

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	defaults "github.com/creasty/defaults"
	ini "gopkg.in/ini.v1"

	"github.com/netresearch/cronhook/config"
	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/middlewares"
	"github.com/netresearch/cronhook/scheduler"
)

// Config is the file-level configuration. Every value can also arrive via
// flags or the environment; those override what the INI file says.
type Config struct {
	Global    GlobalConfig           `mapstructure:"global"`
	Web       WebConfig              `mapstructure:"web"`
	Scheduler SchedulerConfig        `mapstructure:"scheduler"`
	Email     middlewares.MailConfig `mapstructure:"email"`

	configPath string
	logger     core.Logger
	warnings   []config.UnknownKeyWarning
}

// GlobalConfig is the [global] INI section.
type GlobalConfig struct {
	LogLevel        string `gcfg:"log-level" mapstructure:"log-level"`
	DatabaseURL     string `gcfg:"database-url" mapstructure:"database-url" default:"cronhook.db"`
	FrontendBaseURL string `gcfg:"frontend-base-url" mapstructure:"frontend-base-url" default:"http://localhost:5173"`
	GithubToken     string `gcfg:"github-token" mapstructure:"github-token" json:"-"`
}

// WebConfig is the [web] INI section.
type WebConfig struct {
	Address     string `gcfg:"address" mapstructure:"address" default:":8080"`
	EnablePprof bool   `gcfg:"enable-pprof" mapstructure:"enable-pprof" default:"false"`
	PprofAddr   string `gcfg:"pprof-address" mapstructure:"pprof-address" default:"127.0.0.1:6060"`
}

// SchedulerConfig is the [scheduler] INI section.
type SchedulerConfig struct {
	Enabled          bool   `gcfg:"enabled" mapstructure:"enabled" default:"true"`
	Timezone         string `gcfg:"timezone" mapstructure:"timezone" default:"Asia/Tokyo"`
	LockPath         string `gcfg:"lock-path" mapstructure:"lock-path"`
	LockStaleSeconds int    `gcfg:"lock-stale-seconds" mapstructure:"lock-stale-seconds"`
	PollSeconds      int    `gcfg:"poll-seconds" mapstructure:"poll-seconds" default:"60"`
}

// Known INI keys per section, used for typo suggestions on unknown keys.
var (
	knownGlobalKeys    = []string{"log-level", "database-url", "frontend-base-url", "github-token"}
	knownWebKeys       = []string{"address", "enable-pprof", "pprof-address"}
	knownSchedulerKeys = []string{"enabled", "timezone", "lock-path", "lock-stale-seconds", "poll-seconds"}
	knownEmailKeys     = []string{
		"smtp-host", "smtp-port", "smtp-user", "smtp-password",
		"smtp-tls-skip-verify", "email-from", "email-subject",
	}
)

func NewConfig(logger core.Logger) *Config {
	c := &Config{logger: logger}
	_ = defaults.Set(c)
	return c
}

// BuildFromFile loads configuration from an INI file.
func BuildFromFile(filename string, logger core.Logger) (*Config, error) {
	c := NewConfig(logger)
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true, InsensitiveKeys: true}, filename)
	if err != nil {
		return nil, fmt.Errorf("load config %q: %w", filename, err)
	}
	if err := parseIni(cfg, c); err != nil {
		return nil, err
	}
	c.configPath = filename
	logger.Debugf("loaded config file %s", filename)
	return c, nil
}

// BuildFromString parses configuration from an INI string, for tests.
func BuildFromString(content string, logger core.Logger) (*Config, error) {
	c := NewConfig(logger)
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowShadows: true, InsensitiveKeys: true}, []byte(content))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := parseIni(cfg, c); err != nil {
		return nil, err
	}
	return c, nil
}

func parseIni(cfg *ini.File, c *Config) error {
	sections := []struct {
		name      string
		target    interface{}
		knownKeys []string
	}{
		{"global", &c.Global, knownGlobalKeys},
		{"web", &c.Web, knownWebKeys},
		{"scheduler", &c.Scheduler, knownSchedulerKeys},
		{"email", &c.Email, knownEmailKeys},
	}

	for _, s := range sections {
		sec, err := cfg.GetSection(s.name)
		if err != nil {
			continue
		}
		res, err := decodeWithMetadata(sectionToMap(sec), s.target)
		if err != nil {
			return fmt.Errorf("section [%s]: %w", s.name, err)
		}
		c.warnings = append(c.warnings,
			config.GenerateUnknownKeyWarnings(s.name, res.UnusedKeys, s.knownKeys)...)
	}
	return nil
}

// Warnings returns unknown-key findings collected while parsing.
func (c *Config) Warnings() []config.UnknownKeyWarning {
	return c.warnings
}

// LogWarnings writes each unknown-key warning through the configured logger.
func (c *Config) LogWarnings() {
	for _, w := range c.warnings {
		if w.Suggestion != "" {
			c.logger.Warningf("config: unknown key %q in [%s] (did you mean %q?)", w.Key, w.Section, w.Suggestion)
		} else {
			c.logger.Warningf("config: unknown key %q in [%s]", w.Key, w.Section)
		}
	}
}

// Location resolves the configured scheduler timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = "Asia/Tokyo"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", tz, err)
	}
	return loc, nil
}

// LockPath returns the configured lock file location, deriving it from the
// database file when unset (fallback: scheduler.lock in the working dir).
func (c *Config) LockPath() string {
	if c.Scheduler.LockPath != "" {
		return c.Scheduler.LockPath
	}
	db := strings.TrimPrefix(c.Global.DatabaseURL, "file:")
	if i := strings.IndexByte(db, '?'); i >= 0 {
		db = db[:i]
	}
	if db == "" || strings.HasPrefix(db, ":") {
		return "scheduler.lock"
	}
	return filepath.Join(filepath.Dir(db), "scheduler.lock")
}

// RuntimeConfig converts the file/env values into the scheduler runtime
// configuration. Poll seconds are clamped there, not here, so the clamp has
// one home.
func (c *Config) RuntimeConfig() (scheduler.Config, error) {
	loc, err := c.Location()
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:         c.Scheduler.Enabled,
		Location:        loc,
		LockPath:        c.LockPath(),
		LockStale:       time.Duration(c.Scheduler.LockStaleSeconds) * time.Second,
		Poll:            time.Duration(c.Scheduler.PollSeconds) * time.Second,
		GithubToken:     c.Global.GithubToken,
		FrontendBaseURL: c.Global.FrontendBaseURL,
	}, nil
}

func sectionToMap(section *ini.Section) map[string]interface{} {
	m := make(map[string]interface{})
	for _, key := range section.Keys() {
		vals := key.ValueWithShadows()
		if len(vals) > 1 {
			cp := make([]string, len(vals))
			copy(cp, vals)
			m[key.Name()] = cp
		} else if len(vals) == 1 {
			m[key.Name()] = vals[0]
		} else {
			m[key.Name()] = ""
		}
	}
	return m
}
