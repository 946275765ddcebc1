package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/manifoldco/promptui"
	"gopkg.in/ini.v1"

	"github.com/netresearch/cronhook/core"
)

// InitCommand is an interactive wizard for generating a config file. Jobs are
// not part of it: they live in the database and are created through the API
// or the seed command.
type InitCommand struct {
	Output   string `long:"output" short:"o" description:"Output file path" default:"./cronhook.ini"`
	LogLevel string `long:"log-level" env:"CRONHOOK_LOG_LEVEL" description:"Set log level"`
	Logger   core.Logger
}

// Execute runs the interactive configuration wizard
func (c *InitCommand) Execute(_ []string) error {
	ApplyLogLevel(c.LogLevel)

	c.Logger.Noticef("🚀 Welcome to cronhook setup!")
	c.Logger.Noticef("This wizard will help you create your first config file.")

	// Check if output file already exists
	if _, err := os.Stat(c.Output); err == nil {
		if !c.confirmOverwrite() {
			c.Logger.Noticef("Setup canceled")
			return nil
		}
	}

	config := &initConfig{}

	if err := c.promptGlobalSettings(config); err != nil {
		return fmt.Errorf("failed to gather global settings: %w", err)
	}
	if err := c.promptWebSettings(config); err != nil {
		return fmt.Errorf("failed to gather web settings: %w", err)
	}
	if err := c.promptSchedulerSettings(config); err != nil {
		return fmt.Errorf("failed to gather scheduler settings: %w", err)
	}
	if err := c.promptEmailSettings(config); err != nil {
		return fmt.Errorf("failed to gather email settings: %w", err)
	}

	if err := c.saveConfig(config); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	c.Logger.Noticef("✅ Configuration saved to: %s", c.Output)

	if err := c.postCreationActions(); err != nil {
		c.Logger.Warningf("Post-creation action failed: %v", err)
	}

	c.printNextSteps()
	return nil
}

// initConfig holds the configuration being built
type initConfig struct {
	DatabaseURL     string
	FrontendBaseURL string
	LogLevel        string

	WebAddr string

	SchedulerEnabled bool
	Timezone         string
	PollSeconds      string

	EmailEnabled bool
	SMTPHost     string
	SMTPPort     string
	EmailFrom    string
}

// confirmOverwrite asks user to confirm overwriting existing file
func (c *InitCommand) confirmOverwrite() bool {
	prompt := promptui.Prompt{
		Label:     fmt.Sprintf("File %s already exists. Overwrite", c.Output),
		IsConfirm: true,
		Default:   "n",
	}
	_, err := prompt.Run()
	return err == nil
}

// promptGlobalSettings gathers global configuration
func (c *InitCommand) promptGlobalSettings(config *initConfig) error {
	c.Logger.Noticef("=== Global Settings ===")

	dbPrompt := promptui.Prompt{
		Label:   "SQLite database path",
		Default: "cronhook.db",
		Validate: func(input string) error {
			if input == "" {
				return ErrDatabasePathEmpty
			}
			return nil
		},
	}
	var err error
	config.DatabaseURL, err = dbPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	frontendPrompt := promptui.Prompt{
		Label:   "Frontend base URL (used in Slack links)",
		Default: "http://localhost:5173",
	}
	config.FrontendBaseURL, err = frontendPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	logLevelPrompt := promptui.Select{
		Label:     "Log level",
		Items:     []string{"panic", "fatal", "error", "warning", "info", "debug", "trace"},
		CursorPos: 4, // Default to "info"
	}
	_, config.LogLevel, err = logLevelPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	return nil
}

// promptWebSettings gathers API server configuration
func (c *InitCommand) promptWebSettings(config *initConfig) error {
	c.Logger.Noticef("=== API Server ===")

	addrPrompt := promptui.Prompt{
		Label:   "API listen address",
		Default: ":8080",
		Validate: func(input string) error {
			if input == "" {
				return ErrListenAddrEmpty
			}
			return nil
		},
	}
	var err error
	config.WebAddr, err = addrPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	return nil
}

// promptSchedulerSettings gathers scheduler configuration
func (c *InitCommand) promptSchedulerSettings(config *initConfig) error {
	c.Logger.Noticef("=== Scheduler ===")

	enabledPrompt := promptui.Prompt{
		Label:     "Run the scheduler on this instance",
		IsConfirm: true,
		Default:   "Y",
	}
	_, err := enabledPrompt.Run()
	config.SchedulerEnabled = err == nil

	tzPrompt := promptui.Prompt{
		Label:   "Timezone for cron evaluation",
		Default: "Asia/Tokyo",
		Validate: func(input string) error {
			if _, err := time.LoadLocation(input); err != nil {
				return fmt.Errorf("unknown timezone: %w", err)
			}
			return nil
		},
	}
	config.Timezone, err = tzPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	pollPrompt := promptui.Prompt{
		Label:   "Reconcile poll interval in seconds (10-300)",
		Default: "60",
		Validate: func(input string) error {
			n, err := strconv.Atoi(input)
			if err != nil {
				return ErrNotANumber
			}
			if n <= 0 {
				return ErrNotPositive
			}
			return nil
		},
	}
	config.PollSeconds, err = pollPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	return nil
}

// promptEmailSettings gathers optional SMTP configuration
func (c *InitCommand) promptEmailSettings(config *initConfig) error {
	c.Logger.Noticef("=== Email Notifications (optional) ===")

	enabledPrompt := promptui.Prompt{
		Label:     "Configure SMTP email notifications",
		IsConfirm: true,
		Default:   "n",
	}
	_, err := enabledPrompt.Run()
	config.EmailEnabled = err == nil
	if !config.EmailEnabled {
		return nil
	}

	hostPrompt := promptui.Prompt{
		Label: "SMTP host",
		Validate: func(input string) error {
			if input == "" {
				return ErrSMTPHostEmpty
			}
			return nil
		},
	}
	config.SMTPHost, err = hostPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	portPrompt := promptui.Prompt{
		Label:   "SMTP port",
		Default: "587",
		Validate: func(input string) error {
			if _, err := strconv.Atoi(input); err != nil {
				return ErrNotANumber
			}
			return nil
		},
	}
	config.SMTPPort, err = portPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	fromPrompt := promptui.Prompt{
		Label:   "From address",
		Default: "cronhook@localhost",
	}
	config.EmailFrom, err = fromPrompt.Run()
	if err != nil {
		return err //nolint:wrapcheck // promptui errors are user interaction failures, not internal errors
	}

	return nil
}

// saveConfig writes the configuration to INI file
func (c *InitCommand) saveConfig(config *initConfig) error {
	// Ensure directory exists
	dir := filepath.Dir(c.Output)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create directory %q: %w", dir, err)
	}

	cfg := ini.Empty()

	global := cfg.Section("global")
	global.Key("database-url").SetValue(config.DatabaseURL)
	if config.FrontendBaseURL != "" {
		global.Key("frontend-base-url").SetValue(config.FrontendBaseURL)
	}
	if config.LogLevel != "" {
		global.Key("log-level").SetValue(config.LogLevel)
	}

	web := cfg.Section("web")
	web.Key("address").SetValue(config.WebAddr)

	sched := cfg.Section("scheduler")
	sched.Key("enabled").SetValue(strconv.FormatBool(config.SchedulerEnabled))
	sched.Key("timezone").SetValue(config.Timezone)
	sched.Key("poll-seconds").SetValue(config.PollSeconds)

	if config.EmailEnabled {
		email := cfg.Section("email")
		email.Key("smtp-host").SetValue(config.SMTPHost)
		email.Key("smtp-port").SetValue(config.SMTPPort)
		email.Key("email-from").SetValue(config.EmailFrom)
	}

	if err := cfg.SaveTo(c.Output); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// postCreationActions offers validation and other post-creation options
func (c *InitCommand) postCreationActions() error {
	validatePrompt := promptui.Prompt{
		Label:     "Validate configuration now",
		IsConfirm: true,
		Default:   "Y",
	}
	_, err := validatePrompt.Run()
	if err != nil {
		return nil //nolint:nilerr // declining validation is normal flow
	}

	if _, err := BuildFromFile(c.Output, c.Logger); err != nil {
		c.Logger.Errorf("❌ Configuration validation failed: %v", err)
		return err
	}
	c.Logger.Noticef("✅ Configuration is valid!")

	showPrompt := promptui.Prompt{
		Label:     "Show generated configuration",
		IsConfirm: true,
		Default:   "n",
	}
	if _, err := showPrompt.Run(); err == nil {
		content, _ := os.ReadFile(c.Output)
		c.Logger.Noticef("\n%s", string(content))
	}

	return nil
}

// printNextSteps displays helpful next steps
func (c *InitCommand) printNextSteps() {
	c.Logger.Noticef("📋 Setup complete! Next steps:")
	c.Logger.Noticef("  → Review configuration: cat %s", c.Output)
	c.Logger.Noticef("  → Validate: cronhook validate --config=%s", c.Output)
	c.Logger.Noticef("  → Seed reference data: cronhook seed --config=%s --file=fixtures.yml", c.Output)
	c.Logger.Noticef("  → Start daemon: cronhook daemon --config=%s", c.Output)
}
