package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // #nosec G108
	"time"

	"github.com/netresearch/cronhook/core"
	"github.com/netresearch/cronhook/metrics"
	"github.com/netresearch/cronhook/middlewares"
	"github.com/netresearch/cronhook/scheduler"
	"github.com/netresearch/cronhook/store"
	"github.com/netresearch/cronhook/web"
)

const mailDedupCooldown = 5 * time.Minute

// DaemonCommand runs the scheduler and the API server. Flags override the
// environment, which overrides the INI file; value flags therefore carry no
// go-flags defaults (the INI layer owns those).
type DaemonCommand struct {
	ConfigFile       string `long:"config" env:"CRONHOOK_CONFIG" description:"INI config file" default:"/etc/cronhook/config.ini"`
	LogLevel         string `long:"log-level" env:"CRONHOOK_LOG_LEVEL" description:"log level (debug, info, warning, error)"`
	WebAddr          string `long:"web-address" env:"CRONHOOK_WEB_ADDRESS" description:"API listen address"`
	EnablePprof      bool   `long:"enable-pprof" env:"CRONHOOK_ENABLE_PPROF" description:"serve pprof for diagnostics"`
	PprofAddr        string `long:"pprof-address" env:"CRONHOOK_PPROF_ADDRESS" description:"pprof listen address"`
	DatabaseURL      string `long:"database-url" env:"DATABASE_URL" description:"SQLite database path or DSN"`
	SchedulerEnabled *bool  `long:"scheduler-enabled" env:"SCHEDULER_ENABLED" description:"contend for leadership and run the trigger engine"`
	Timezone         string `long:"timezone" env:"SCHEDULER_TIMEZONE" description:"IANA timezone for cron evaluation and end dates"`
	LockPath         string `long:"lock-path" env:"SCHEDULER_LOCK_PATH" description:"leader lock file path"`
	LockStaleSecs    *int   `long:"lock-stale-seconds" env:"SCHEDULER_LOCK_STALE_SECONDS" description:"treat locks older than this many seconds as stale"`
	PollSeconds      *int   `long:"poll-seconds" env:"SCHEDULER_POLL_SECONDS" description:"reconcile loop period in seconds"`
	GithubToken      string `long:"github-token" env:"GITHUB_TOKEN" description:"fallback token for scheduled GitHub dispatches" json:"-"`
	FrontendBaseURL  string `long:"frontend-base-url" env:"FRONTEND_BASE_URL" description:"base URL used in Slack deep-links"`

	Logger  core.Logger
	Version string

	config          *Config
	st              *store.Store
	runtime         *scheduler.Runtime
	webServer       *web.Server
	pprofServer     *http.Server
	shutdownManager *core.ShutdownManager
	done            chan struct{}
}

// Execute runs the daemon
func (c *DaemonCommand) Execute(_ []string) error {
	if err := c.boot(); err != nil {
		return err
	}
	if err := c.start(); err != nil {
		return err
	}
	return c.waitForShutdown()
}

func (c *DaemonCommand) boot() error {
	// Apply CLI log level before reading config
	ApplyLogLevel(c.LogLevel)

	c.done = make(chan struct{})
	c.shutdownManager = core.NewShutdownManager(c.Logger, 30*time.Second)

	config, err := BuildFromFile(c.ConfigFile, c.Logger)
	if err != nil {
		c.Logger.Warningf("Could not load config file %q: %v", c.ConfigFile, err)
		config = NewConfig(c.Logger)
	}
	c.applyOptions(config)
	c.config = config

	if c.LogLevel == "" {
		ApplyLogLevel(config.Global.LogLevel)
	}
	config.LogWarnings()

	st, err := store.Open(config.Global.DatabaseURL, c.Logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	c.st = st
	if err := st.EnsureDefaults(context.Background()); err != nil {
		return fmt.Errorf("store defaults: %w", err)
	}

	collector := metrics.NewMetricsCollector()
	collector.InitDefaultMetrics()
	recorder := metrics.NewRecorder(collector)

	runtimeCfg, err := config.RuntimeConfig()
	if err != nil {
		return err
	}
	engineLogger := NewEngineLogger(config.Global.LogLevel)
	c.runtime = scheduler.NewRuntime(runtimeCfg, st, c.Logger, engineLogger, recorder)
	c.buildSchedulerMiddlewares(recorder)

	healthChecker := web.NewHealthChecker(st, c.runtime, c.Version)
	c.webServer = web.NewServer(config.Web.Address, st, c.runtime, collector, healthChecker, c.Logger)

	if config.Web.EnablePprof {
		c.pprofServer = &http.Server{
			Addr:              config.Web.PprofAddr,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		}
	}

	c.registerShutdownHooks()
	return nil
}

// buildSchedulerMiddlewares attaches the post-dispatch notification chain:
// in-app/Slack notices through the notifier, then per-job email. Dedup is
// attached only to a configured mail section; setting it first would make
// the section look non-empty to NewMail.
func (c *DaemonCommand) buildSchedulerMiddlewares(recorder *metrics.Recorder) {
	sh := c.runtime.Scheduler
	sh.Use(middlewares.NewNotify(c.runtime.Notifier))

	mailCfg := c.config.Email
	if !middlewares.IsEmpty(&mailCfg) {
		dedup := middlewares.NewNotificationDedup(mailDedupCooldown)
		stopCleanup := dedup.StartCleanupRoutine(time.Hour)
		c.shutdownManager.RegisterHook(core.ShutdownHook{
			Name:     "mail-dedup",
			Priority: 10,
			Hook: func(context.Context) error {
				stopCleanup()
				return nil
			},
		})
		mailCfg.Dedup = dedup
	}
	sh.Use(middlewares.NewMail(&mailCfg))

	sh.SetOnJobComplete(recorder.RecordDispatchOutcome)
}

// registerShutdownHooks orders teardown: engine (and with it the leader
// lock) first, listeners next, the store last.
func (c *DaemonCommand) registerShutdownHooks() {
	c.shutdownManager.RegisterHook(core.ShutdownHook{
		Name:     "scheduler-runtime",
		Priority: 10,
		Hook:     c.runtime.Stop,
	})
	c.shutdownManager.RegisterHook(core.ShutdownHook{
		Name:     "http-server",
		Priority: 20,
		Hook:     c.webServer.Shutdown,
	})
	if c.pprofServer != nil {
		c.shutdownManager.RegisterHook(core.ShutdownHook{
			Name:     "pprof-server",
			Priority: 20,
			Hook:     c.pprofServer.Shutdown,
		})
	}
	c.shutdownManager.RegisterHook(core.ShutdownHook{
		Name:     "store",
		Priority: 30,
		Hook: func(context.Context) error {
			return c.st.Close()
		},
	})
}

func (c *DaemonCommand) start() error {
	c.shutdownManager.ListenForShutdown()

	if err := c.runtime.Start(context.Background()); err != nil {
		return fmt.Errorf("start scheduler runtime: %w", err)
	}

	c.Logger.Noticef("Starting web server on %s", c.config.Web.Address)
	go func() {
		if err := c.webServer.Start(); err != nil {
			c.Logger.Errorf("Web server failed: %v", err)
			close(c.done)
		}
	}()

	if c.pprofServer != nil {
		c.Logger.Noticef("Starting pprof server on %s", c.pprofServer.Addr)
		go func() {
			if err := c.pprofServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				c.Logger.Errorf("pprof server failed: %v", err)
			}
		}()
	}

	return nil
}

// waitForShutdown blocks until a signal-initiated shutdown completes or a
// server failure forces one.
func (c *DaemonCommand) waitForShutdown() error {
	select {
	case <-c.done:
		err := c.shutdownManager.Shutdown()
		if errors.Is(err, core.ErrShutdownInProgress) {
			<-c.shutdownManager.Done()
			return nil
		}
		return err
	case <-c.shutdownManager.Done():
		return nil
	}
}

// applyOptions merges flag/environment values over the file configuration.
func (c *DaemonCommand) applyOptions(config *Config) {
	if config == nil {
		return
	}
	if c.LogLevel != "" {
		config.Global.LogLevel = c.LogLevel
	}
	if c.DatabaseURL != "" {
		config.Global.DatabaseURL = c.DatabaseURL
	}
	if c.FrontendBaseURL != "" {
		config.Global.FrontendBaseURL = c.FrontendBaseURL
	}
	if c.GithubToken != "" {
		config.Global.GithubToken = c.GithubToken
	}

	if c.WebAddr != "" {
		config.Web.Address = c.WebAddr
	}
	if c.EnablePprof {
		config.Web.EnablePprof = true
	}
	if c.PprofAddr != "" {
		config.Web.PprofAddr = c.PprofAddr
	}

	if c.SchedulerEnabled != nil {
		config.Scheduler.Enabled = *c.SchedulerEnabled
	}
	if c.Timezone != "" {
		config.Scheduler.Timezone = c.Timezone
	}
	if c.LockPath != "" {
		config.Scheduler.LockPath = c.LockPath
	}
	if c.LockStaleSecs != nil {
		config.Scheduler.LockStaleSeconds = *c.LockStaleSecs
	}
	if c.PollSeconds != nil {
		config.Scheduler.PollSeconds = *c.PollSeconds
	}
}

// Config returns the active configuration used by the daemon.
func (c *DaemonCommand) Config() *Config {
	return c.config
}
