package app

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/coreos/go-systemd/v22/daemon"

	"stayconnect/internal/catalog"
	"stayconnect/internal/config"
	"stayconnect/internal/control"
	"stayconnect/internal/eventbus"
	"stayconnect/internal/jobs"
	"stayconnect/internal/notifier"
	rtsup "stayconnect/internal/runtime/supervisor"
	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	catalog  *catalog.Client
	sched    *scheduler.Service
	releases *jobs.ReleaseChecker
	artists  *jobs.ArtistSyncer
	ctrl     *control.Service
	server   *control.Server
	notif    *notifier.Service

	stopRuns func()

	// builtin holds the job definitions before config overrides.
	builtin []scheduler.Job
}

// New loads the config file and builds every component. Nothing runs until
// Start; one-shot commands use the components directly and call Close.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return build(cfgm, cfg)
}

func build(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.New(mapLoggingConfig(cfg))
	a := &App{cfgm: cfgm, logs: logSvc, log: log.With(logx.Comp("app")), bus: eventbus.New()}

	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	sc, enabled, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	if !enabled {
		return nil, errors.WithHint(errors.New("storage is required"), "set storage.driver=sqlite and storage.path, or STAYCONNECT_DB_PATH")
	}
	st, err := storage.Open(sc, log.With(logx.Comp("storage")))
	if err != nil {
		return nil, err
	}
	a.store = st
	a.log.Info("storage enabled", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	cc, err := mapCatalogConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.catalog = catalog.New(cc, log.With(logx.Comp("catalog")))
	if !a.catalog.Configured() {
		a.log.Warn("catalog credentials missing; sync jobs will fail until SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are set")
	}

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.sched = scheduler.New(schedCfg, log.With(logx.Comp("queue")), a.bus)

	jc, err := mapJobsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.releases = jobs.NewReleaseChecker(a.catalog, st, jc, log.With(logx.Comp("releases")))
	a.artists = jobs.NewArtistSyncer(a.catalog, st, jc, log.With(logx.Comp("artists")))
	a.builtin = []scheduler.Job{a.releases.Job(), a.artists.Job()}
	if err := validate(cfg, a.builtin); err != nil {
		return nil, err
	}
	for _, j := range a.builtin {
		if err := a.registerJob(j, cfg); err != nil {
			return nil, err
		}
	}

	a.ctrl = control.NewService(a.sched, st, log)
	ctlCfg, err := mapControlConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.server = control.NewServer(ctlCfg, a.ctrl, log.With(logx.Comp("control.http")))

	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := a.telegramSender(cfg)
	if err != nil {
		return nil, err
	}
	a.notif = notifier.New(ncfg, sender, log, a.bus, st)

	ok = true
	return a, nil
}

func (a *App) registerJob(def scheduler.Job, cfg *config.Config) error {
	j, err := applyJobOverride(def, cfg)
	if err != nil {
		return err
	}
	return a.sched.Register(j)
}

// telegramSender returns nil when alerts are disabled.
func (a *App) telegramSender(cfg *config.Config) (notifier.Sender, error) {
	if !cfg.Notify.Telegram.Enabled {
		return nil, nil
	}
	tc, err := mapTelegramConfig(cfg)
	if err != nil {
		return nil, err
	}
	tg, err := notifier.NewTelegram(tc)
	if err != nil {
		return nil, err
	}
	return tg, nil
}

func (a *App) Logger() logx.Logger                  { return a.log }
func (a *App) Store() storage.Store                 { return a.store }
func (a *App) Catalog() *catalog.Client             { return a.catalog }
func (a *App) Queue() *scheduler.Service            { return a.sched }
func (a *App) Releases() *jobs.ReleaseChecker       { return a.releases }
func (a *App) Artists() *jobs.ArtistSyncer          { return a.artists }
func (a *App) Control() *control.Service            { return a.ctrl }
func (a *App) Config() *config.Config               { return a.cfgm.Get() }
func (a *App) ConfigManager() *config.ConfigManager { return a.cfgm }

// Done closes once the daemon winds down, after a fatal error or Stop.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err is the fatal error that ended the daemon, nil after a clean stop.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the daemon: alerts, run recording, the queue (when
// queue.enabled), the control API and config hot reload.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.Comp("config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return validate(cfg, a.builtin)
	})

	cfg := a.cfgm.Get()

	a.notif.Start(a.sup.Context())
	a.stopRuns = a.recordRuns()
	a.logEvents()

	if cfg.Queue.Enabled {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Info("queue disabled; jobs run only when triggered", logx.String("env", config.EnvQueueEnabled))
	}

	if err := a.server.Start(a.sup.Context()); err != nil {
		return err
	}

	a.watchConfig()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify ready failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify ready sent")
	}

	a.log.Info("app started", logx.Int("jobs", len(a.sched.List())), logx.Bool("queue", cfg.Queue.Enabled))
	return nil
}

// Stop shuts components down in reverse order, each step bounded.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		a.Close()
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	// Background loops start unwinding immediately.
	a.sup.Cancel()

	a.step(ctx, "control", 2*time.Second, func(c context.Context) error { a.server.Stop(c); return nil })
	// In-flight jobs get a grace period, then see their context cancelled.
	a.step(ctx, "queue", 10*time.Second, func(c context.Context) error { return a.sched.Close(c) })
	a.step(ctx, "runs", time.Second, func(context.Context) error { a.stopRuns(); return nil })
	a.step(ctx, "notifier", 2*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if c.Err() != nil {
			a.log.Warn("goroutines still running", logx.Any("names", a.sup.Active()))
		}
		return err
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// Close releases storage and log sinks of an app that was never started.
func (a *App) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
}

// step runs one shutdown stage, bounded by limit and by the caller's
// deadline. A stage that overruns is left running and the stop moves on.
func (a *App) step(ctx context.Context, name string, limit time.Duration, fn func(context.Context) error) {
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	log := a.log.With(logx.String("step", name))
	if err := stepCtx.Err(); err != nil {
		log.Warn("stop step skipped", logx.Err(err))
		return
	}

	start := time.Now()
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				result <- errors.Newf("stop step %s panicked: %v", name, r)
			}
		}()
		result <- fn(stepCtx)
	}()

	select {
	case err := <-result:
		took := time.Since(start)
		switch {
		case err != nil:
			log.Warn("stop step failed", logx.Duration("took", took), logx.Err(err))
		case took >= 500*time.Millisecond:
			log.Info("stop step slow", logx.Duration("took", took))
		default:
			log.Debug("stop step done", logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		log.Warn("stop step overran; continuing", logx.Duration("limit", limit), logx.Err(stepCtx.Err()))
	}
}
