package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/catalog"
	"stayconnect/internal/config"
	"stayconnect/internal/control"
	"stayconnect/internal/jobs"
	"stayconnect/internal/notifier"
	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	q := cfg.Queue
	tick, err := config.ParseDurationOrDefault("queue.tick", q.Tick, scheduler.DefaultTick)
	if err != nil {
		return scheduler.Config{}, err
	}
	delay, err := config.ParseDurationOrDefault("queue.retry_delay", q.RetryDelay, scheduler.DefaultRetryDelay)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Tick:        tick,
		RetryDelay:  delay,
		RetryMax:    q.RetryMax,
		Timezone:    strings.TrimSpace(q.Timezone),
		HistorySize: q.HistorySize,
	}, nil
}

func mapCatalogConfig(cfg *config.Config) (catalog.Config, error) {
	c := cfg.Catalog
	out := catalog.Config{
		ClientID:         strings.TrimSpace(c.ClientID),
		ClientSecret:     strings.TrimSpace(c.ClientSecret),
		BaseURL:          strings.TrimSpace(c.BaseURL),
		AuthURL:          strings.TrimSpace(c.AuthURL),
		RateLimitRetries: c.RateLimitRetries,
	}
	var err error
	if out.Timeout, err = config.ParseDurationField("catalog.timeout", c.Timeout); err != nil {
		return catalog.Config{}, err
	}
	if out.Backoff, err = config.ParseDurationField("catalog.backoff", c.Backoff); err != nil {
		return catalog.Config{}, err
	}
	if out.MaxBackoff, err = config.ParseDurationField("catalog.max_backoff", c.MaxBackoff); err != nil {
		return catalog.Config{}, err
	}
	if out.RefreshMargin, err = config.ParseDurationField("catalog.refresh_margin", c.RefreshMargin); err != nil {
		return catalog.Config{}, err
	}
	return out, nil
}

// NewCatalog builds a catalog client from cfg alone, for commands that only
// query the catalog and need no storage.
func NewCatalog(cfg *config.Config, log logx.Logger) (*catalog.Client, error) {
	cc, err := mapCatalogConfig(cfg)
	if err != nil {
		return nil, err
	}
	c := catalog.New(cc, log)
	if !c.Configured() {
		return nil, errors.WithHintf(errors.New("catalog credentials missing"), "set %s and %s", config.EnvClientID, config.EnvClientSecret)
	}
	return c, nil
}

func mapJobsConfig(cfg *config.Config) (jobs.Config, error) {
	s := cfg.Sync
	out := jobs.Config{BatchSize: s.BatchSize}
	fields := []struct {
		path string
		raw  string
		dst  *time.Duration
	}{
		{"sync.pacing", s.Pacing, &out.Pacing},
		{"sync.artist_pacing", s.ArtistPacing, &out.ArtistPacing},
		{"sync.batch_pause", s.BatchPause, &out.BatchPause},
		{"sync.release_window", s.ReleaseWindow, &out.ReleaseWindow},
		{"sync.artist_stale_after", s.ArtistStaleAfter, &out.ArtistStaleAfter},
	}
	for _, f := range fields {
		d, err := config.ParseDurationField(f.path, f.raw)
		if err != nil {
			return jobs.Config{}, err
		}
		*f.dst = d
	}
	return out, nil
}

// mapStorageConfig reports enabled=false when no driver is configured.
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	switch driver {
	case "sqlite", "sqlite3":
		path := strings.TrimSpace(sc.Path)
		if path == "" {
			return storage.Config{}, false, errors.New("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, errors.Newf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapControlConfig(cfg *config.Config) (control.Config, error) {
	c := cfg.Control
	out := control.Config{
		Enabled:       c.Enabled,
		Addr:          strings.TrimSpace(c.Addr),
		Token:         strings.TrimSpace(c.Token),
		AllowInsecure: c.AllowInsecure,
		Pprof:         c.Pprof,
	}
	if out.Addr == "" {
		out.Addr = control.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("control.read_timeout", c.ReadTimeout, 10*time.Second); err != nil {
		return control.Config{}, err
	}
	// 0 keeps waited triggers from being cut off
	if out.WriteTimeout, err = config.ParseDurationField("control.write_timeout", c.WriteTimeout); err != nil {
		return control.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("control.idle_timeout", c.IdleTimeout, 60*time.Second); err != nil {
		return control.Config{}, err
	}
	return out, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notify
	dedup, err := config.ParseDurationOrDefault("notify.dedup_window", n.DedupWindow, time.Hour)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := n.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		Enabled:      n.Telegram.Enabled,
		Workers:      1,
		RatePerMin:   n.Telegram.RatePerMin,
		RetryMax:     retryMax,
		DedupWindow:  dedup,
		PersistDedup: n.PersistDedup,
	}, nil
}

func mapTelegramConfig(cfg *config.Config) (notifier.TelegramConfig, error) {
	t := cfg.Notify.Telegram
	timeout, err := config.ParseDurationOrDefault("notify.telegram.timeout", t.Timeout, 10*time.Second)
	if err != nil {
		return notifier.TelegramConfig{}, err
	}
	return notifier.TelegramConfig{
		Token:          strings.TrimSpace(t.Token),
		ChatID:         t.ChatID,
		ThreadID:       t.ThreadID,
		DisablePreview: t.DisablePreview,
		Timeout:        timeout,
	}, nil
}

// applyJobOverride merges the per-job config block into a built-in definition.
func applyJobOverride(job scheduler.Job, cfg *config.Config) (scheduler.Job, error) {
	o, ok := cfg.Queue.Jobs[job.ID]
	if !ok {
		return job, nil
	}
	if o.Enabled != nil {
		job.Enabled = *o.Enabled
	}
	if s := strings.TrimSpace(o.Schedule); s != "" {
		if _, err := scheduler.ParseRecurrence(s); err != nil {
			return job, errors.Wrapf(err, "queue.jobs.%s.schedule", job.ID)
		}
		job.Schedule = s
	}
	if o.MaxRetries > 0 {
		job.MaxRetries = o.MaxRetries
	}
	return job, nil
}

// validate runs every mapper so a reload is rejected before anything is applied.
func validate(cfg *config.Config, known []scheduler.Job) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCatalogConfig(cfg); err != nil {
		return err
	}
	if _, err := mapJobsConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapControlConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTelegramConfig(cfg); err != nil {
		return err
	}
	ids := make(map[string]bool, len(known))
	for _, j := range known {
		ids[j.ID] = true
		if _, err := applyJobOverride(j, cfg); err != nil {
			return err
		}
	}
	for id := range cfg.Queue.Jobs {
		if !ids[id] {
			return errors.Newf("queue.jobs: unknown job %q", id)
		}
	}
	return nil
}
