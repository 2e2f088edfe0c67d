package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Validate rejects values no component could apply. It is the base of the
// reload validator, so a bad edit keeps the previous config live.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	durations := []struct{ path, raw string }{
		{"queue.tick", cfg.Queue.Tick},
		{"queue.retry_delay", cfg.Queue.RetryDelay},
		{"catalog.timeout", cfg.Catalog.Timeout},
		{"catalog.backoff", cfg.Catalog.Backoff},
		{"catalog.max_backoff", cfg.Catalog.MaxBackoff},
		{"catalog.refresh_margin", cfg.Catalog.RefreshMargin},
		{"sync.pacing", cfg.Sync.Pacing},
		{"sync.artist_pacing", cfg.Sync.ArtistPacing},
		{"sync.batch_pause", cfg.Sync.BatchPause},
		{"sync.release_window", cfg.Sync.ReleaseWindow},
		{"sync.artist_stale_after", cfg.Sync.ArtistStaleAfter},
		{"storage.busy_timeout", cfg.Storage.BusyTimeout},
		{"control.read_timeout", cfg.Control.ReadTimeout},
		{"control.write_timeout", cfg.Control.WriteTimeout},
		{"control.idle_timeout", cfg.Control.IdleTimeout},
		{"notify.dedup_window", cfg.Notify.DedupWindow},
		{"notify.telegram.timeout", cfg.Notify.Telegram.Timeout},
	}
	for _, d := range durations {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if tz := strings.TrimSpace(cfg.Queue.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return errors.Wrapf(err, "queue.timezone: invalid %q", tz)
		}
	}
	if cfg.Queue.RetryMax < 0 {
		return errors.New("queue.retry_max must be >= 0")
	}
	if cfg.Queue.HistorySize < 0 {
		return errors.New("queue.history_size must be >= 0")
	}
	for id, o := range cfg.Queue.Jobs {
		if strings.TrimSpace(id) == "" {
			return errors.New("queue.jobs: empty job id")
		}
		if o.MaxRetries < 0 {
			return errors.Newf("queue.jobs.%s.max_retries must be >= 0", id)
		}
	}

	if cfg.Catalog.RateLimitRetries < 0 {
		return errors.New("catalog.rate_limit_retries must be >= 0")
	}
	if cfg.Sync.BatchSize < 0 {
		return errors.New("sync.batch_size must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none":
	case "sqlite", "sqlite3":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			return errors.New("storage.path is required when storage.driver=sqlite")
		}
	default:
		return errors.Newf("unknown storage.driver: %s", cfg.Storage.Driver)
	}

	tg := cfg.Notify.Telegram
	if tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			return errors.New("notify.telegram.token is required when enabled")
		}
		if tg.ChatID == 0 {
			return errors.New("notify.telegram.chat_id is required when enabled")
		}
	}
	if tg.RatePerMin < 0 {
		return errors.New("notify.telegram.rate_per_min must be >= 0")
	}
	if cfg.Notify.RetryMax < 0 {
		return errors.New("notify.retry_max must be >= 0")
	}
	return nil
}
