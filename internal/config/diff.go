package config

import (
	"reflect"
	"sort"
	"strings"

	logx "stayconnect/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe structured
// attrs for logging (secrets are reported only as *_set booleans), and (3) the
// job ids whose overrides changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 7)
	attrs := make([]logx.Field, 0, 16)
	set := func(s string) bool { return strings.TrimSpace(s) != "" }

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	oq, nq := oldCfg.Queue, newCfg.Queue
	oq.Jobs, nq.Jobs = nil, nil
	if !reflect.DeepEqual(oq, nq) {
		changed = append(changed, "queue")
		attrs = append(attrs,
			logx.Bool("queue.enabled", nq.Enabled),
			logx.String("queue.tick", nq.Tick),
			logx.String("queue.retry_delay", nq.RetryDelay),
			logx.Int("queue.retry_max", nq.RetryMax),
			logx.String("queue.timezone", nq.Timezone),
		)
	}
	jobs := changedJobs(oldCfg.Queue.Jobs, newCfg.Queue.Jobs)
	if len(jobs) > 0 {
		changed = append(changed, "queue.jobs")
	}

	if oldCfg.Catalog != newCfg.Catalog {
		changed = append(changed, "catalog")
		attrs = append(attrs,
			logx.Bool("catalog.client_id_set", set(newCfg.Catalog.ClientID)),
			logx.Bool("catalog.client_secret_set", set(newCfg.Catalog.ClientSecret)),
			logx.Int("catalog.rate_limit_retries", newCfg.Catalog.RateLimitRetries),
		)
	}

	if oldCfg.Sync != newCfg.Sync {
		changed = append(changed, "sync")
		attrs = append(attrs,
			logx.Int("sync.batch_size", newCfg.Sync.BatchSize),
			logx.String("sync.release_window", newCfg.Sync.ReleaseWindow),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}

	if oldCfg.Control != newCfg.Control {
		changed = append(changed, "control")
		attrs = append(attrs,
			logx.Bool("control.enabled", newCfg.Control.Enabled),
			logx.String("control.addr", strings.TrimSpace(newCfg.Control.Addr)),
			logx.Bool("control.token_set", set(newCfg.Control.Token)),
			logx.Bool("control.allow_insecure", newCfg.Control.AllowInsecure),
			logx.Bool("control.pprof", newCfg.Control.Pprof),
		)
	}

	if oldCfg.Notify != newCfg.Notify {
		changed = append(changed, "notify")
		attrs = append(attrs,
			logx.Bool("notify.telegram.enabled", newCfg.Notify.Telegram.Enabled),
			logx.Bool("notify.telegram.token_set", set(newCfg.Notify.Telegram.Token)),
			logx.Int("notify.telegram.rate_per_min", newCfg.Notify.Telegram.RatePerMin),
		)
	}

	return changed, attrs, jobs
}

func changedJobs(a, b map[string]JobOverride) []string {
	var out []string
	for id, o := range b {
		if prev, ok := a[id]; !ok || !reflect.DeepEqual(prev, o) {
			out = append(out, id)
		}
	}
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
