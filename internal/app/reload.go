package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"stayconnect/internal/config"
	logx "stayconnect/pkg/logx"
)

// watchConfig starts the file watcher and the loop applying reloads.
func (a *App) watchConfig() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
}

// applyConfig pushes a validated config into the running components.
func (a *App) applyConfig(c context.Context, prev, next *config.Config) {
	sections, attrs, jobIDs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	changed := func(s string) bool { return slices.Contains(sections, s) }

	if changed("storage") {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	if changed("logging") {
		if err := a.logs.Apply(mapLoggingConfig(next)); err != nil {
			a.log.Warn("log file sink disabled", logx.Err(err))
		}
	}

	if changed("queue") {
		if sc, err := mapSchedulerConfig(next); err != nil {
			a.log.Warn("invalid queue config; keeping previous", logx.Err(err))
		} else {
			a.sched.Apply(sc)
		}
		switch running := a.sched.Running(); {
		case running && !next.Queue.Enabled:
			a.log.Info("queue disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.sched.Stop(stopCtx)
			cancel()
		case !running && next.Queue.Enabled:
			a.log.Info("queue enabled via config")
			a.sched.Start(c)
		}
	}

	for _, def := range a.builtin {
		if !slices.Contains(jobIDs, def.ID) {
			continue
		}
		if err := a.registerJob(def, next); err != nil {
			a.log.Warn("job override rejected", logx.Job(def.ID), logx.Err(err))
		}
	}

	if changed("catalog") {
		if cc, err := mapCatalogConfig(next); err != nil {
			a.log.Warn("invalid catalog config; keeping previous", logx.Err(err))
		} else {
			a.catalog.Apply(cc)
		}
	}

	if changed("sync") {
		if jc, err := mapJobsConfig(next); err != nil {
			a.log.Warn("invalid sync config; keeping previous", logx.Err(err))
		} else {
			a.releases.Apply(jc)
			a.artists.Apply(jc)
		}
	}

	if changed("control") {
		if cc, err := mapControlConfig(next); err != nil {
			a.log.Warn("invalid control config; keeping previous", logx.Err(err))
		} else if err := a.server.Reconfigure(c, cc); err != nil {
			a.log.Warn("control server reconfigure failed", logx.Err(err))
		}
	}

	if changed("notify") {
		a.reloadNotifier(c, next)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	if len(jobIDs) > 0 {
		fields = append(fields, logx.Any("jobs", jobIDs))
	}
	a.log.Info("config reloaded", fields...)
}

// reloadNotifier restarts the alert pipeline with the new sender and tunables.
func (a *App) reloadNotifier(c context.Context, next *config.Config) {
	ncfg, err := mapNotifierConfig(next)
	if err != nil {
		a.log.Warn("invalid notify config; keeping previous", logx.Err(err))
		return
	}
	sender, err := a.telegramSender(next)
	if err != nil {
		a.log.Warn("telegram sender rejected; keeping previous", logx.Err(err))
		return
	}

	stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
	a.notif.Stop(stopCtx)
	cancel()

	a.notif.Apply(ncfg)
	a.notif.SetSender(sender)
	a.notif.Start(c)
}
