package app

import (
	"context"
	"time"

	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

// recordRuns appends every finished execution to the run log. It outlives
// the app context so runs finishing during shutdown are kept; the returned
// func stops it after draining what is buffered.
func (a *App) recordRuns() (stop func()) {
	events, unsub := a.bus.Subscribe(128, scheduler.EventJobFinished)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	a.sup.Go0("runs.record", func(context.Context) {
		defer close(done)
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case e, ok := <-events:
						if !ok {
							return
						}
						if je, ok := e.Data.(scheduler.JobEvent); ok {
							a.appendRun(je)
						}
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				je, ok := e.Data.(scheduler.JobEvent)
				if !ok {
					continue
				}
				a.appendRun(je)
			}
		}
	})
	return func() {
		cancel()
		<-done
	}
}

func (a *App) appendRun(je scheduler.JobEvent) {
	run := runFromEvent(je)
	// The run is recorded even while shutting down.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.store.AppendJobRun(ctx, run); err != nil {
		a.log.Warn("job run not recorded", logx.Job(je.JobID), logx.Err(err))
	}
}

func runFromEvent(je scheduler.JobEvent) storage.JobRun {
	return storage.JobRun{
		JobID:      je.JobID,
		Trigger:    string(je.Trigger),
		StartedAt:  je.At.Add(-je.Duration),
		Duration:   je.Duration,
		RetryCount: je.RetryCount,
		Error:      je.Error,
	}
}

// logEvents mirrors bus traffic at debug level.
func (a *App) logEvents() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}
