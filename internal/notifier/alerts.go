package notifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/eventbus"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

// JobDisabledAlert renders the alert sent when the queue gives up on a job.
func JobDisabledAlert(ev scheduler.JobEvent) Alert {
	name := ev.Name
	if name == "" {
		name = ev.JobID
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Job %s (%s) disabled after %d failed attempts.", name, ev.JobID, ev.RetryCount)
	if ev.Error != "" {
		fmt.Fprintf(&b, "\nLast error: %s", ev.Error)
	}
	b.WriteString("\nRe-enable it with: stayconnect jobs enable " + ev.JobID)
	return Alert{Key: "job.disabled:" + ev.JobID, Priority: 8, Text: b.String()}
}

// watchJobs turns job.disabled events into alerts until ctx ends.
func (s *Service) watchJobs(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			je, ok := ev.Data.(scheduler.JobEvent)
			if !ok {
				continue
			}
			if err := s.Notify(ctx, JobDisabledAlert(je)); err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, context.Canceled) {
				s.log.Warn("job disabled alert not queued", logx.Job(je.JobID), logx.Err(err))
			}
		}
	}
}
