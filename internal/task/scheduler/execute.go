package scheduler

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/eventbus"
	logx "stayconnect/pkg/logx"
)

// Tick runs one scan: every enabled, idle job whose next run is due is claimed
// and dispatched to its own goroutine. Tick does not wait for the actions.
//
// A Tick that starts while another scan is still in progress does nothing and
// reports skipped=true.
func (s *Service) Tick(ctx context.Context) (dispatched int, skipped bool) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.log.Debug("scan already in progress; tick skipped")
		return 0, true
	}
	defer s.scanning.Store(false)

	s.mu.Lock()
	now := s.nowLocked()
	var due []*entry
	for _, id := range s.order {
		e := s.jobs[id]
		if !e.enabled || e.running || e.nextRun.After(now) {
			continue
		}
		s.claimLocked(e, now)
		due = append(due, e)
	}
	s.mu.Unlock()

	for _, e := range due {
		s.dispatch(e, TriggerSchedule)
	}
	if len(due) > 0 {
		s.log.Debug("scan dispatched jobs", logx.Int("count", len(due)))
	}
	return len(due), false
}

// Trigger runs job id now, out of band from the tick, and waits for it.
// The enabled flag is ignored; a running job yields ErrJobAlreadyRunning.
// The returned error is the action's error, if any.
func (s *Service) Trigger(ctx context.Context, id string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	e, err := s.claim(id)
	if err != nil {
		return err
	}
	return s.execute(ctx, e, TriggerManual)
}

// TriggerAsync claims job id and runs it in the background.
// Claim errors are returned synchronously.
func (s *Service) TriggerAsync(id string) error {
	e, err := s.claim(id)
	if err != nil {
		return err
	}
	s.dispatch(e, TriggerManual)
	return nil
}

func (s *Service) claim(id string) (*entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrJobNotFound, "job %q", id)
	}
	if e.running {
		return nil, errors.Wrapf(ErrJobAlreadyRunning, "job %q", id)
	}
	s.claimLocked(e, s.nowLocked())
	return e, nil
}

// claimLocked marks e running. Every execution path goes through here.
func (s *Service) claimLocked(e *entry, now time.Time) {
	e.running = true
	e.lastRun = now
	if s.active == 0 {
		s.drained = make(chan struct{})
	}
	s.active++
}

func (s *Service) dispatch(e *entry, trig Trigger) {
	s.execSup.Go0("job."+e.job.ID, func(ctx context.Context) {
		_ = s.execute(ctx, e, trig)
	})
}

// execute runs a claimed job and applies the state transition.
func (s *Service) execute(ctx context.Context, e *entry, trig Trigger) error {
	defer s.release()

	s.mu.Lock()
	job := e.job
	started := e.lastRun
	retry := e.retryCount
	maxRetries := s.maxRetriesLocked(e)
	s.mu.Unlock()

	log := s.log.With(logx.Job(job.ID), logx.String("trigger", string(trig)))
	log.Info("job started", logx.Int("retry", retry), logx.Int("max_retries", maxRetries))
	s.publish(EventJobStarted, JobEvent{JobID: job.ID, Name: job.Name, Trigger: trig, At: started, RetryCount: retry, MaxRetries: maxRetries})

	err := invoke(ctx, job.Run)

	s.mu.Lock()
	finished := s.nowLocked()
	took := finished.Sub(started)
	wasEnabled := e.enabled
	maxRetries = s.maxRetriesLocked(e)
	e.running = false
	e.runs++
	e.lastDuration = took
	disabled := false
	if err == nil {
		e.retryCount = 0
		e.lastErr = ""
		e.nextRun = s.nextRunLocked(e.job, finished)
	} else {
		e.lastErr = err.Error()
		e.retryCount++
		if e.retryCount >= maxRetries {
			e.retryCount = maxRetries
			e.enabled = false
			disabled = wasEnabled
			e.nextRun = s.nextRunLocked(e.job, finished)
		} else {
			e.nextRun = finished.Add(s.cfg.RetryDelay)
		}
	}
	ev := JobEvent{
		JobID:      job.ID,
		Name:       job.Name,
		Trigger:    trig,
		At:         finished,
		Duration:   took,
		RetryCount: e.retryCount,
		MaxRetries: maxRetries,
		NextRun:    e.nextRun,
		Error:      e.lastErr,
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		log.Info("job succeeded", logx.Duration("took", took), logx.Time("next_run", ev.NextRun))
	case disabled:
		log.Error("job disabled after max retries", logx.Err(err), logx.Int("retry", ev.RetryCount), logx.Int("max_retries", maxRetries))
	case ev.RetryCount >= maxRetries:
		log.Warn("job failed while disabled", logx.Err(err), logx.Int("retry", ev.RetryCount))
	default:
		log.Warn("job failed; retry scheduled", logx.Err(err), logx.Int("retry", ev.RetryCount), logx.Int("max_retries", maxRetries), logx.Time("next_run", ev.NextRun))
	}

	s.record(RunRecord{JobID: job.ID, Trigger: trig, Started: started, Duration: took, Error: ev.Error})
	s.publish(EventJobFinished, ev)
	if disabled {
		s.publish(EventJobDisabled, ev)
	}
	return err
}

// release undoes the in-flight accounting of claimLocked once the execution
// has been fully recorded.
func (s *Service) release() {
	s.mu.Lock()
	s.active--
	if s.active == 0 && s.drained != nil {
		close(s.drained)
	}
	s.mu.Unlock()
}

// invoke runs fn, turning a panic into an error.
func invoke(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.WithDetail(errors.Newf("job panicked: %v", r), string(debug.Stack()))
		}
	}()
	return fn(ctx)
}

func (s *Service) publish(typ string, ev JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
