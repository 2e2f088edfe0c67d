package scheduler

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	logx "stayconnect/pkg/logx"
)

// Register inserts job, or replaces the job with the same ID.
//
// Replacing resets the retry count, enabled flag and next run to the new
// definition. An execution already in flight keeps its running flag and
// finishes against the new definition.
func (s *Service) Register(job Job) error {
	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		return errors.Wrap(ErrInvalidJob, "id required")
	}
	if job.Run == nil {
		return errors.Wrapf(ErrInvalidJob, "job %q: run func required", job.ID)
	}
	if strings.TrimSpace(job.Name) == "" {
		job.Name = job.ID
	}
	s.mu.Lock()
	now := s.nowLocked()
	e, replaced := s.jobs[job.ID]
	if !replaced {
		e = &entry{}
		s.jobs[job.ID] = e
		s.order = append(s.order, job.ID)
	}
	e.job = job
	e.enabled = job.Enabled
	e.retryCount = 0
	e.lastErr = ""
	e.nextRun = s.nextRunLocked(job, now)
	next := e.nextRun
	s.mu.Unlock()

	s.log.Info("job registered",
		logx.Job(job.ID),
		logx.String("schedule", job.Schedule),
		logx.Bool("enabled", job.Enabled),
		logx.Bool("replaced", replaced),
		logx.Time("next_run", next),
	)
	return nil
}

// Get returns a snapshot of one job.
func (s *Service) Get(id string) (JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return JobStatus{}, errors.Wrapf(ErrJobNotFound, "job %q", id)
	}
	return s.statusLocked(e), nil
}

// List returns snapshots of all jobs in registration order.
func (s *Service) List() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.statusLocked(s.jobs[id]))
	}
	return out
}

// SetEnabled flips the enabled flag. It neither touches a running execution
// nor resets the retry count.
func (s *Service) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(ErrJobNotFound, "job %q", id)
	}
	prev := e.enabled
	e.enabled = enabled
	s.mu.Unlock()

	if prev != enabled {
		s.log.Info("job toggled", logx.Job(id), logx.Bool("enabled", enabled))
	}
	return nil
}

func (s *Service) statusLocked(e *entry) JobStatus {
	rec := "every hour (fallback)"
	if r, err := ParseRecurrence(e.job.Schedule); err == nil {
		rec = r.String()
	}
	return JobStatus{
		ID:           e.job.ID,
		Name:         e.job.Name,
		Schedule:     e.job.Schedule,
		Recurrence:   rec,
		Enabled:      e.enabled,
		IsRunning:    e.running,
		LastRun:      e.lastRun,
		NextRun:      e.nextRun,
		RetryCount:   e.retryCount,
		MaxRetries:   s.maxRetriesLocked(e),
		LastError:    e.lastErr,
		LastDuration: e.lastDuration,
		Runs:         e.runs,
	}
}

func (s *Service) maxRetriesLocked(e *entry) int {
	if e.job.MaxRetries > 0 {
		return e.job.MaxRetries
	}
	return s.cfg.RetryMax
}

func (s *Service) nowLocked() time.Time {
	return s.now().In(s.loc)
}

// nextRunLocked computes the next scheduled run and logs every fallback use.
func (s *Service) nextRunLocked(job Job, now time.Time) time.Time {
	next, ok := NextRun(job.Schedule, now)
	if !ok {
		s.log.Warn("unsupported schedule; next run in 1h",
			logx.Job(job.ID), logx.String("schedule", job.Schedule), logx.Time("next_run", next))
	}
	return next
}
