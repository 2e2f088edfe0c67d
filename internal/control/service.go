package control

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/storage"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

// Queue is the part of the queue engine the control surface drives.
type Queue interface {
	List() []scheduler.JobStatus
	Running() bool
	Trigger(ctx context.Context, id string) error
	TriggerAsync(id string) error
	SetEnabled(id string, enabled bool) error
	History(n int) []scheduler.RunRecord
}

// Records is the optional persistent side: the run log and the audit trail.
type Records interface {
	RecentJobRuns(ctx context.Context, jobID string, limit int) ([]storage.JobRun, error)
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Service struct {
	q   Queue
	rec Records
	log logx.Logger
	now func() time.Time
}

// NewService builds the control service. rec may be nil; runs then come from
// the in-memory history and actions are not audited.
func NewService(q Queue, rec Records, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{q: q, rec: rec, log: log.With(logx.Comp("control")), now: time.Now}
}

type actorKey struct{}

// WithActor tags ctx with who is acting; it ends up in the audit trail.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// Status never fails; it reports whatever the registry currently holds.
func (s *Service) Status() Status {
	jobs := s.q.List()
	st := Status{
		Timestamp:    s.now().UTC(),
		QueueRunning: s.q.Running(),
		TotalJobs:    len(jobs),
		Jobs:         make([]JobView, 0, len(jobs)),
	}
	for _, j := range jobs {
		if j.IsRunning {
			st.RunningJobs++
		}
		if j.Enabled {
			st.EnabledJobs++
		} else {
			st.DisabledJobs++
		}
		st.Jobs = append(st.Jobs, view(j))
	}
	return st
}

func view(j scheduler.JobStatus) JobView {
	v := JobView{
		ID:         j.ID,
		Name:       j.Name,
		Status:     string(j.State()),
		IsRunning:  j.IsRunning,
		Enabled:    j.Enabled,
		Schedule:   j.Schedule,
		Recurrence: j.Recurrence,
		NextRun:    j.NextRun,
		RetryCount: j.RetryCount,
		MaxRetries: j.MaxRetries,
		LastError:  j.LastError,
	}
	if !j.LastRun.IsZero() {
		lr := j.LastRun
		v.LastRun = &lr
	}
	return v
}

// Trigger runs job id now. Unknown and busy jobs are errors; with wait the
// job's own failure is reported in the result.
func (s *Service) Trigger(ctx context.Context, id string, wait bool) (TriggerResult, error) {
	id = strings.TrimSpace(id)
	res := TriggerResult{JobID: id, Waited: wait}

	if !wait {
		err := s.q.TriggerAsync(id)
		s.audit(ctx, "trigger", id, err)
		if err != nil {
			return res, err
		}
		res.Message = "job " + id + " triggered"
		return res, nil
	}

	// The run outlives a caller that stops waiting.
	start := s.now()
	err := s.q.Trigger(context.WithoutCancel(ctx), id)
	if errors.Is(err, scheduler.ErrJobNotFound) || errors.Is(err, scheduler.ErrJobAlreadyRunning) {
		s.audit(ctx, "trigger", id, err)
		return res, err
	}
	s.audit(ctx, "trigger", id, nil)
	res.DurationMS = s.now().Sub(start).Milliseconds()
	if err != nil {
		res.Error = err.Error()
		res.Message = "job " + id + " failed"
		return res, nil
	}
	res.Message = "job " + id + " completed"
	return res, nil
}

func (s *Service) SetEnabled(ctx context.Context, id string, enabled bool) error {
	id = strings.TrimSpace(id)
	err := s.q.SetEnabled(id, enabled)
	action := "disable"
	if enabled {
		action = "enable"
	}
	s.audit(ctx, action, id, err)
	return err
}

// Health is healthy while at least one job is enabled.
func (s *Service) Health() Health {
	jobs := s.q.List()
	q := QueueHealth{Running: s.q.Running(), TotalJobs: len(jobs)}
	for _, j := range jobs {
		if j.IsRunning {
			q.RunningJobs++
		}
		if j.Enabled {
			q.EnabledJobs++
		}
	}
	q.Healthy = q.EnabledJobs > 0
	h := Health{Status: "healthy", Timestamp: s.now().UTC(), Queue: q}
	if !q.Healthy {
		h.Status = "degraded"
	}
	return h
}

// Runs lists recent executions, newest first, optionally for one job.
func (s *Service) Runs(ctx context.Context, jobID string, n int) ([]RunView, error) {
	if n <= 0 {
		n = 20
	}
	jobID = strings.TrimSpace(jobID)
	if s.rec != nil {
		runs, err := s.rec.RecentJobRuns(ctx, jobID, n)
		if err != nil {
			return nil, errors.Wrap(err, "recent job runs")
		}
		out := make([]RunView, 0, len(runs))
		for _, r := range runs {
			out = append(out, RunView{JobID: r.JobID, Trigger: r.Trigger, StartedAt: r.StartedAt, DurationMS: r.Duration.Milliseconds(), Error: r.Error})
		}
		return out, nil
	}

	out := []RunView{}
	for _, r := range s.q.History(0) {
		if jobID != "" && r.JobID != jobID {
			continue
		}
		out = append(out, RunView{JobID: r.JobID, Trigger: string(r.Trigger), StartedAt: r.Started, DurationMS: r.Duration.Milliseconds(), Error: r.Error})
		if len(out) == n {
			break
		}
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, action, target string, err error) {
	fields := []logx.Field{logx.String("action", action), logx.Job(target), logx.String("actor", actorFrom(ctx))}
	if err != nil {
		s.log.Warn("control action rejected", append(fields, logx.Err(err))...)
	} else {
		s.log.Info("control action", fields...)
	}
	if s.rec == nil {
		return
	}
	e := storage.AuditEntry{At: s.now(), Actor: actorFrom(ctx), Action: action, Target: target, OK: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if aerr := s.rec.AppendAudit(actx, e); aerr != nil {
		s.log.Warn("audit append failed", logx.Err(aerr))
	}
}
