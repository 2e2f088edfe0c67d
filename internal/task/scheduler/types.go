package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"stayconnect/internal/eventbus"
	rtsup "stayconnect/internal/runtime/supervisor"
	logx "stayconnect/pkg/logx"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrInvalidJob        = errors.New("invalid job")
)

const (
	DefaultTick        = 60 * time.Second
	DefaultRetryDelay  = 5 * time.Minute
	DefaultRetryMax    = 3
	DefaultHistorySize = 100
)

// Event types published on the bus. Data is a JobEvent.
const (
	EventJobStarted  = "job.started"
	EventJobFinished = "job.finished"
	EventJobDisabled = "job.disabled"
)

// Config controls the queue engine. Zero values fall back to the defaults above.
type Config struct {
	Tick        time.Duration
	RetryDelay  time.Duration
	RetryMax    int
	Timezone    string // IANA TZ used for schedule computation, e.g. "Europe/Paris"
	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = DefaultTick
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	return c
}

// Job is a job definition. Run receives no job-specific arguments; capture them
// in the closure at registration time.
type Job struct {
	ID         string
	Name       string
	Schedule   string // 5-field cron string, see ParseRecurrence for the supported subset
	Enabled    bool
	MaxRetries int // <=0 uses Config.RetryMax
	Run        func(ctx context.Context) error
}

type State string

const (
	StateRunning  State = "running"
	StateEnabled  State = "enabled"
	StateDisabled State = "disabled"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// JobStatus is a read-only copy of a job's bookkeeping.
type JobStatus struct {
	ID           string
	Name         string
	Schedule     string
	Recurrence   string // human readable form of Schedule
	Enabled      bool
	IsRunning    bool
	LastRun      time.Time // zero when never run
	NextRun      time.Time
	RetryCount   int
	MaxRetries   int
	LastError    string
	LastDuration time.Duration
	Runs         uint64
}

func (st JobStatus) State() State {
	switch {
	case st.IsRunning:
		return StateRunning
	case st.Enabled:
		return StateEnabled
	default:
		return StateDisabled
	}
}

// RunRecord is one finished execution kept in the history ring.
type RunRecord struct {
	JobID    string
	Trigger  Trigger
	Started  time.Time
	Duration time.Duration
	Error    string
}

// JobEvent is the payload of the job.* bus events.
type JobEvent struct {
	JobID      string        `json:"job_id"`
	Name       string        `json:"name"`
	Trigger    Trigger       `json:"trigger"`
	At         time.Time     `json:"at"`
	Duration   time.Duration `json:"duration,omitempty"`
	RetryCount int           `json:"retry_count"`
	MaxRetries int           `json:"max_retries"`
	NextRun    time.Time     `json:"next_run,omitempty"`
	Error      string        `json:"error,omitempty"`
}

type entry struct {
	job Job

	enabled      bool
	running      bool
	lastRun      time.Time
	nextRun      time.Time
	retryCount   int
	lastErr      string
	lastDuration time.Duration
	runs         uint64
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now. Tests use it to simulate time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

type Service struct {
	mu sync.Mutex

	log logx.Logger
	cfg Config
	loc *time.Location
	bus eventbus.Bus
	now func() time.Time

	order []string
	jobs  map[string]*entry

	// scanning guards Tick against overlapping scans.
	scanning atomic.Bool

	loopSup *rtsup.Supervisor
	reset   chan time.Duration

	// execSup hosts job executions; it outlives Stop so in-flight jobs finish.
	execSup *rtsup.Supervisor
	active  int
	drained chan struct{}

	hmu     sync.Mutex
	history []RunRecord
}
