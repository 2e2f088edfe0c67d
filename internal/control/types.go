package control

import (
	"time"

	"github.com/cockroachdb/errors"
)

var ErrUnauthorized = errors.New("control: unauthorized")

// Status is the queue overview returned by GET /queue/status.
type Status struct {
	Timestamp    time.Time `json:"timestamp"`
	QueueRunning bool      `json:"queueRunning"`
	TotalJobs    int       `json:"totalJobs"`
	RunningJobs  int       `json:"runningJobs"`
	EnabledJobs  int       `json:"enabledJobs"`
	DisabledJobs int       `json:"disabledJobs"`
	Jobs         []JobView `json:"jobs"`
}

type JobView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"` // running | enabled | disabled
	IsRunning  bool       `json:"isRunning"`
	Enabled    bool       `json:"enabled"`
	Schedule   string     `json:"schedule"`
	Recurrence string     `json:"recurrence"`
	LastRun    *time.Time `json:"lastRun"`
	NextRun    time.Time  `json:"nextRun"`
	RetryCount int        `json:"retryCount"`
	MaxRetries int        `json:"maxRetries"`
	LastError  string     `json:"lastError,omitempty"`
}

// TriggerRequest is the body of POST /queue/trigger.
type TriggerRequest struct {
	JobID string `json:"jobId"`
	Wait  bool   `json:"wait"`
}

// TriggerResult reports a manual run. Error carries the job's own failure
// when the caller waited; the trigger itself still succeeded.
type TriggerResult struct {
	JobID      string `json:"jobId"`
	Message    string `json:"message"`
	Waited     bool   `json:"waited"`
	DurationMS int64  `json:"durationMs,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ToggleRequest is the body of POST /queue/toggle.
type ToggleRequest struct {
	JobID   string `json:"jobId"`
	Enabled *bool  `json:"enabled"`
}

type Message struct {
	Message string `json:"message"`
}

type Health struct {
	Status    string      `json:"status"` // healthy | degraded
	Timestamp time.Time   `json:"timestamp"`
	Queue     QueueHealth `json:"queue"`
}

type QueueHealth struct {
	Running     bool `json:"running"`
	TotalJobs   int  `json:"totalJobs"`
	RunningJobs int  `json:"runningJobs"`
	EnabledJobs int  `json:"enabledJobs"`
	Healthy     bool `json:"healthy"`
}

type RunView struct {
	JobID      string    `json:"jobId"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"startedAt"`
	DurationMS int64     `json:"durationMs"`
	Error      string    `json:"error,omitempty"`
}

// ErrorBody is the JSON shape of every non-2xx answer.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
