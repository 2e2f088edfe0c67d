package notifier

import (
	"context"
	"time"
)

// Config controls the async alert pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerMin      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	PersistDedup    bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.RatePerMin <= 0 {
		c.RatePerMin = 20
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 500
	}
	return c
}

// Alert is one operator message. Key groups alerts for dedup; empty means
// the text itself is the key.
type Alert struct {
	Key      string
	Priority int // 0..10, >=7 gets a warning prefix
	Text     string
}

// Sender delivers a rendered alert.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// DedupStore persists suppress-until marks across restarts.
type DedupStore interface {
	PutDedup(ctx context.Context, key string, until time.Time) error
	GetDedup(ctx context.Context, key string) (until time.Time, ok bool, err error)
}

// HistoryItem is one delivered alert, without its priority prefix.
type HistoryItem struct {
	At   time.Time
	Text string
}

// NotificationEvent is the bus payload for every notifier.* event.
type NotificationEvent struct {
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}

// Event types published on the bus. Data is a NotificationEvent.
const (
	EventQueued  = "notifier.queued"
	EventDeduped = "notifier.deduped"
	EventDropped = "notifier.dropped"
	EventSent    = "notifier.sent"
	EventFailed  = "notifier.failed"
)
