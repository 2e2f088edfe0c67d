package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event carries queue and alert signals between components (job.started,
// job.finished, job.disabled, notify.*). Publish never blocks: a subscriber
// whose buffer is full misses the event and Dropped goes up.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe delivers events whose Type is in types (all events when empty).
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries skipped because a subscriber buffer was full.
	Dropped() uint64
}

// New returns an in-memory fanout bus with no goroutines of its own.
func New() Bus {
	return &memBus{subs: map[uint64]*subscriber{}}
}

type subscriber struct {
	ch    chan Event
	types map[string]struct{}
}

func (s *subscriber) wants(t string) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// Publish sends under the read lock. Sends never block, and unsubscribe
// closes a channel only under the write lock, so no send hits a closed channel.
func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	sub := &subscriber{ch: make(chan Event, buffer)}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(sub.ch)
		})
	}
	return sub.ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
