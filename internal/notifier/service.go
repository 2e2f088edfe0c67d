package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"

	"stayconnect/internal/eventbus"
	logx "stayconnect/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

const historySize = 100

// Service queues operator alerts and delivers them in the background.
// It is safe for concurrent use; Start and Stop may be repeated.
type Service struct {
	log   logx.Logger
	bus   eventbus.Bus
	store DedupStore
	dedup *dedupCache

	mu      sync.Mutex
	cfg     Config
	sender  Sender
	limiter *rate.Limiter
	run     *pipeline

	hmu     sync.Mutex
	history []HistoryItem
}

// New builds the service. sender and store may be nil; without a sender the
// service stays disabled.
func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus, store DedupStore) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:    log.With(logx.Comp("notifier")),
		bus:    bus,
		store:  store,
		sender: sender,
		dedup:  newDedupCache(),
	}
	s.setConfig(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled && s.sender != nil
}

// Apply swaps tunables. Worker count and queue size take effect on the next
// Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setConfig(cfg)
}

// SetSender replaces the delivery backend, e.g. after a token change.
func (s *Service) SetSender(sender Sender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

func (s *Service) setConfig(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RatePerMin)/60), min(cfg.RatePerMin, 5))
	s.dedup.setMax(cfg.DedupMaxEntries)
}

// Start launches the workers and the job.disabled watcher. It is a no-op
// while disabled or already running.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run != nil {
		return
	}
	if !s.cfg.Enabled || s.sender == nil {
		s.log.Info("alerts disabled")
		return
	}
	s.run = s.startPipeline(ctx, s.cfg)
	s.log.Info("alerts started", logx.Int("workers", s.cfg.Workers), logx.Bool("persist_dedup", s.run.persist != nil))
}

// Stop refuses new alerts and lets the workers drain the queue until ctx
// ends; what is left after that is dropped.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	p := s.run
	s.run = nil
	s.mu.Unlock()
	if p == nil {
		return
	}

	p.close()
	select {
	case <-p.done:
		s.log.Info("alerts stopped")
	case <-ctx.Done():
		p.sup.Cancel()
		s.log.Warn("alerts stop deadline reached; pending alerts dropped", logx.Int("pending", len(p.queue)))
	}
}

// Notify queues a. Inside the dedup window a repeat of the same key is
// dropped without error.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	enabled := s.cfg.Enabled && s.sender != nil
	window := s.cfg.DedupWindow
	p := s.run
	s.mu.Unlock()

	switch {
	case !enabled:
		return ErrDisabled
	case p == nil:
		return ErrStopped
	}

	key := dedupKey(a)
	if window > 0 && !s.admit(ctx, p, key, window) {
		s.publish(EventDeduped, key, nil)
		return nil
	}
	if err := p.enqueue(item{alert: a, key: key}); err != nil {
		if errors.Is(err, ErrQueueFull) {
			s.publish(EventDropped, key, err)
		}
		return err
	}
	s.publish(EventQueued, key, nil)
	return nil
}

// admit applies the dedup window, consulting storage for marks written by an
// earlier process when persistence is on.
func (s *Service) admit(ctx context.Context, p *pipeline, key string, window time.Duration) bool {
	now := time.Now()
	if s.dedup.suppressed(key, now) {
		return false
	}
	if p.persist != nil && s.store != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := s.store.GetDedup(lookupCtx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dedup.mark(key, until, now)
			return false
		}
	}
	until := now.Add(window)
	s.dedup.mark(key, until, now)
	p.persistMark(key, until)
	return true
}

// Snapshot lists recently delivered alerts, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) remember(text string) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, HistoryItem{At: time.Now(), Text: text})
	if over := len(s.history) - historySize; over > 0 {
		s.history = s.history[over:]
	}
}

func (s *Service) publish(typ, key string, err error) {
	if s.bus == nil {
		return
	}
	ev := NotificationEvent{Key: key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}
