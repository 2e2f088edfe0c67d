package notifier

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	rtsup "stayconnect/internal/runtime/supervisor"
	"stayconnect/internal/task/scheduler"
	logx "stayconnect/pkg/logx"
)

type item struct {
	alert Alert
	key   string // dedup key, also used in events
}

type dedupWrite struct {
	key   string
	until time.Time
}

// pipeline is one Start..Stop run: its queue, workers and watchers.
type pipeline struct {
	queue   chan item
	persist chan dedupWrite // nil without persistent dedup
	sup     *rtsup.Supervisor
	unwatch context.CancelFunc
	done    chan struct{}

	mu     sync.Mutex
	closed bool
}

func (s *Service) startPipeline(ctx context.Context, cfg Config) *pipeline {
	p := &pipeline{
		queue: make(chan item, cfg.QueueSize),
		done:  make(chan struct{}),
		// alerts are best-effort; a failing worker never takes the app down
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	if cfg.PersistDedup && s.store != nil {
		p.persist = make(chan dedupWrite, 256)
		p.sup.GoRestart("dedup.persist", func(c context.Context) error {
			return s.persistMarks(c, p.persist)
		}, rtsup.WithPublishFirstError(true))
	}
	for i := range cfg.Workers {
		p.sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			return s.work(c, p.queue)
		}, rtsup.WithPublishFirstError(true))
	}

	watchCtx, unwatch := context.WithCancel(p.sup.Context())
	p.unwatch = unwatch
	if s.bus != nil {
		events, unsubscribe := s.bus.Subscribe(16, scheduler.EventJobDisabled)
		p.sup.Go0("bus.watch", func(context.Context) {
			defer unsubscribe()
			s.watchJobs(watchCtx, events)
		})
	}

	go func() {
		_ = p.sup.Wait(context.Background())
		p.sup.Cancel()
		close(p.done)
	}()
	return p
}

func (p *pipeline) enqueue(it item) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrStopped
	}
	select {
	case p.queue <- it:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *pipeline) persistMark(key string, until time.Time) {
	if p.persist == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.persist <- dedupWrite{key: key, until: until}:
	default:
	}
}

// close stops intake; workers exit once the queue is drained.
func (p *pipeline) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.unwatch()
	close(p.queue)
	if p.persist != nil {
		close(p.persist)
	}
}

// work delivers queued alerts until the queue is closed and empty.
func (s *Service) work(ctx context.Context, queue <-chan item) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-queue:
			if !ok {
				return nil
			}
			s.deliver(ctx, it)
		}
	}
}

// deliver sends one alert, retrying with jittered backoff up to RetryMax.
func (s *Service) deliver(ctx context.Context, it item) {
	s.mu.Lock()
	cfg, lim, sender := s.cfg, s.limiter, s.sender
	s.mu.Unlock()

	text := prefixForPriority(it.alert.Priority) + it.alert.Text
	if sender == nil || strings.TrimSpace(text) == "" {
		return
	}

	attempts := 1 + cfg.RetryMax
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if werr := lim.Wait(ctx); werr != nil {
			return
		}
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = sender.Send(sendCtx, text)
		cancel()
		if err == nil {
			s.remember(it.alert.Text)
			s.publish(EventSent, it.key, nil)
			return
		}
		s.log.Debug("alert send failed", logx.Int("attempt", attempt), logx.Int("attempts", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	s.log.Warn("alert dropped after retries", logx.String("key", it.key), logx.Err(err))
	s.publish(EventFailed, it.key, errors.Wrapf(err, "after %d attempts", attempts))
}

// retryDelay is the pause after the given failed attempt (1-based):
// RetryBase doubled per attempt, jittered by ±30%, never above RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}

func prefixForPriority(p int) string {
	switch {
	case p >= 9:
		return "🚨 "
	case p >= 7:
		return "⚠️ "
	default:
		return ""
	}
}
