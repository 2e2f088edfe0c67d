package supervisor

import (
	"context"
	"math/rand/v2"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "stayconnect/pkg/logx"
)

// Supervisor runs named goroutines under one cancellable context. Panics are
// recovered and count as errors; the first error is kept for Err.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	mu       sync.Mutex
	active   map[string]int
	panics   int
	firstErr error

	wg       sync.WaitGroup
	doneOnce sync.Once
	done     chan struct{}
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the shared context on the first error.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, active: map[string]int{}, done: make(chan struct{})}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Active lists the names of goroutines still running, sorted. Shutdown uses
// it to report what did not exit in time.
func (s *Supervisor) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.active))
	for n := range s.active {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Panics counts recovered panics, restarts included.
func (s *Supervisor) Panics() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panics
}

func (s *Supervisor) track(name string, delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active[name] += delta; s.active[name] <= 0 {
		delete(s.active, name)
	}
}

// Go runs fn in a tracked goroutine. A returned context.Canceled is a clean exit.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	s.track(name, 1)
	go func() {
		defer s.wg.Done()
		defer s.track(name, -1)

		s.log.Debug("goroutine started", logx.String("name", name))
		if err := s.guard(name, fn); err != nil && !errors.Is(err, context.Canceled) {
			s.fail(errors.Wrap(err, name))
		}
		s.log.Debug("goroutine stopped", logx.String("name", name))
	}()
}

// Go0 is Go for loops that cannot fail.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// guard runs fn, turning a panic into an error carrying the stack as detail.
func (s *Supervisor) guard(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.panics++
			s.mu.Unlock()
			err = errors.WithDetail(errors.Newf("panic in %s: %v", name, r), string(debug.Stack()))
			s.log.Error("goroutine panicked", logx.String("name", name), logx.Err(err))
		}
	}()
	return fn(s.ctx)
}

type RestartOption func(*restartCfg)

type restartCfg struct {
	minBackoff      time.Duration
	maxBackoff      time.Duration
	healthyAfter    time.Duration
	publishFirstErr bool
}

// WithRestartBackoff sets the exponential backoff window between restarts.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(c *restartCfg) {
		if min > 0 {
			c.minBackoff = min
		}
		if max > 0 {
			c.maxBackoff = max
		}
	}
}

// WithPublishFirstError records the first failure in Err without cancelling.
func WithPublishFirstError(enabled bool) RestartOption {
	return func(c *restartCfg) { c.publishFirstErr = enabled }
}

// GoRestart keeps fn running: an error or panic restarts it after a jittered
// backoff; nil, context.Canceled or a cancelled context stop it for good.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	if fn == nil {
		return
	}
	cfg := restartCfg{minBackoff: 250 * time.Millisecond, maxBackoff: 30 * time.Second, healthyAfter: 30 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	cfg.maxBackoff = max(cfg.maxBackoff, cfg.minBackoff)

	s.Go0(name, func(ctx context.Context) {
		backoff := cfg.minBackoff
		for restarts := 0; ctx.Err() == nil; restarts++ {
			started := time.Now()
			err := s.guard(name, fn)
			if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if cfg.publishFirstErr {
				s.setErr(errors.Wrap(err, name))
			}
			if time.Since(started) >= cfg.healthyAfter {
				backoff = cfg.minBackoff
			}

			wait := backoff + rand.N(backoff/5+1)
			s.log.Warn("goroutine restarting", logx.String("name", name), logx.Int("restarts", restarts+1), logx.Duration("backoff", wait), logx.Err(err))

			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			backoff = min(backoff*2, cfg.maxBackoff)
		}
	})
}

// Stop cancels and waits.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every goroutine exited or ctx is done, and returns Err.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.done)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.Err()
	}
}

func (s *Supervisor) fail(err error) {
	s.setErr(err)
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.firstErr == nil {
		s.firstErr = err
	}
}
