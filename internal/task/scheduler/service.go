package scheduler

import (
	"context"
	"strings"
	"time"

	"stayconnect/internal/eventbus"
	rtsup "stayconnect/internal/runtime/supervisor"
	logx "stayconnect/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	s := &Service{
		cfg:   cfg,
		log:   log,
		bus:   bus,
		now:   time.Now,
		jobs:  map[string]*entry{},
		reset: make(chan time.Duration, 1),
	}
	for _, o := range opts {
		o(s)
	}
	s.loc = loadLocation(cfg.Timezone, log)
	s.execSup = rtsup.New(context.Background(),
		rtsup.WithLogger(log.With(logx.String("sup", "jobs"))),
		// a failing job must never take down its siblings
		rtsup.WithCancelOnError(false),
	)
	return s
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone; using local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Running reports whether the tick loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loopSup != nil
}

// Apply updates tunables at runtime. A new tick period takes effect on the
// running loop without a restart.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	if strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone) {
		s.loc = loadLocation(cfg.Timezone, s.log)
	}
	running := s.loopSup != nil
	s.mu.Unlock()

	s.trimHistory(cfg.HistorySize)

	if running && prev.Tick != cfg.Tick {
		select {
		case s.reset <- cfg.Tick:
		default:
			// a pending reset is replaced by the newest period
			select {
			case <-s.reset:
			default:
			}
			s.reset <- cfg.Tick
		}
	}
}

// Start begins ticking. Calling Start on a started service logs a warning and
// does nothing.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.loopSup != nil {
		s.mu.Unlock()
		s.log.Warn("queue already started")
		return
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("sup", "queue"))),
		rtsup.WithCancelOnError(false),
	)
	s.loopSup = sup
	period := s.cfg.Tick
	jobs := len(s.order)
	loc := s.loc
	s.mu.Unlock()

	sup.GoRestart("queue.tick", func(c context.Context) error {
		return s.loop(c, s.Config().Tick)
	}, rtsup.WithRestartBackoff(time.Second, 30*time.Second))

	s.log.Info("queue started", logx.Duration("tick", period), logx.Int("jobs", jobs), logx.String("tz", loc.String()))
}

// Stop halts the tick loop. In-flight executions keep running.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	sup := s.loopSup
	s.loopSup = nil
	s.mu.Unlock()
	if sup == nil {
		return
	}

	start := time.Now()
	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("queue stop incomplete", logx.Err(err))
	}
	s.log.Info("queue stopped", logx.Duration("took", time.Since(start)))
}

// Close stops the loop and waits for in-flight executions. When ctx expires
// first, running actions see their context cancelled.
func (s *Service) Close(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.Stop(ctx)
	if err := s.Wait(ctx); err != nil {
		s.execSup.Cancel()
		return err
	}
	return nil
}

// Wait blocks until no job action is executing or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	s.mu.Lock()
	if s.active == 0 {
		s.mu.Unlock()
		return nil
	}
	ch := s.drained
	s.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) loop(ctx context.Context, period time.Duration) error {
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-s.reset:
			t.Reset(p)
			s.log.Info("queue tick period changed", logx.Duration("tick", p))
		case <-t.C:
			s.Tick(ctx)
		}
	}
}
