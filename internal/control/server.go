package control

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	rtsup "stayconnect/internal/runtime/supervisor"
	logx "stayconnect/pkg/logx"
)

const DefaultAddr = "127.0.0.1:3334"

// Config controls the control HTTP server. A bind outside loopback needs a
// Token, or AllowInsecure to run open.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool
	Pprof         bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration // 0 leaves room for long waited triggers
	IdleTimeout  time.Duration
}

type Server struct {
	log logx.Logger
	svc *Service

	mu  sync.Mutex
	cfg Config
	cur *serving
}

// serving is one Start..Stop lifetime of the listener.
type serving struct {
	sup   *rtsup.Supervisor
	bound string

	mu  sync.Mutex
	ln  net.Listener // handed to the first serve attempt
	srv *http.Server
}

func NewServer(cfg Config, svc *Service, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{cfg: cfg, svc: svc, log: log.With(logx.Comp("control.http"))}
}

func (s *Server) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Addr is the bound listen address, empty while stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur == nil {
		return ""
	}
	return s.cur.bound
}

// Reconfigure applies cfg during hot reload, starting, stopping or
// rebinding the listener as needed.
func (s *Server) Reconfigure(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	prev, running := s.cfg, s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		s.Stop(ctx)
		return nil
	case running && !needsRestart(prev, cfg):
		return nil
	}
	s.Stop(ctx)
	return s.Start(ctx)
}

func needsRestart(a, b Config) bool {
	a.Enabled, b.Enabled = false, false
	return a != b
}

func listenAddr(cfg Config) string {
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		return addr
	}
	return DefaultAddr
}

// Start binds the listener and serves in the background. It is a no-op when
// disabled or already running.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil || !s.cfg.Enabled {
		return nil
	}

	cfg := s.cfg
	addr := listenAddr(cfg)
	if cfg.Token == "" && !isLoopbackAddr(addr) {
		if !cfg.AllowInsecure {
			s.log.Error("control server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
			return errors.WithHint(
				errors.Newf("control server refused insecure bind on %s", addr),
				"set control.token, or control.allow_insecure to accept an open API")
		}
		s.log.Warn("control server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "control listen %s", addr)
	}
	run := &serving{
		ln:    ln,
		bound: ln.Addr().String(),
		// the control surface is optional; it never takes the app down
		sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false)),
	}
	handler := s.handlerFor(cfg)
	run.sup.GoRestart("http.serve", func(c context.Context) error {
		return run.serve(c, cfg, handler)
	},
		rtsup.WithPublishFirstError(true),
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
	)
	s.cur = run

	s.log.Info("control server started",
		logx.String("addr", run.bound),
		logx.Bool("token_set", cfg.Token != ""),
		logx.Bool("pprof", cfg.Pprof),
		logx.String("hint", "http://"+run.bound+"/queue/status"))
	return nil
}

// Stop shuts the listener down, letting in-flight requests finish until ctx
// ends.
func (s *Server) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	run := s.cur
	s.cur = nil
	s.mu.Unlock()
	if run == nil {
		return
	}
	run.shutdown(ctx)
	s.log.Info("control server stopped")
}

// serve runs one http.Server until ctx ends. After an unexpected exit the
// supervisor calls it again and it rebinds the same address.
func (r *serving) serve(ctx context.Context, cfg Config, h http.Handler) error {
	r.mu.Lock()
	ln := r.ln
	r.ln = nil
	r.mu.Unlock()
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", r.bound); err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			return errors.Wrapf(err, "control rebind %s", r.bound)
		}
	}

	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	r.mu.Lock()
	r.srv = srv
	r.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	})
	defer stop()

	err := srv.Serve(ln)
	switch {
	case ctx.Err() != nil:
		return context.Canceled
	case err == nil, errors.Is(err, http.ErrServerClosed):
		return errors.New("control server exited unexpectedly")
	default:
		return err
	}
}

func (r *serving) shutdown(ctx context.Context) {
	r.mu.Lock()
	ln, srv := r.ln, r.srv
	r.ln = nil
	r.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			_ = srv.Close()
		}
	}
	r.sup.Cancel()
	_ = r.sup.Wait(ctx)
}
