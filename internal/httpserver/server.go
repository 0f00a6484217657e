// Package httpserver owns the inbound HTTP listener.
//
// The listener is bound synchronously in Start so a bad address fails startup,
// then served under a supervisor restart loop. pprof can be mounted on the same
// mux behind a token.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	rtsup "tvrelay/internal/runtime/supervisor"
	logx "tvrelay/pkg/logx"
)

const (
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 30 * time.Second
	DefaultIdleTimeout  = 60 * time.Second

	defaultAddr = "0.0.0.0:8000"
)

type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	Pprof PprofConfig
}

// Routes mounts application handlers on a fresh mux.
type Routes func(mux *http.ServeMux)

// run is one bound listener and the supervisor serving it.
type run struct {
	sup *rtsup.Supervisor

	mu  sync.Mutex
	ln  net.Listener
	srv *http.Server
}

func (r *run) swap(ln net.Listener, srv *http.Server) {
	r.mu.Lock()
	r.ln, r.srv = ln, srv
	r.mu.Unlock()
}

func (r *run) addr() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return ""
	}
	return r.ln.Addr().String()
}

type Service struct {
	log    logx.Logger
	routes Routes

	// lifecycle serializes Start, Stop and Reconfigure.
	lifecycle sync.Mutex

	mu     sync.Mutex
	cfg    Config
	parent context.Context
	cur    *run
}

func New(cfg Config, routes Routes, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, routes: routes, log: log.With(logx.String("comp", "http"))}
}

func (s *Service) active() *run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Addr returns the bound listener address, or "" when not listening.
func (s *Service) Addr() string {
	if r := s.active(); r != nil {
		return r.addr()
	}
	return ""
}

// Start binds the listener and serves in the background. Calling it while
// already running is a no-op.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.start(ctx)
}

func (s *Service) start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return nil
	}
	addr := listenAddr(s.cfg)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	r := &run{ln: ln, sup: rtsup.New(ctx, rtsup.WithLogger(s.log), rtsup.WithCancelOnError(false))}
	s.parent, s.cur = ctx, r
	r.sup.GoRestart("http.serve", func(c context.Context) error { return s.serve(c, r) }, 500*time.Millisecond, 10*time.Second)
	return nil
}

// Reconfigure stores cfg and restarts the listener when anything it binds
// with changed.
func (s *Service) Reconfigure(ctx context.Context, cfg Config) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	prev, parent, running := s.cfg, s.parent, s.cur != nil
	s.cfg = cfg
	s.mu.Unlock()

	if !running || !needsRestart(prev, cfg) {
		return nil
	}
	s.log.Info("http listener restarting", logx.String("addr", listenAddr(cfg)))
	s.stop(ctx)
	return s.start(parent)
}

func needsRestart(a, b Config) bool {
	return listenAddr(a) != listenAddr(b) ||
		a.ReadTimeout != b.ReadTimeout ||
		a.WriteTimeout != b.WriteTimeout ||
		a.IdleTimeout != b.IdleTimeout ||
		a.Pprof.Enabled != b.Pprof.Enabled ||
		a.Pprof.Token != b.Pprof.Token ||
		normalizePrefix(a.Pprof.Prefix) != normalizePrefix(b.Pprof.Prefix)
}

// Stop drains in-flight requests until ctx expires, then closes the listener.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	s.stop(ctx)
}

func (s *Service) stop(ctx context.Context) {
	s.mu.Lock()
	r := s.cur
	s.cur = nil
	s.mu.Unlock()
	if r == nil {
		return
	}

	// cancel first so the serve loop treats the shutdown as final
	r.sup.Cancel()
	r.mu.Lock()
	ln, srv := r.ln, r.srv
	r.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			s.log.Warn("http shutdown incomplete", logx.Err(err))
			_ = srv.Close()
		}
	}
	if ln != nil {
		_ = ln.Close()
	}
	_ = r.sup.Wait(ctx)
	s.log.Info("http stopped")
}

func (s *Service) serve(ctx context.Context, r *run) error {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	r.mu.Lock()
	ln := r.ln
	r.mu.Unlock()
	// a crashed Serve closes its listener
	if ln == nil {
		var err error
		if ln, err = net.Listen("tcp", listenAddr(cfg)); err != nil {
			if ctx.Err() != nil {
				return context.Canceled
			}
			s.log.Error("http listen failed", logx.String("addr", listenAddr(cfg)), logx.Err(err))
			return err
		}
	}

	mux := http.NewServeMux()
	if s.routes != nil {
		s.routes(mux)
	}
	if cfg.Pprof.Enabled {
		mountPprof(mux, cfg.Pprof, s.log)
	}
	srv := &http.Server{
		Handler:           mux,
		ReadTimeout:       orDefault(cfg.ReadTimeout, DefaultReadTimeout),
		ReadHeaderTimeout: orDefault(cfg.ReadTimeout, DefaultReadTimeout),
		WriteTimeout:      orDefault(cfg.WriteTimeout, DefaultWriteTimeout),
		IdleTimeout:       orDefault(cfg.IdleTimeout, DefaultIdleTimeout),
	}
	r.swap(ln, srv)

	s.log.Info("http started", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", cfg.Pprof.Enabled))
	err := srv.Serve(ln)
	if ctx.Err() != nil {
		return context.Canceled
	}
	r.swap(nil, nil)
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return errors.New("http server exited unexpectedly")
	}
	return err
}

func listenAddr(cfg Config) string {
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		return addr
	}
	return defaultAddr
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
