// Package ops serves the operational HTTP endpoints: Prometheus metrics,
// health checks and net/http/pprof.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	hpprof "net/http/pprof"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	rtsup "lifejourney/internal/runtime/supervisor"
	logx "lifejourney/pkg/logx"
)

// Config controls the ops HTTP server.
//
// Security:
//   - Prefer binding to localhost (default).
//   - If binding to a non-loopback address, set Token or enable AllowInsecure.
type Config struct {
	Enabled       bool
	Addr          string
	Token         string
	AllowInsecure bool

	// Pprof mounts net/http/pprof under PprofPrefix.
	Pprof       bool
	PprofPrefix string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	MutexProfileFraction int
	BlockProfileRate     int
}

// Check reports the health of one component. A nil error means healthy.
type Check func(ctx context.Context) error

type Service struct {
	mu  sync.Mutex
	log logx.Logger
	cfg Config
	reg prometheus.Gatherer

	checks map[string]Check

	ln  net.Listener
	srv *http.Server
	sup *rtsup.Supervisor
}

// New creates the service. reg may be nil, in which case /metrics is not
// mounted.
func New(cfg Config, log logx.Logger, reg prometheus.Gatherer) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, reg: reg, checks: map[string]Check{}}
}

// AddCheck registers a named health check. Checks run on every /healthz
// request.
func (s *Service) AddCheck(name string, c Check) {
	s.mu.Lock()
	s.checks[name] = c
	s.mu.Unlock()
}

// Addr returns the bound address while the server is running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Apply applies cfg and starts, stops or restarts the server if needed.
// Safe to call during hot-reload.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	applyRuntimeRates(cfg)

	s.mu.Lock()
	prev := s.cfg
	running := s.sup != nil
	s.cfg = cfg
	s.mu.Unlock()

	switch {
	case !cfg.Enabled:
		if running {
			s.Stop(ctx)
		}
	case !running:
		_ = s.Start(ctx)
	case needsRestart(prev, cfg):
		s.Stop(ctx)
		_ = s.Start(ctx)
	}
}

func needsRestart(a, b Config) bool {
	return a.Addr != b.Addr ||
		a.Token != b.Token ||
		a.AllowInsecure != b.AllowInsecure ||
		a.Pprof != b.Pprof ||
		normalizePrefix(a.PprofPrefix) != normalizePrefix(b.PprofPrefix) ||
		a.ReadTimeout != b.ReadTimeout || a.WriteTimeout != b.WriteTimeout || a.IdleTimeout != b.IdleTimeout
}

func applyRuntimeRates(cfg Config) {
	if cfg.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexProfileFraction)
	}
	if cfg.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockProfileRate)
	}
}

// Start binds the listener and serves in the background. Bind errors are
// returned so a misconfigured address fails loudly at startup.
func (s *Service) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil || !s.cfg.Enabled {
		return nil
	}
	cur := s.cfg

	addr := strings.TrimSpace(cur.Addr)
	if addr == "" {
		addr = "127.0.0.1:9477"
	}
	if !cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Error("ops server refused to start: non-loopback addr requires token or allow_insecure", logx.String("addr", addr))
		return errors.New("ops: insecure bind refused")
	}
	if cur.AllowInsecure && cur.Token == "" && !isLoopbackAddr(addr) {
		s.log.Warn("ops server running without token on non-loopback addr (insecure)", logx.String("addr", addr))
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Error("ops listen failed", logx.String("addr", addr), logx.Err(err))
		return err
	}
	srv := &http.Server{
		Handler:      s.handler(cur),
		ReadTimeout:  cur.ReadTimeout,
		WriteTimeout: cur.WriteTimeout,
		IdleTimeout:  cur.IdleTimeout,
	}
	s.ln, s.srv = ln, srv
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "ops"))),
		// Ops endpoints are optional; never take the app down.
		rtsup.WithCancelOnError(false),
	)
	s.sup.Go("http.serve", func(c context.Context) error {
		go func() {
			<-c.Done()
			cctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_ = srv.Shutdown(cctx)
			cancel()
		}()
		err := srv.Serve(ln)
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	s.log.Info("ops server started",
		logx.String("addr", ln.Addr().String()),
		logx.Bool("pprof", cur.Pprof),
		logx.Bool("token_set", cur.Token != ""),
	)
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.ln, s.srv, s.sup = nil, nil, nil
	s.mu.Unlock()
	if sup == nil {
		return
	}
	_ = srv.Shutdown(ctx)
	sup.Cancel()
	_ = sup.Wait(ctx)
	s.log.Info("ops server stopped")
}

func (s *Service) handler(cur Config) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.Handler) http.Handler { return withAuth(cur.Token, h) }

	mux.Handle("/healthz", wrap(http.HandlerFunc(s.serveHealth)))
	if s.reg != nil {
		mux.Handle("/metrics", wrap(promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{})))
	}
	if cur.Pprof {
		prefix := normalizePrefix(cur.PprofPrefix)
		base := strings.TrimSuffix(prefix, "/")
		mux.Handle(prefix, wrap(pprofIndexAt(prefix)))
		mux.Handle(base+"/cmdline", wrap(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle(base+"/profile", wrap(http.HandlerFunc(hpprof.Profile)))
		mux.Handle(base+"/symbol", wrap(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle(base+"/trace", wrap(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

type healthReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Service) serveHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	names := make([]string, 0, len(s.checks))
	for n := range s.checks {
		names = append(names, n)
	}
	checks := make(map[string]Check, len(s.checks))
	for n, c := range s.checks {
		checks[n] = c
	}
	s.mu.Unlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	rep := healthReport{Status: "ok", Checks: map[string]string{}}
	for _, n := range names {
		if err := checks[n](ctx); err != nil {
			rep.Status = "degraded"
			rep.Checks[n] = err.Error()
			continue
		}
		rep.Checks[n] = "ok"
	}
	w.Header().Set("Content-Type", "application/json")
	if rep.Status != "ok" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(rep)
}

func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Accept either "Authorization: Bearer <token>" or ?token=<token>.
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(strings.TrimPrefix(ah, p)) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func normalizePrefix(prefix string) string {
	p := strings.TrimSpace(prefix)
	if p == "" {
		p = "/debug/pprof/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p
}

// pprof.Index assumes requests are rooted at /debug/pprof/, so custom
// prefixes are rewritten before calling it.
func pprofIndexAt(prefix string) http.Handler {
	canon := normalizePrefix(prefix)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, canon)
		hpprof.Index(w, r2)
	})
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
