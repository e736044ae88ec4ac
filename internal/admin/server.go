// Package admin serves the daemon's local HTTP API: producers submit
// targets through it, operators read the status, flip the halt and move
// accounts through their lifecycle.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/roasbeef/outreach/internal/health"
	"github.com/roasbeef/outreach/internal/scheduler"
	"github.com/roasbeef/outreach/internal/target"
)

// maxBodySize bounds request bodies. Target payloads are small.
const maxBodySize = 1 << 20

// Config holds configuration for the admin server.
type Config struct {
	Addr string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// DefaultRest is how long POST /accounts/{id}/rest rests an account
	// when the request names no end.
	DefaultRest time.Duration
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8719",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
		DefaultRest:  4 * time.Hour,
	}
}

// StatusSource reports the scheduler's published state.
type StatusSource interface {
	Status() scheduler.Status
}

// HaltControl is the slice of the health supervisor the API drives.
type HaltControl interface {
	State(ctx context.Context) (health.HaltState, error)
	Halt(ctx context.Context, reason, source string) (health.HaltState,
		error)
	Resume(ctx context.Context) (bool, error)
}

// Deps are the components behind the routes.
type Deps struct {
	Targets target.Enqueuer
	Status  StatusSource
	Halt    HaltControl

	// Accounts enables the account lifecycle routes when set.
	// AccountStore, if set, persists each change immediately.
	Accounts     AccountControl
	AccountStore AccountSaver

	// Clock resolves relative rest durations. Defaults to the wall
	// clock.
	Clock clock.Clock

	// Wake, if set, is called after a submission or a halt change so a
	// sleeping loop reacts right away.
	Wake func()
}

// Server is the admin HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	router chi.Router
	srv    *http.Server
}

// NewServer creates the server and registers its routes.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.NewDefaultClock()
	}
	if cfg.DefaultRest <= 0 {
		cfg.DefaultRest = DefaultConfig().DefaultRest
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Post("/targets", s.handleSubmit)
	r.Get("/status", s.handleStatus)
	r.Post("/halt", s.handleHalt)
	r.Post("/resume", s.handleResume)
	if deps.Accounts != nil {
		r.Route("/accounts/{id}", s.accountRoutes)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router = r
	s.srv = &http.Server{
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve accepts connections on l until Shutdown is called. It returns nil
// after a clean shutdown.
func (s *Server) Serve(l net.Listener) error {
	log.Infof("Admin API listening on %s", l.Addr())

	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}

// Listen opens the configured address.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.cfg.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) now() time.Time {
	return s.deps.Clock.Now()
}

func (s *Server) wake() {
	if s.deps.Wake != nil {
		s.deps.Wake()
	}
}

// requestLogger logs each request at debug level.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		log.DebugS(r.Context(), "Admin request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"request_id", middleware.GetReqID(r.Context()),
			"elapsed", time.Since(start))
	})
}
