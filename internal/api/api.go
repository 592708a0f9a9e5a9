// Package api serves the intake HTTP API: answer validation, profile
// persistence, and server-side intake conversations behind the session gate.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/contentpilot/intake/internal/intake"
	"github.com/contentpilot/intake/internal/profile"
	"github.com/contentpilot/intake/internal/store"
	"golang.org/x/sync/errgroup"
)

// Server configuration defaults.
const (
	DefaultAddr            = ":8080"
	DefaultSweepInterval   = 5 * time.Minute
	DefaultMaxIdle         = 2 * time.Hour
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr          string
	SweepInterval time.Duration
	MaxIdle       time.Duration
	IntakeOptions []intake.Option
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithSweep sets how often idle conversations are released and how long a
// conversation may stay idle.
func WithSweep(interval, maxIdle time.Duration) Option {
	return func(o *Opts) {
		o.SweepInterval = interval
		o.MaxIdle = maxIdle
	}
}

// WithIntakeOptions passes options to every conversation the server starts.
func WithIntakeOptions(opts ...intake.Option) Option {
	return func(o *Opts) {
		o.IntakeOptions = append(o.IntakeOptions, opts...)
	}
}

// Server bundles the dependencies shared by the HTTP handlers.
type Server struct {
	opts      Opts
	catalog   *intake.Catalog
	validator intake.Validator
	profiles  *profile.Service
	sessions  store.SessionStore
	timer     *intake.SimpleTimer
	registry  *intake.Registry
}

// NewServer wires the handlers. Conversations started through the API use
// validator in-process and save through profiles.
func NewServer(catalog *intake.Catalog, validator intake.Validator, profiles *profile.Service, sessions store.SessionStore, opts ...Option) *Server {
	cfg := Opts{
		Addr:          DefaultAddr,
		SweepInterval: DefaultSweepInterval,
		MaxIdle:       DefaultMaxIdle,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	timer := intake.NewSimpleTimer()
	intakeOpts := append([]intake.Option{intake.WithTimer(timer)}, cfg.IntakeOptions...)
	s := &Server{
		opts:      cfg,
		catalog:   catalog,
		validator: validator,
		profiles:  profiles,
		sessions:  sessions,
		timer:     timer,
		registry:  intake.NewRegistry(catalog, validator, profiles.ForUser, intakeOpts...),
	}
	slog.Debug("Server.NewServer: configured", "addr", cfg.Addr, "steps", catalog.Len(), "maxIdle", cfg.MaxIdle)
	return s
}

// Handler returns the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/validate-answer", s.validateAnswerHandler)
	apiMux.HandleFunc("GET /api/profiles", s.listProfilesHandler)
	apiMux.HandleFunc("POST /api/profiles", s.createProfileHandler)
	apiMux.HandleFunc("POST /api/intake", s.startIntakeHandler)
	apiMux.HandleFunc("GET /api/intake/{id}", s.getIntakeHandler)
	apiMux.HandleFunc("POST /api/intake/{id}/answers", s.submitAnswerHandler)
	apiMux.HandleFunc("POST /api/intake/{id}/profile", s.saveIntakeHandler)
	apiMux.HandleFunc("POST /api/intake/{id}/restart", s.restartIntakeHandler)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthHandler)
	mux.Handle("/api/", s.requireSession(apiMux))
	mux.HandleFunc("GET /login", s.loginPageHandler)
	mux.HandleFunc("GET /intake", s.requirePageSession(s.intakePageHandler))
	mux.HandleFunc("GET /{$}", s.requirePageSession(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/intake", http.StatusTemporaryRedirect)
	}))

	return chainMiddlewares(mux, withRecovery, withLogging)
}

// Run serves until ctx is cancelled, sweeping idle conversations meanwhile.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	defer s.timer.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server.Run: listener failed", "error", err)
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.sweepLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server.Run: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		return nil
	})
	return g.Wait()
}

func (s *Server) sweepLoop(ctx context.Context) {
	if s.opts.SweepInterval <= 0 || s.opts.MaxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registry.Sweep(s.opts.MaxIdle)
		}
	}
}
