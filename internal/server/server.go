// Package server exposes the market, narrative and staking services over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/goerr/v2"

	"github.com/rcliao/narrative-market/internal/logging"
	"github.com/rcliao/narrative-market/internal/market"
	"github.com/rcliao/narrative-market/internal/narrative"
	"github.com/rcliao/narrative-market/internal/staking"
)

type Server struct {
	router    *chi.Mux
	engine    *market.Engine
	directory *narrative.Directory
	staking   *staking.Service
	metrics   http.Handler
	logger    *slog.Logger
	now       func() time.Time
}

type Options func(*Server)

// WithMetricsHandler mounts h at /metrics.
func WithMetricsHandler(h http.Handler) Options {
	return func(s *Server) {
		s.metrics = h
	}
}

func WithLogger(l *slog.Logger) Options {
	return func(s *Server) {
		s.logger = l
	}
}

// WithClock overrides the envelope timestamp source.
func WithClock(now func() time.Time) Options {
	return func(s *Server) {
		s.now = now
	}
}

func New(engine *market.Engine, directory *narrative.Directory, svc *staking.Service, opts ...Options) *Server {
	r := chi.NewRouter()

	s := &Server{
		router:    r,
		engine:    engine,
		directory: directory,
		staking:   svc,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(s.accessLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/market", func(r chi.Router) {
		r.Get("/metrics", s.handleMarketMetrics)
		r.Get("/trending", s.handleTrending)
		r.Get("/sentiment", s.handleSentiment)
		r.Get("/activity/{narrativeId}", s.handleActivity)
		r.Get("/velocity/{narrativeId}", s.handleVelocity)
		r.Get("/score/{narrativeId}", s.handleScore)
	})

	r.Route("/api/semantic", func(r chi.Router) {
		r.Post("/similar", s.handleSimilar)
		r.Post("/embed", s.handleEmbed)
	})

	r.Route("/api/narratives", func(r chi.Router) {
		r.Get("/", s.handleListNarratives)
		r.Post("/", s.handleCreateNarrative)
		r.Get("/trending", s.handleTrendingNarratives)
		r.Get("/search", s.handleSearchNarratives)
		r.Get("/{id}", s.handleGetNarrative)
		r.Get("/{id}/metrics", s.handleNarrativeMetric)
	})

	r.Route("/api/staking", func(r chi.Router) {
		r.Post("/stake", s.handleStake)
		r.Post("/unstake", s.handleUnstake)
		r.Get("/positions", s.handlePositions)
		r.Get("/positions/{narrativeId}", s.handlePosition)
		r.Get("/rewards/{narrativeId}", s.handleRewards)
		r.Post("/rewards/claim", s.handleClaim)
		r.Get("/apy/{narrativeId}", s.handleAPY)
		r.Get("/stats", s.handleStakingStats)
		r.Get("/narrative/{narrativeId}/stats", s.handleNarrativeStakeStats)
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- goerr.Wrap(err, "server stopped", goerr.V("addr", addr))
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return goerr.Wrap(err, "failed to shut down server")
	}
	return <-errCh
}

// accessLogger is a middleware that logs HTTP requests
func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("access",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
				"remote", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
