// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package api

import (
	"context"
	stderr "errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/H2WO4/project-m101/internal/errors"
	"github.com/H2WO4/project-m101/internal/ingest"
	"github.com/H2WO4/project-m101/internal/log"
	"github.com/H2WO4/project-m101/internal/metrics"
	"github.com/H2WO4/project-m101/internal/store"
	"github.com/H2WO4/project-m101/internal/wallclock"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBroadcastInterval = 5 * time.Second
	readHeaderTimeout        = 10 * time.Second
	shutdownTimeout          = 5 * time.Second
	corsMaxAge               = 8 * 60 * 60
)

type (
	// Detector is the jam query the API exposes.
	Detector interface {
		Jams(ctx context.Context) ([]store.Segment, error)
	}

	// Ingest reports the state of the ingestion loop.
	Ingest interface {
		State() ingest.State
	}

	// Server is the HTTP query surface of the aggregator.
	Server struct {
		detector Detector
		reader   store.Reader
		ingest   Ingest
		sensors  int
		started  time.Time
		hub      *Hub
		router   chi.Router
		clock    wallclock.WallClock
		metrics  *metrics.Metrics
		log      log.Logger
	}

	// Option represents a single server option.
	Option interface{ server(*Options) }

	// Options are the resolved server options.
	Options struct {
		Ingest            Ingest
		Sensors           int
		BroadcastInterval time.Duration
		Clock             wallclock.WallClock
		Metrics           *metrics.Metrics
		Logger            *slog.Logger
	}

	// WithSensors sets the sensor count reported by the health endpoint.
	WithSensors int

	// WithBroadcastInterval sets how often the websocket feed pushes jams.
	WithBroadcastInterval time.Duration

	withIngest  struct{ Ingest }
	withClock   struct{ wallclock.WallClock }
	withMetrics struct{ *metrics.Metrics }
	withLogger  struct{ *slog.Logger }
)

// New builds the server and its routes.
func New(detector Detector, reader store.Reader, opts ...Option) *Server {
	o := Options{
		BroadcastInterval: defaultBroadcastInterval,
		Clock:             wallclock.Instance,
	}
	for _, opt := range opts {
		if opt != nil {
			opt.server(&o)
		}
	}

	s := &Server{
		detector: detector,
		reader:   reader,
		ingest:   o.Ingest,
		sensors:  o.Sensors,
		started:  o.Clock.Now(),
		clock:    o.Clock,
		metrics:  o.Metrics,
		log:      log.Wrap(o.Logger),
	}
	s.hub = newHub(detector, o)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(
		requestID,
		middleware.RealIP,
		s.logRequests,
		middleware.Recoverer,
		middleware.StripSlashes,
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			MaxAge:         corsMaxAge,
		}),
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/jams", s.getJams)
		r.Get("/jams/ws", s.hub.ServeHTTP)
		r.Get("/nodes", s.getNodes)
		r.Get("/nodes/{id}", s.getNode)
		r.Get("/health", s.getHealth)
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the websocket feed.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &errors.Error{
			Message:       "cannot listen on HTTP address",
			Kind:          errors.ConfigError,
			NestedError:   err,
			PropertyName:  "HTTP_ADDR",
			PropertyValue: addr,
		}
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server and the websocket feed on ln until ctx is
// cancelled, then shuts both down. The listener is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.hub.Run(ctx)
	})
	g.Go(func() error {
		s.log.Info(ctx, "HTTP server listening",
			slog.String("address", ln.Addr().String()),
		)
		if err := srv.Serve(ln); !stderr.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(
			context.WithoutCancel(ctx),
			shutdownTimeout,
		)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// WithIngest reports the given ingestion loop state on the health endpoint.
func WithIngest(i Ingest) Option {
	return withIngest{i}
}

func (o withIngest) server(opt *Options) {
	opt.Ingest = o.Ingest
}

func (o WithSensors) server(opt *Options) {
	opt.Sensors = int(o)
}

func (o WithBroadcastInterval) server(opt *Options) {
	if o > 0 {
		opt.BroadcastInterval = time.Duration(o)
	}
}

// WithClock sets the clock used for uptime and the feed ticker.
func WithClock(c wallclock.WallClock) Option {
	return withClock{c}
}

func (o withClock) server(opt *Options) {
	if o.WallClock != nil {
		opt.Clock = o.WallClock
	}
}

// WithMetrics records request metrics and serves them on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return withMetrics{m}
}

func (o withMetrics) server(opt *Options) {
	opt.Metrics = o.Metrics
}

// WithLogger enables logging with the provided slog logger.
func WithLogger(logger *slog.Logger) Option {
	return withLogger{logger}
}

func (o withLogger) server(opt *Options) {
	opt.Logger = o.Logger
}
