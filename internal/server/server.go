package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/pgtelemetry/backend/internal/api"
	"github.com/pgtelemetry/backend/internal/config"
	"github.com/pgtelemetry/backend/internal/database"
	"github.com/pgtelemetry/backend/internal/health"
	"github.com/pgtelemetry/backend/internal/middleware"
	"github.com/pgtelemetry/backend/internal/querycache"
	"github.com/pgtelemetry/backend/internal/timeseries"
)

// Server represents the HTTP server.
type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
}

// New creates a new HTTP server with all routes and middleware.
func New(
	logger logrus.FieldLogger,
	cfg *config.Config,
	pool *database.Pool,
	cache querycache.Cache,
) (*Server, error) {
	mux := http.NewServeMux()

	reader := timeseries.NewReader(logger, pool)
	checker := health.NewChecker(logger, pool)

	// Availability probe, consumed by the UI status indicator
	pingHandler := api.NewPingHandler(checker, logger)
	mux.Handle("GET /ping", pingHandler)
	logger.WithField("route", "GET /ping").Info("Registered route")

	// Ad-hoc time-range queries
	queryHandler := api.NewQueryHandler(reader, cache, logger)
	mux.Handle("GET /query/{table}/{timeColumn}/{valueColumn}", queryHandler)
	mux.Handle("POST /query/{table}/{timeColumn}/{valueColumn}", queryHandler)
	logger.WithField("route", "GET|POST /query/{table}/{timeColumn}/{valueColumn}").Info("Registered route")

	// Live subscriptions over websocket
	listenHandler := api.NewListenHandler(pool, reader, logger)
	mux.Handle("GET /listen/{table}/{timeColumn}/{valueColumn}", listenHandler)
	logger.WithField("route", "GET /listen/{table}/{timeColumn}/{valueColumn}").Info("Registered route")

	// Metrics endpoint (Prometheus format)
	mux.Handle("GET /metrics", promhttp.Handler())
	logger.WithField("route", "GET /metrics").Info("Registered route")

	// Apply middleware chain: Logging → Metrics → CORS → Recovery
	handler := middleware.Logging(logger)(mux)
	handler = middleware.Metrics()(handler)
	handler = middleware.CORS()(handler)
	handler = middleware.Recovery(logger)(handler)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		logger:     logger,
	}, nil
}

// Start starts the HTTP server (blocking call).
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting HTTP server")

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server. Hijacked subscription
// connections are not tracked by the net/http server; they close with
// the process, tearing each session down through its read loop.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	return s.httpServer.Shutdown(ctx)
}
