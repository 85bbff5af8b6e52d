// Package api provides the HTTP REST API of the portscope scanner. It
// starts scans in the background, reports their state, streams results
// over WebSocket and exposes Prometheus metrics.
package api

//go:generate go run github.com/swaggo/swag/cmd/swag@v1.16.6 init -g server.go -d ./,./handlers -o ../../docs --outputTypes go --parseDependency --parseInternal

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/anstrom/portscope/docs" // registers the OpenAPI document
	"github.com/anstrom/portscope/internal/api/handlers"
	"github.com/anstrom/portscope/internal/api/middleware"
	"github.com/anstrom/portscope/internal/config"
	"github.com/anstrom/portscope/internal/db"
	"github.com/anstrom/portscope/internal/logging"
	"github.com/anstrom/portscope/internal/metrics"
	"github.com/anstrom/portscope/internal/probe"
	"github.com/anstrom/portscope/internal/scanning"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	maxHeaderBytes        = 1 << 20
)

// @title portscope API
// @version 1.0
// @description Multi-technique TCP and UDP port scanner. Scans run in the background;
// @description results can be polled, streamed over WebSocket, and compared.
//
// @license.name MIT
//
// @BasePath /api/v1

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	handler    http.Handler
	config     *config.Config
	database   *db.DB
	detector   handlers.Detector
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics
	limiter    *scanning.FixedSessionLimiter
	manager    *handlers.ScanManager
}

// Option configures a Server.
type Option func(*Server)

// WithDatabase persists finished sessions and enables the database
// health check.
func WithDatabase(database *db.DB) Option {
	return func(s *Server) { s.database = database }
}

// WithMetrics sets the metrics collector served on /metrics.
func WithMetrics(m *metrics.PrometheusMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithDetector enables service detection for scans that request it.
func WithDetector(d handlers.Detector) Option {
	return func(s *Server) { s.detector = d }
}

// New creates a new API server instance that runs scans with runner.
func New(cfg *config.Config, runner handlers.Runner, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	server := &Server{
		router: mux.NewRouter(),
		config: cfg,
	}
	for _, opt := range opts {
		opt(server)
	}
	if server.logger == nil {
		server.logger = logging.Default()
	}
	server.logger = server.logger.WithComponent("api")
	if server.metrics == nil {
		server.metrics = metrics.NewPrometheusMetrics()
	}

	defaults, err := scanDefaults(cfg.Scanning)
	if err != nil {
		return nil, err
	}

	server.limiter = scanning.NewFixedSessionLimiter(cfg.API.MaxConcurrentScans)
	managerOpts := []handlers.ManagerOption{
		handlers.WithDefaults(defaults),
		handlers.WithManagerLogger(server.logger),
	}
	if server.database != nil {
		managerOpts = append(managerOpts, handlers.WithStore(db.NewSessionRepository(server.database, server.metrics)))
	}
	if server.detector != nil {
		managerOpts = append(managerOpts, handlers.WithDetector(server.detector))
	}
	server.manager = handlers.NewScanManager(runner, server.limiter, managerOpts...)

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:           net.JoinHostPort(cfg.API.ListenAddr, strconv.Itoa(cfg.API.Port)),
		Handler:        server.handler,
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}

	return server, nil
}

func scanDefaults(sc config.ScanningConfig) (scanning.ScanConfig, error) {
	technique, err := probe.ParseTechnique(sc.DefaultTechnique)
	if err != nil {
		return scanning.ScanConfig{}, err
	}
	return scanning.ScanConfig{
		Ports:       sc.DefaultPorts,
		Technique:   technique,
		Concurrency: sc.Concurrency,
		Timeout:     sc.Timeout,
		GracePeriod: sc.GraceOrTimeout(),
		UDPPayloads: sc.UDPPayloads,
	}, nil
}

// Start starts the API server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("API server failed to listen: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve serves the API on listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	s.logger.InfoAPI("Starting API server",
		"address", listener.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout,
		"max_concurrent_scans", s.config.API.MaxConcurrentScans)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the API server and cancels running scans.
func (s *Server) Stop() error {
	s.logger.InfoAPI("Stopping API server")

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.ErrorAPI("API server shutdown error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if err := s.manager.Shutdown(ctx); err != nil {
		s.logger.ErrorAPI("Scans did not stop in time", err)
		return err
	}
	_ = s.limiter.Close()

	s.logger.InfoAPI("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	health := handlers.NewHealthHandler(s.pinger(), s.limiter)
	scans := handlers.NewScanHandler(s.manager, s.logger, s.config.API.MaxRequestSize)
	stream := handlers.NewStreamHandler(s.manager, s.logger, s.checkOrigin)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", health.Health).Methods(http.MethodGet)
	api.HandleFunc("/version", health.Version).Methods(http.MethodGet)

	api.HandleFunc("/scans", scans.CreateScan).Methods(http.MethodPost)
	api.HandleFunc("/scans", scans.ListScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", scans.GetScan).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", scans.CancelScan).Methods(http.MethodDelete)
	api.HandleFunc("/scans/{id}/diff/{other}", scans.DiffScans).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}/ws", stream.ScanStream).Methods(http.MethodGet)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).
		Methods(http.MethodGet)

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))
	s.router.HandleFunc("/docs", redirectToSwagger).Methods(http.MethodGet)
}

// redirectToSwagger redirects to the Swagger UI.
func redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// setupMiddleware configures middleware for the API server. CORS wraps
// the router so that preflight requests are answered before routing.
func (s *Server) setupMiddleware() {
	s.router.Use(
		middleware.RequestID(),
		middleware.Recovery(s.logger),
		middleware.Logging(s.logger),
		middleware.Metrics(s.metrics),
		middleware.ContentType(),
	)

	s.handler = s.router
	if cors := s.config.API.CORS; cors.Enabled {
		s.handler = middleware.CORS(cors.AllowedOrigins, cors.AllowedHeaders, cors.AllowedMethods)(s.router)
	}
}

// pinger keeps a nil *db.DB from becoming a non-nil interface.
func (s *Server) pinger() handlers.Pinger {
	if s.database == nil {
		return nil
	}
	return s.database
}

// checkOrigin applies the CORS origin list to WebSocket upgrades.
func (s *Server) checkOrigin(r *http.Request) bool {
	cors := s.config.API.CORS
	origin := r.Header.Get("Origin")
	if !cors.Enabled || origin == "" {
		return true
	}
	for _, allowed := range cors.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handler returns the root HTTP handler including CORS.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the configured router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Manager returns the scan manager.
func (s *Server) Manager() *handlers.ScanManager {
	return s.manager
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}
