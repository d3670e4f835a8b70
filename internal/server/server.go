// Package server exposes the player's status and remote control over HTTP.
package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/zsiec/cadence/internal/config"
	"github.com/zsiec/cadence/internal/control"
	apperrors "github.com/zsiec/cadence/internal/errors"
	"github.com/zsiec/cadence/internal/health"
	"github.com/zsiec/cadence/internal/history"
	"github.com/zsiec/cadence/internal/logger"
	"github.com/zsiec/cadence/internal/player"
)

const healthInterval = 10 * time.Second

// Controller is the part of the player the API drives.
type Controller interface {
	Submit(cmd control.Command) error
	Status() player.Status
}

// Server is the control API.
type Server struct {
	config       config.APIConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       logger.Logger
	history      *history.Store
	controller   Controller
	healthMgr    *health.Manager
	errorHandler *apperrors.ErrorHandler
	limiter      *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
}

// New builds the server and its routes. store may be nil when history is
// disabled.
func New(cfg config.APIConfig, ctrl Controller, store *history.Store, log logger.Logger) *Server {
	log = logger.WithComponent(log, "api")
	s := &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		history:      store,
		controller:   ctrl,
		healthMgr:    health.NewManager(log),
		errorHandler: apperrors.NewErrorHandler(log),
	}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}

	s.healthMgr.Register(health.NewPlaybackChecker(ctrl))
	if store != nil {
		s.healthMgr.Register(health.NewRedisChecker(store.Client()))
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.ListenAddr, fmt.Sprint(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the root handler with every middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.healthMgr.StartPeriodicChecks(ctx, healthInterval)

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", ln.Addr().String()).Info("Control API listening")
		if err := s.httpServer.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("control API: %w", err)
	}
}

// Addr is the bound address once Start is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return s.httpServer.Addr
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down control API")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("control API shutdown: %w", err)
	}
	return nil
}

func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.corsMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/playback/seek", s.handleSeek).Methods(http.MethodPost)
	api.HandleFunc("/playback/{action:pause|resume|toggle|restart|quit}", s.handlePlayback).Methods(http.MethodPost)
	api.HandleFunc("/volume", s.handleVolume).Methods(http.MethodPost)
	api.HandleFunc("/display/fullscreen", s.handleFullscreen).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}
