package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/railbook/apiserver/config"
	"github.com/railbook/apiserver/internal/auth"
	"github.com/railbook/apiserver/internal/cache"
	"github.com/railbook/apiserver/internal/db"
	"github.com/railbook/apiserver/internal/events"
	"github.com/railbook/apiserver/internal/handlers"
	"github.com/railbook/apiserver/internal/logging"
	"github.com/railbook/apiserver/internal/metrics"
	"github.com/railbook/apiserver/internal/mq"
	"github.com/railbook/apiserver/internal/services"
	"github.com/railbook/apiserver/internal/store"
	"github.com/railbook/apiserver/internal/store/memstore"
	"github.com/sirupsen/logrus"
)

const requestTimeout = 60 * time.Second

// Server wraps the HTTP server and the resources it owns.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	db         *sql.DB
	closers    []io.Closer
	logger     *logrus.Logger
}

// New wires storage, the auth core and the HTTP routes from cfg.
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	logger := logging.New(cfg.Log, os.Stdout)

	codec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("JWT_SECRET is required: %w", err)
	}

	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	srv := &Server{db: dbConn, logger: logger}

	sessions, err := srv.openSessions(ctx, cfg, dbConn)
	if err != nil {
		srv.close()
		return nil, err
	}

	publisher, err := srv.openPublisher(ctx, cfg)
	if err != nil {
		srv.close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	userRepo := store.NewUserRepository(dbConn)
	authService := auth.NewService(userRepo, sessions, codec,
		auth.WithLogger(logger),
		auth.WithMetrics(metrics.New(registry)),
		auth.WithEventPublisher(publisher),
		auth.WithBcryptCost(cfg.Auth.BcryptCost),
	)
	userService := services.NewUserService(userRepo)

	srv.router = NewRouter(logger, authService, userService, registry)

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      srv.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.WithFields(logrus.Fields{
		"port":            port,
		"session_backend": cfg.Auth.SessionBackend,
		"events_backend":  cfg.Events.Backend,
	}).Info("server configured")
	return srv, nil
}

// NewRouter builds the HTTP routes around an already wired auth core.
func NewRouter(logger logrus.FieldLogger, authService *auth.Service, userService *services.UserService, registry *prometheus.Registry) *chi.Mux {
	guard := handlers.NewGuard(authService, logger)

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		logging.RequestLogger(logger),
		middleware.Timeout(requestTimeout),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Method(http.MethodGet, "/metrics", metrics.Handler(registry))
	router.Route("/auth", func(r chi.Router) {
		handlers.AuthRouter(r, authService, userService, guard, logger)
	})
	router.Route("/users", func(r chi.Router) {
		handlers.UserRouter(r, userService, guard, logger)
	})
	return router
}

func (s *Server) openSessions(ctx context.Context, cfg config.Config, dbConn *sql.DB) (auth.SessionStore, error) {
	switch cfg.Auth.SessionBackend {
	case "", config.SessionBackendPostgres:
		return store.NewSessionRepository(dbConn), nil
	case config.SessionBackendRedis:
		client, err := cache.Connect(ctx, cfg.Redis.URL)
		if err != nil {
			return nil, err
		}
		sessions := cache.NewSessionCache(client, cfg.Auth.TokenTTL)
		s.closers = append(s.closers, sessions)
		return sessions, nil
	case config.SessionBackendMemory:
		s.logger.Warn("sessions are kept in memory and are lost on restart")
		return memstore.NewSessionRepository(), nil
	default:
		return nil, fmt.Errorf("unknown session backend %q", cfg.Auth.SessionBackend)
	}
}

func (s *Server) openPublisher(ctx context.Context, cfg config.Config) (events.Publisher, error) {
	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if broker == nil {
		return events.Noop{}, nil
	}
	s.closers = append(s.closers, broker)
	return events.NewBrokerPublisher(broker, cfg.Events.Channel), nil
}

// Router exposes the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests, then releases storage and broker
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.close()
	return err
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close resource")
		}
	}
	s.closers = nil
	if s.db != nil {
		_ = s.db.Close()
	}
}
