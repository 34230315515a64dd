package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/tracklab/backend/internal/api/http"
	"github.com/GriffinCanCode/tracklab/backend/internal/api/middleware"
	"github.com/GriffinCanCode/tracklab/backend/internal/api/ws"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/challenge"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/intercept"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/sandbox"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/session"
	"github.com/GriffinCanCode/tracklab/backend/internal/domain/tagmanager"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/storage"
	"github.com/GriffinCanCode/tracklab/backend/internal/infrastructure/tracing"
)

var _ session.Metrics = (*monitoring.Metrics)(nil)
var _ ws.Recorder = (*monitoring.Metrics)(nil)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	sessions *session.Manager
	store    storage.KV
	tracer   *tracing.Tracer
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return New(cfg, logger)
}

// New builds the server around an existing logger.
func New(cfg *config.Config, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing TrackLab server",
		zap.String("port", cfg.Server.Port),
		zap.Bool("egress_offline", cfg.Egress.Offline),
		zap.String("storage", storageLabel(cfg.Storage.Path)),
	)

	metrics := monitoring.NewMetrics()
	tracer := tracing.New("tracklab", logger.Logger)

	store, err := openStore(cfg.Storage.Path)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	catalog := challenge.NewBuiltinCatalog(nil)
	if cfg.Catalog.Dir != "" {
		n, err := challenge.NewSeeder(catalog, logger.Component("catalog")).LoadDir(cfg.Catalog.Dir)
		if err != nil {
			logger.Warn("Some challenge files failed to load", zap.Error(err))
		}
		logger.Info("Challenge catalog loaded",
			zap.String("dir", cfg.Catalog.Dir),
			zap.Int("loaded", n),
			zap.Int("total", catalog.Stats().Total))
	}

	originals, loader := egress(cfg, logger)
	sessions := session.NewManager(SessionConfig(cfg), session.Deps{
		Catalog:   catalog,
		Store:     store,
		Originals: originals,
		Loader:    loader,
		Logger:    logger.Logger,
		Metrics:   metrics,
	})

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	apihttp.NewHandlers(sessions, metrics, logger.Component("api")).Register(router)
	ws.NewHandler(sessions, metrics, logger.Logger).Register(router)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		sessions: sessions,
		store:    store,
		tracer:   tracer,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
	}, nil
}

func storageLabel(path string) string {
	if path == "" {
		return "memory"
	}
	return path
}

func openStore(path string) (storage.KV, error) {
	if path == "" {
		return storage.NewMemory(), nil
	}
	kv, err := storage.OpenSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return kv, nil
}

// egress picks the originals behind the interceptors. Offline, captured
// calls are recorded but never leave the process and scripts load empty.
func egress(cfg *config.Config, logger *logging.Logger) (intercept.Primitives, sandbox.ScriptLoader) {
	if cfg.Egress.Offline {
		return intercept.NopPrimitives{}, sandbox.NewStaticLoader(nil)
	}
	prims := intercept.NewHTTPPrimitives(intercept.HTTPConfig{
		Timeout:   cfg.Egress.Timeout,
		UserAgent: intercept.DefaultHTTPConfig().UserAgent,
		Retries:   cfg.Egress.Retries,
	}, logger.Component("egress"))
	return prims, sandbox.NewHTTPScriptLoader(cfg.Egress.Retries, logger.Component("loader"))
}

// SessionConfig maps server config onto per-session settings.
func SessionConfig(cfg *config.Config) session.Config {
	sb := sandbox.DefaultConfig()
	sb.Timeout = cfg.Sandbox.Timeout
	sb.LoadTimeout = cfg.Sandbox.LoadTimeout
	sb.MaxConsole = cfg.Sandbox.MaxConsole
	sb.TagScriptBase = cfg.Tag.ScriptBase
	sb.TagFrameBase = cfg.Tag.FrameBase
	sb.CollectURL = cfg.Tag.CollectURL
	sb.AllowList = cfg.Capture.AllowList

	tag := tagmanager.DefaultConfig()
	tag.Prefix = cfg.Tag.Prefix
	tag.ScriptBase = cfg.Tag.ScriptBase
	tag.FrameBase = cfg.Tag.FrameBase
	tag.CollectURL = cfg.Tag.CollectURL
	tag.LoadTimeout = cfg.Sandbox.LoadTimeout

	return session.Config{
		DedupWindow: cfg.Capture.DedupWindow,
		AllowList:   cfg.Capture.AllowList,
		Sandbox:     sb,
		Tag:         tag,
	}
}

// Handler returns the router (tests drive it with httptest).
func (s *Server) Handler() http.Handler { return s.router }

// Sessions returns the session manager.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Addr returns the listen address from config.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.config.Server.Host, s.config.Server.Port)
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting HTTP server", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, then closes sessions and storage.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")
	var errs []error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	s.sessions.Shutdown()
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close storage: %w", err))
	}
	s.tracer.Close()
	_ = s.logger.Sync()
	return errors.Join(errs...)
}

// Close shuts down with a default deadline.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Shutdown(ctx)
}
