package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/depot-core/internal/auth"
	"github.com/nerrad567/depot-core/internal/infrastructure/config"
	"github.com/nerrad567/depot-core/internal/infrastructure/logging"
	"github.com/nerrad567/depot-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config config.APIConfig
	Logger *logging.Logger
	Auth   *auth.Service
	Roles  *auth.RoleService
	Orgs   auth.OrgRepository
	Gate   *auth.Gate

	// Throttle limits failed register/login attempts. Nil disables it.
	Throttle auth.LoginThrottle

	// Metrics adds HTTP instrumentation and serves /metrics. Nil disables both.
	Metrics *telemetry.Metrics

	// Dependencies are checked by /api/v1/health.
	Dependencies []Dependency

	Version string
}

// Server is the HTTP API server for depot-core.
//
// It is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	logger   *logging.Logger
	auth     *auth.Service
	roles    *auth.RoleService
	orgs     auth.OrgRepository
	gate     *auth.Gate
	throttle auth.LoginThrottle
	metrics  *telemetry.Metrics
	limiter  *ipRateLimiter
	deps     []Dependency
	version  string
	started  time.Time
	server   *http.Server
	cancel   context.CancelFunc
}

// New creates a new API server with the given dependencies.
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("logger is required")
	case deps.Auth == nil:
		return nil, fmt.Errorf("auth service is required")
	case deps.Roles == nil:
		return nil, fmt.Errorf("role service is required")
	case deps.Orgs == nil:
		return nil, fmt.Errorf("org repository is required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("gate is required")
	}

	s := &Server{
		cfg:      deps.Config,
		logger:   deps.Logger.Component("api"),
		auth:     deps.Auth,
		roles:    deps.Roles,
		orgs:     deps.Orgs,
		gate:     deps.Gate,
		throttle: deps.Throttle,
		metrics:  deps.Metrics,
		deps:     deps.Dependencies,
		version:  deps.Version,
		started:  time.Now(),
	}

	if rl := deps.Config.RateLimit; rl.Enabled {
		window, err := config.ParseTTL(rl.Window)
		if err != nil {
			return nil, fmt.Errorf("rate limit window: %w", err)
		}
		if rl.MaxRequests <= 0 {
			return nil, fmt.Errorf("rate limit max_requests must be positive")
		}
		s.limiter = newIPRateLimiter(rl.MaxRequests, window)
	}

	return s, nil
}

// Handler returns the fully wired router without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.limiter != nil {
		go s.limiter.run(srvCtx)
	}

	handler := s.buildRouter()
	if s.cfg.Timeouts.Request > 0 {
		handler = http.TimeoutHandler(handler, time.Duration(s.cfg.Timeouts.Request)*time.Second,
			`{"status":503,"code":"unavailable","message":"Request timed out"}`)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           handler,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return srvCtx },
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", s.server.Addr)
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server, waiting up to
// gracefulShutdownTimeout for in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
