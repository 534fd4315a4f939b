package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/scanchain/scanchain/internal/auth"
	"github.com/scanchain/scanchain/internal/config"
	"github.com/scanchain/scanchain/internal/logging"
	"github.com/scanchain/scanchain/internal/metrics"
	"github.com/scanchain/scanchain/internal/registry"
	"github.com/scanchain/scanchain/internal/verification"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Server is the external HTTP API server
type Server struct {
	config     *ServerConfig
	httpServer *http.Server
	listener   net.Listener
	mu         sync.RWMutex
	running    bool

	verifier *verification.Service
	registry *registry.Registry
	auth     *auth.Service

	// EventHub feeds /ws
	hub *EventHub

	// Prometheus and JSON metrics, optional
	metrics *metrics.PrometheusCollector

	// Per-IP rate limiters
	rateLimiters sync.Map

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// rateLimiterEntry holds a rate limiter and the last time it was used
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nanoseconds
}

func (e *rateLimiterEntry) touch(now time.Time) {
	e.lastSeen.Store(now.UnixNano())
}

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Addr string

	// Rate limiting: RateLimit requests per RateLimitWindow per client IP.
	// Zero disables it.
	RateLimit       int
	RateLimitWindow time.Duration
	TrustProxy      bool

	AllowedOrigins []string

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// MaxUploadSize bounds the multipart upload body.
	MaxUploadSize int64

	// ContractAddress is embedded in QR payloads. Empty uses the zero address.
	ContractAddress string
	PublicBaseURL   string

	DemoUsers bool
}

// DefaultServerConfig returns the default server configuration
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:              ":3001",
		RateLimit:         100,
		RateLimitWindow:   time.Minute,
		AllowedOrigins:    []string{"*"},
		ReadHeaderTimeout: 30 * time.Second,
		WriteTimeout:      6 * time.Minute,
		IdleTimeout:       120 * time.Second,
		MaxUploadSize:     10 << 20,
	}
}

// ServerConfigFrom maps the application config onto the server settings.
func ServerConfigFrom(cfg *config.Config) *ServerConfig {
	sc := DefaultServerConfig()
	sc.Addr = cfg.Server.Addr()
	sc.RateLimit = cfg.Server.RateLimitRequests
	sc.RateLimitWindow = time.Duration(cfg.Server.RateLimitWindowSecs) * time.Second
	sc.AllowedOrigins = cfg.Server.CORSOrigins
	sc.ReadHeaderTimeout = time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second
	sc.WriteTimeout = time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second
	sc.IdleTimeout = time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second
	sc.MaxUploadSize = cfg.Verification.MaxFileSize
	sc.ContractAddress = cfg.Ledger.ContractAddress
	sc.PublicBaseURL = cfg.Server.PublicBaseURL
	sc.DemoUsers = cfg.Auth.DemoUsers
	return sc
}

// NewServer creates a new HTTP API server
func NewServer(cfg *ServerConfig, verifier *verification.Service, reg *registry.Registry, authSvc *auth.Service) *Server {
	if cfg == nil {
		cfg = DefaultServerConfig()
	}
	return &Server{
		config:   cfg,
		verifier: verifier,
		registry: reg,
		auth:     authSvc,
		hub:      NewEventHub(),
	}
}

// SetMetricsCollector sets the metrics collector for request and event metrics
func (s *Server) SetMetricsCollector(mc *metrics.PrometheusCollector) {
	s.metrics = mc
	s.hub.SetMetrics(mc)
}

// Hub returns the websocket event hub. It is also a verification.Notifier.
func (s *Server) Hub() *EventHub {
	return s.hub
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background. Bind errors
// are returned synchronously.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.cleanupRateLimitersLoop(ctx)
	}()

	go func() {
		logging.Info("HTTP API server starting",
			"addr", ln.Addr().String(),
			logging.Component("api"))

		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server error",
				logging.Err(err),
				logging.Component("api"))
		}
	}()

	s.running = true
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return s.config.Addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully stops the HTTP API server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	s.cancel()
	s.wg.Wait()

	logging.Info("API server stopped", logging.Component("api"))
	return errors.Join(errs...)
}

// buildRouter builds the HTTP router with all handlers
func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, s.instrument(pattern, h))
	}

	// Public
	handle("GET /api/health", s.handleHealth)
	handle("GET /api/batch/{batchId}", s.handleGetBatch)
	handle("POST /api/qr/generate", s.handleQRGenerate)
	handle("POST /api/qr/parse", s.handleQRParse)
	handle("POST /api/qr/scan", s.handleQRScan)
	handle("POST /api/auth/register", s.handleRegister)
	handle("POST /api/auth/login", s.handleLogin)
	if s.config.DemoUsers {
		handle("POST /api/auth/demo/{role}", s.handleDemoLogin)
	}

	// Authenticated
	handle("GET /api/network", s.requireAuth(s.handleNetwork))
	handle("POST /api/upload", s.requireRole(s.handleUpload, canUpload))
	handle("POST /api/verify", s.requireAuth(s.handleVerify))
	handle("POST /api/scan", s.requireAuth(s.handleScan))
	handle("GET /api/product/{productId}", s.requireAuth(s.handleGetProduct))
	handle("GET /api/dashboard/{manufacturerId}", s.requireAuth(s.handleDashboard))
	handle("GET /api/user/metadata", s.requireAuth(s.handleMyMetadata))
	handle("GET /api/user/{userId}/metadata", s.requireAuth(s.handleUserMetadata))
	handle("GET /api/products/search", s.requireAuth(s.handleSearch))
	handle("POST /api/auth/logout", s.requireAuth(s.handleLogout))
	handle("GET /api/auth/profile", s.requireAuth(s.handleGetProfile))
	handle("PUT /api/auth/profile", s.requireAuth(s.handleUpdateProfile))
	handle("GET /api/auth/verify", s.requireAuth(s.handleVerifySession))
	handle("GET /api/auth/hashes", s.requireAuth(s.handleHashes))
	handle("GET /api/auth/stats", s.requireAuth(s.handleStats))

	// Event feed and metrics
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.PrometheusHandler())
		handle("GET /api/metrics", s.handleMetricsJSON)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, http.StatusNotFound, "Route not found")
	})

	// Outermost first: recover, CORS, rate limit.
	return s.recoverMiddleware(s.corsMiddleware(s.rateLimitMiddleware(mux)))
}

// cleanupRateLimitersLoop periodically removes stale rate limiters
func (s *Server) cleanupRateLimitersLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.cleanupRateLimiters(time.Now().Add(-10 * time.Minute))
		}
	}
}

// cleanupRateLimiters removes rate limiter entries not seen since threshold
func (s *Server) cleanupRateLimiters(threshold time.Time) int {
	var cleaned int
	s.rateLimiters.Range(func(key, value any) bool {
		entry := value.(*rateLimiterEntry)
		if entry.lastSeen.Load() < threshold.UnixNano() {
			s.rateLimiters.Delete(key)
			cleaned++
		}
		return true
	})

	if cleaned > 0 {
		logging.Debug("cleaned up stale rate limiters",
			"count", cleaned,
			logging.Component("api"))
	}
	return cleaned
}
