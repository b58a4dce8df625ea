// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/livewatch/livewatch/internal/config"
	"github.com/livewatch/livewatch/internal/logging"
	"github.com/livewatch/livewatch/internal/metrics"
	"github.com/livewatch/livewatch/internal/notify"
	"github.com/livewatch/livewatch/internal/orchestrator"
	"github.com/livewatch/livewatch/internal/ratelimit"
	"github.com/livewatch/livewatch/internal/scoring"
	"github.com/livewatch/livewatch/internal/security"
	"github.com/livewatch/livewatch/internal/session"
	"github.com/livewatch/livewatch/internal/traces"
	"github.com/livewatch/livewatch/internal/validation"
	"github.com/livewatch/livewatch/internal/watchlist"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	engine       *scoring.Engine
	registry     *watchlist.Registry
	tracker      *session.Tracker
	hub          *notify.Hub
	notifier     *notify.Service
	orch         *orchestrator.Orchestrator
	poller       orchestrator.Poller
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTraces   func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithPoller sets the upstream event poller. Without one, events arrive only
// via POST /v1/ingest.
func WithPoller(p orchestrator.Poller) Option {
	return func(s *Server) {
		s.poller = p
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Scoring engine (file config or built-in defaults)
	scoringCfg, err := scoring.LoadConfig(cfg.ScoringConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring config: %w", err)
	}
	s.engine, err = scoring.NewEngine(scoringCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create scoring engine: %w", err)
	}
	if cfg.ScoringConfigPath != "" {
		s.logger.Info("scoring config loaded", "path", cfg.ScoringConfigPath)
	} else {
		s.logger.Info("using built-in scoring defaults")
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		watchStore   watchlist.Store
		sessionStore session.Store
		notifyStore  notify.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ws := watchlist.NewPostgresStore(db)
		if err := ws.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate watchlist store", "error", err)
		}
		watchStore = ws

		ss := session.NewPostgresStore(db)
		if err := ss.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate session store", "error", err)
		}
		sessionStore = ss

		ns := notify.NewPostgresStore(db)
		if err := ns.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate notification store", "error", err)
		}
		notifyStore = ns
	} else {
		s.logger.Info("using in-memory storage (data will not persist)")
		watchStore = watchlist.NewMemoryStore()
		sessionStore = session.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
	}

	s.registry = watchlist.NewRegistry(watchStore)
	s.tracker = session.NewTracker(sessionStore, s.engine, s.registry)

	s.hub = notify.NewHub(s.logger, cfg.BroadcastTimeout)
	s.notifier = notify.NewService(s.hub, notifyStore)
	s.logger.Info("notification hub enabled", "broadcastTimeout", cfg.BroadcastTimeout)

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.PollInterval = cfg.PollInterval
	orchCfg.WorkerCount = cfg.WorkerCount
	s.orch = orchestrator.New(orchCfg, s.registry, s.tracker, s.notifier, s.poller, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS
	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(security.CORSMiddleware(origins))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(rlCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// WebSocket streaming: everything, or one session's events
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request, "")
	})
	s.router.GET("/ws/sessions/:id", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request, c.Param("id"))
	})

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :handle URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.HandleParamMiddleware())

	watchlist.NewHandler(s.registry).RegisterRoutes(v1)
	session.NewHandler(s.tracker).RegisterRoutes(v1)
	notify.NewHandler(s.notifier).RegisterRoutes(v1)

	// Scoring without persistence, for classifier calibration
	v1.POST("/score", s.scoreHandler)

	// Upstream event ingestion (webhook alternative to polling)
	v1.POST("/ingest", s.ingestHandler)
}

// scoreHandler handles POST /v1/score
func (s *Server) scoreHandler(c *gin.Context) {
	var classification scoring.Classification
	if err := c.ShouldBindJSON(&classification); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	assessment, err := s.engine.ScoreContent(classification)
	if err != nil {
		status := http.StatusInternalServerError
		code := "scoring_failed"
		switch {
		case errors.Is(err, scoring.ErrInvalidTier):
			status = http.StatusBadRequest
			code = "invalid_tier"
		case errors.Is(err, scoring.ErrInvalidInput):
			status = http.StatusBadRequest
			code = "invalid_engagement"
		case errors.Is(err, scoring.ErrDivisionByZero):
			status = http.StatusBadRequest
			code = "zero_video_count"
		}
		c.JSON(status, gin.H{"error": code, "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"assessment": assessment})
}

// IngestRequest is one upstream observation pushed over HTTP.
type IngestRequest struct {
	Kind         string              `json:"kind" binding:"required"`
	Handle       string              `json:"handle" binding:"required"`
	SessionID    string              `json:"sessionId"`
	FullVideoURL string              `json:"fullVideoUrl"`
	Chunk        *session.ChunkInput `json:"chunk"`
	Stats        *watchlist.Stats    `json:"stats"`
}

// ingestHandler handles POST /v1/ingest
func (s *Server) ingestHandler(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	kind := orchestrator.EventKind(req.Kind)
	switch kind {
	case orchestrator.AccountLive, orchestrator.AccountOffline,
		orchestrator.ChunkAvailable, orchestrator.StatsRefreshed:
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_kind",
			"message": fmt.Sprintf("unknown event kind %q", req.Kind),
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidHandle("handle", req.Handle),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	err := s.orch.Submit(orchestrator.Event{
		Kind:         kind,
		Handle:       req.Handle,
		SessionID:    req.SessionID,
		FullVideoURL: req.FullVideoURL,
		Chunk:        req.Chunk,
		Stats:        req.Stats,
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "shutting_down",
			"message": "Event ingestion is stopped",
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	if s.db != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	for _, v := range checks {
		if v != "healthy" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "LiveWatch",
		"description": "Live broadcast monitoring for watched social accounts",
		"version":     "0.1.0",
		"websocket":   "/ws (all events) or /ws/sessions/{id} (one session)",
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when endpoint is unset)
	stopTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTraces = stopTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start the monitoring pipeline
	s.orch.Start(runCtx)

	// Export database pool stats
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the orchestrator: drains queued events and warns about sessions
	// left active. A broadcast may still be running upstream; only the next
	// offline event should end its session.
	s.orch.Stop(ctx)

	// Close the hub so WebSocket clients get a clean close frame
	s.hub.Close()

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
