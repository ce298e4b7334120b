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
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/openrelief/reliefd/internal/anomaly"
	"github.com/openrelief/reliefd/internal/auth"
	"github.com/openrelief/reliefd/internal/chain"
	"github.com/openrelief/reliefd/internal/config"
	"github.com/openrelief/reliefd/internal/distribution"
	"github.com/openrelief/reliefd/internal/donations"
	"github.com/openrelief/reliefd/internal/health"
	"github.com/openrelief/reliefd/internal/ledger"
	"github.com/openrelief/reliefd/internal/logging"
	"github.com/openrelief/reliefd/internal/metrics"
	"github.com/openrelief/reliefd/internal/ratelimit"
	"github.com/openrelief/reliefd/internal/realtime"
	"github.com/openrelief/reliefd/internal/reconciliation"
	"github.com/openrelief/reliefd/internal/security"
	"github.com/openrelief/reliefd/internal/traces"
	"github.com/openrelief/reliefd/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	store          ledger.Store
	adapter        chain.Adapter
	detector       *anomaly.Detector
	orchestrator   *distribution.Orchestrator
	donations      *donations.Service
	stripe         *donations.StripeProvider
	reconciler     *reconciliation.Service
	reconcileTimer *reconciliation.Timer
	realtimeHub    *realtime.Hub
	rateLimiter    *ratelimit.Limiter
	healthReg      *health.Registry
	shutdownTraces func(context.Context) error
	db             *sql.DB            // nil if using in-memory
	stopDBStats    context.CancelFunc // stops the DB stats sampler; nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run

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

// WithAdapter sets a custom chain adapter (for testing)
func WithAdapter(a chain.Adapter) Option {
	return func(s *Server) {
		s.adapter = a
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set adapter/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var donationStore donations.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		ledgerStore := ledger.NewPostgresStore(db)
		if err := ledgerStore.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate ledger store", "error", err)
		}
		s.store = ledgerStore

		donPG := donations.NewPostgresStore(db)
		if err := donPG.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate donations store", "error", err)
		}
		donationStore = donPG

		// The collector loops until its context is cancelled, so it gets its
		// own context and a goroutine; Shutdown stops it.
		statsCtx, stopStats := context.WithCancel(context.Background())
		s.stopDBStats = stopStats
		go metrics.StartDBStatsCollector(statsCtx, db, 15*time.Second)
	} else {
		s.store = ledger.NewMemoryStore()
		donationStore = donations.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Chain adapter: real client when contracts are configured, mock otherwise
	if s.adapter == nil {
		if cfg.AdminPrivateKey != "" && cfg.ReliefTokenContract != "" {
			client, err := chain.New(chain.Config{
				RPCURL:                     cfg.RPCURL,
				PrivateKey:                 cfg.AdminPrivateKey,
				ChainID:                    cfg.ChainID,
				ReliefTokenContract:        cfg.ReliefTokenContract,
				SpendingControllerContract: cfg.SpendingControllerContract,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to create chain client: %w", err)
			}
			s.adapter = client
			if cfg.AdminWallet == "" {
				cfg.AdminWallet = client.Address()
			}
			s.logger.Info("chain adapter connected",
				"rpc", cfg.RPCURL,
				"token", cfg.ReliefTokenContract,
				"admin", cfg.AdminWallet)
		} else {
			if cfg.IsProduction() {
				return nil, errors.New("chain contracts must be configured in production")
			}
			s.adapter = chain.NewMock()
			s.logger.Info("using mock chain adapter (no contracts configured)")
		}
	}

	// Fraud detector; picks up a previously persisted model if one exists
	dailyLimit, err := strconv.ParseFloat(cfg.DailySpendLimit, 64)
	if err != nil {
		dailyLimit = 0
	}
	s.detector = anomaly.NewDetector(
		anomaly.WithContamination(cfg.Contamination),
		anomaly.WithModelPath(cfg.ModelPath),
		anomaly.WithDailyLimit(dailyLimit),
	)
	if s.detector.Trained() {
		s.logger.Info("fraud model loaded", "path", cfg.ModelPath)
	} else {
		s.logger.Info("fraud model not trained, rule fallback active")
	}

	s.orchestrator = distribution.New(s.store, s.adapter, s.detector,
		distribution.WithAdminWallet(cfg.AdminWallet))

	s.reconciler = reconciliation.NewService(s.store, s.adapter, cfg.AdminWallet)
	s.reconcileTimer = reconciliation.NewTimer(s.reconciler, s.logger)

	// Realtime hub for transparency dashboards
	s.realtimeHub = realtime.NewHub(s.logger)

	// Fiat donations through Stripe (optional)
	if cfg.StripeSecretKey != "" {
		s.stripe = donations.NewStripeProvider(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
		s.donations = donations.NewService(donationStore, s.store, s.stripe, s.orchestrator, s.realtimeHub)
		s.logger.Info("fiat donations enabled")
	} else {
		s.logger.Info("fiat donations disabled (no STRIPE_SECRET_KEY set)")
	}

	// Tracing
	shutdownTraces, err := traces.Init(ctx, cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.shutdownTraces = shutdownTraces
	}

	s.setupHealthChecks()

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

func (s *Server) setupHealthChecks() {
	s.healthReg = health.NewRegistry()

	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	if s.cfg.AdminWallet != "" {
		s.healthReg.Register("chain", func(ctx context.Context) health.Status {
			if _, err := s.adapter.BalanceOf(ctx, s.cfg.AdminWallet); err != nil {
				return health.Status{Name: "chain", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "chain", Healthy: true}
		})
	}
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

	// CORS (dashboards are served from anywhere during pilots)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	rlCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		rlCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
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

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

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

	// Public transparency dashboard
	s.router.GET("/", dashboardHandler)

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	ledgerHandler := ledger.NewHandler(s.store)
	distHandler := distribution.NewHandler(s.orchestrator).WithEvents(s.realtimeHub)
	reconHandler := reconciliation.NewHandler(s.reconciler)

	// V1 API group
	v1 := s.router.Group("/v1")

	// PUBLIC ROUTES — transparency reads, risk reports, platform stats
	ledgerHandler.RegisterRoutes(v1)
	distHandler.RegisterRoutes(v1)
	v1.GET("/stats", s.statsHandler)

	// Donations (public create + listing, provider webhook)
	if s.donations != nil {
		donationHandler := donations.NewHandler(s.donations, s.stripe)
		donationHandler.RegisterRoutes(v1)
		donationHandler.RegisterWebhookRoutes(v1)
	}

	// ADMIN ROUTES — fund movements and campaign/beneficiary management,
	// guarded by the shared operator secret
	admin := v1.Group("/admin")
	admin.Use(auth.RequireAdmin(s.cfg.AdminSecret))
	ledgerHandler.RegisterAdminRoutes(admin)
	distHandler.RegisterAdminRoutes(admin)
	reconHandler.RegisterAdminRoutes(admin)
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
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	allHealthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !allHealthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
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
		"name":        "reliefd",
		"description": "Disaster relief fund distribution with on-chain transparency",
		"version":     "0.1.0",
		"currency":    "drUSD",
		"chainId":     s.cfg.ChainID,
	})
}

// statsHandler returns platform-wide aggregates for the dashboard.
func (s *Server) statsHandler(c *gin.Context) {
	ctx := c.Request.Context()

	campaigns, err := s.store.ListCampaigns(ctx, "", 500)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load campaigns",
		})
		return
	}

	var active int
	for _, campaign := range campaigns {
		if campaign.Status == ledger.CampaignActive {
			active++
		}
	}

	flagged, err := s.store.ListTransactions(ctx, ledger.TransactionFilter{FlaggedOnly: true, Limit: 500})
	if err != nil {
		flagged = nil
	}

	stats := gin.H{
		"totalCampaigns":  len(campaigns),
		"activeCampaigns": active,
		"flaggedCount":    len(flagged),
		"modelTrained":    s.detector.Trained(),
		"realtime":        s.realtimeHub.Stats(),
	}
	if s.donations != nil {
		stats["donationsEnabled"] = true
	}
	c.JSON(http.StatusOK, stats)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start reconciliation timer
	go s.reconcileTimer.Start(runCtx)

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

	// Cancel the context for all background goroutines (hub, timers)
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

	if s.reconcileTimer != nil {
		s.reconcileTimer.Stop()
		s.logger.Info("reconciliation timer stopped")
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.shutdownTraces != nil {
		if err := s.shutdownTraces(ctx); err != nil {
			s.logger.Warn("trace shutdown error", "error", err)
		}
	}

	if closer, ok := s.adapter.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("chain client close error", "error", err)
		}
	}

	if s.stopDBStats != nil {
		s.stopDBStats()
	}

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
