package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fraudshield/backend/configs"
	"github.com/fraudshield/backend/internal/analytics"
	"github.com/fraudshield/backend/internal/auth"
	"github.com/fraudshield/backend/internal/feature"
	"github.com/fraudshield/backend/internal/mlmodel"
	"github.com/fraudshield/backend/internal/models"
	"github.com/fraudshield/backend/internal/queue"
	"github.com/fraudshield/backend/internal/repositories"
	"github.com/fraudshield/backend/internal/scoring"
	"github.com/fraudshield/backend/internal/services"
)

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Load configuration
	cfg := configs.Load()

	// Setup logging
	setupLogging(cfg.Server.Environment)

	log.Info().
		Str("environment", cfg.Server.Environment).
		Str("port", cfg.Server.Port).
		Msg("Starting FraudShield API Server")

	// Initialize database
	db, err := repositories.NewDatabase(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis
	streamClient, err := queue.NewRedisStreamClient(cfg.Redis, cfg.Worker.DeadLetterStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Stream")
	}
	defer streamClient.Close()

	cacheClient, err := queue.NewCacheClient(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis Cache")
	}
	defer cacheClient.Close()

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	clientRepo := repositories.NewClientRepository(db)
	merchantRepo := repositories.NewMerchantRepository(db)
	txRepo := repositories.NewTransactionRepository(db)
	alertRepo := repositories.NewAlertRepository(db)
	auditRepo := repositories.NewAuditRepository(db)

	// Initialize the scoring pipeline
	modelLoader := mlmodel.NewLoader(cfg.Model)
	featureComputer := feature.NewComputer(txRepo)
	scorer := scoring.NewScorer(cfg.Model.LatentDim, scoring.Fallback{})
	policy := scoring.NewPolicy(cfg.Policy)
	engine := scoring.NewEngine(featureComputer, modelLoader, scorer, policy)

	// Initialize services
	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiration)
	authService := services.NewAuthService(userRepo, jwtManager)
	decisionService := services.NewDecisionService(
		db, txRepo, clientRepo, merchantRepo, alertRepo, auditRepo,
		engine, streamClient, cacheClient,
	)
	analyticsService := analytics.NewAnalyticsService(txRepo, alertRepo, db, cacheClient)

	// Setup Gin router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware())

	// Rate limiting: 100 requests per minute per IP
	rateLimiter := NewRateLimiter(100, time.Minute)
	router.Use(rateLimitMiddleware(rateLimiter))

	// Setup routes
	setupRoutes(router, jwtManager, authService, decisionService, analyticsService, streamClient, db, clientRepo, merchantRepo, alertRepo, auditRepo, modelLoader)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func setupLogging(env string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if env == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func setupRoutes(
	router *gin.Engine,
	jwtManager *auth.JWTManager,
	authService *services.AuthService,
	decisionService *services.DecisionService,
	analyticsService *analytics.AnalyticsService,
	streamClient *queue.RedisStreamClient,
	db *repositories.Database,
	clientRepo *repositories.ClientRepository,
	merchantRepo *repositories.MerchantRepository,
	alertRepo *repositories.AlertRepository,
	auditRepo *repositories.AuditRepository,
	modelLoader *mlmodel.Loader,
) {
	// Health check
	router.GET("/health", healthHandler(db, modelLoader))

	// Prometheus metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := router.Group("/api/v1")

	// Auth routes (public)
	authRoutes := v1.Group("/auth")
	{
		authRoutes.POST("/register", registerHandler(authService))
		authRoutes.POST("/login", loginHandler(authService))
		authRoutes.POST("/refresh", auth.AuthMiddleware(jwtManager), refreshTokenHandler(authService))
	}

	// Protected routes
	protected := v1.Group("")
	protected.Use(auth.AuthMiddleware(jwtManager))

	// Transaction routes
	txRoutes := protected.Group("/transactions")
	{
		txRoutes.POST("", scoreTransactionHandler(decisionService))
		txRoutes.POST("/simulate", simulateHandler(decisionService))
		txRoutes.POST("/seed", auth.RoleMiddleware("admin", "analyst"), seedTransactionsHandler(decisionService))
		txRoutes.GET("", listTransactionsHandler(decisionService))
		txRoutes.GET("/:id", getTransactionHandler(decisionService))
		txRoutes.GET("/:id/decision", getDecisionHandler(decisionService))
		txRoutes.GET("/:id/audit", getTransactionAuditHandler(auditRepo))
	}

	// Alert routes
	alertRoutes := protected.Group("/alerts")
	{
		alertRoutes.GET("", listAlertsHandler(alertRepo))
		alertRoutes.GET("/:id", getAlertHandler(alertRepo))
		alertRoutes.GET("/:id/predictions", getAlertPredictionsHandler(alertRepo))
		alertRoutes.PATCH("/:id/status", auth.RoleMiddleware("admin", "analyst"), updateAlertStatusHandler(alertRepo, auditRepo))
	}

	// Client routes
	clientRoutes := protected.Group("/clients")
	{
		clientRoutes.POST("", createClientHandler(clientRepo))
		clientRoutes.GET("", listClientsHandler(clientRepo))
		clientRoutes.GET("/:id", getClientHandler(clientRepo))
		clientRoutes.PATCH("/:id", updateClientHandler(clientRepo, decisionService))
	}

	// Merchant routes
	merchantRoutes := protected.Group("/merchants")
	{
		merchantRoutes.POST("", createMerchantHandler(merchantRepo))
		merchantRoutes.GET("/:id", getMerchantHandler(merchantRepo))
	}

	// Dashboard routes
	dashboardRoutes := protected.Group("/dashboard")
	{
		dashboardRoutes.GET("/summary", getDailySummaryHandler(analyticsService))
		dashboardRoutes.GET("/summary/range", getSummaryRangeHandler(analyticsService))
		dashboardRoutes.GET("/distribution", getDistributionHandler(analyticsService))
		dashboardRoutes.GET("/reasons/top", getTopReasonsHandler(analyticsService))
		dashboardRoutes.GET("/volume/hourly", getHourlyVolumeHandler(analyticsService))
	}

	// System metrics (admin only)
	systemRoutes := protected.Group("/system")
	systemRoutes.Use(auth.RoleMiddleware("admin", "analyst"))
	{
		systemRoutes.GET("/metrics", getSystemMetricsHandler(analyticsService, streamClient))
		systemRoutes.GET("/audit", getAuditLogsHandler(auditRepo))
	}
}

// Middleware

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("latency", latency).
			Str("request_id", c.GetString("request_id")).
			Str("client_ip", c.ClientIP()).
			Msg("Request completed")
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RateLimiter implements a simple in-memory rate limiter using token bucket algorithm
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
}

type visitor struct {
	tokens   int
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rate int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
	}
	// Clean up old visitors periodically
	go rl.cleanup()
	return rl
}

func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(time.Minute)
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if time.Since(v.lastSeen) > rl.window*2 {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	now := time.Now()

	if !exists {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastSeen: now}
		return true
	}

	// Refill tokens based on time elapsed
	elapsed := now.Sub(v.lastSeen)
	refill := int(elapsed / (rl.window / time.Duration(rl.rate)))
	v.tokens += refill
	if v.tokens > rl.rate {
		v.tokens = rl.rate
	}
	v.lastSeen = now

	if v.tokens > 0 {
		v.tokens--
		return true
	}

	return false
}

func rateLimitMiddleware(limiter *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiter.Allow(ip) {
			c.Header("Retry-After", "60")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": 60,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// Handlers

func healthHandler(db *repositories.Database, modelLoader *mlmodel.Loader) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "healthy"
		if err := db.HealthCheck(c.Request.Context()); err != nil {
			dbStatus = "unhealthy"
			status = http.StatusServiceUnavailable
		}

		modelStatus := "healthy"
		if err := modelLoader.Healthy(); err != nil {
			// Degraded mode still serves requests through the heuristic path
			modelStatus = "degraded"
		}

		c.JSON(status, gin.H{
			"status":    dbStatus,
			"models":    modelStatus,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func registerHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Register(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrWeakPassword) || errors.Is(err, repositories.ErrDuplicateUser) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func loginHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.LoginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		resp, err := authService.Login(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrInvalidCredentials) {
				status = http.StatusUnauthorized
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func refreshTokenHandler(authService *services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if len(token) > 7 {
			token = token[7:] // Remove "Bearer "
		}

		resp, err := authService.RefreshToken(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, resp)
	}
}

func scoreTransactionHandler(decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.ScoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		requestID := c.GetString("request_id")
		resp, err := decisionService.ScoreTransaction(c.Request.Context(), &req, requestID)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, repositories.ErrClientNotFound) || errors.Is(err, repositories.ErrMerchantNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, resp)
	}
}

func simulateHandler(decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req services.ScoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		decision, err := decisionService.Simulate(c.Request.Context(), &req)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, repositories.ErrClientNotFound) || errors.Is(err, repositories.ErrMerchantNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, decision)
	}
}

func seedTransactionsHandler(decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Count int `json:"count" binding:"required,gt=0,lte=1000"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		requestID := c.GetString("request_id")
		result, err := decisionService.SeedTransactions(c.Request.Context(), req.Count, requestID)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, services.ErrNoClients) {
				status = http.StatusConflict
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, result)
	}
}

func getTransactionAuditHandler(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid transaction id"})
			return
		}

		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		logs, total, err := auditRepo.GetByEntityID(c.Request.Context(), "transaction", id, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"audit_logs": logs,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func listTransactionsHandler(decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.Query("client_id")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		transactions, total, err := decisionService.ListTransactions(c.Request.Context(), clientID, page, pageSize)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"transactions": transactions,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getTransactionHandler(decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		tx, err := decisionService.GetTransaction(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, tx)
	}
}

func getDecisionHandler(decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		decision, err := decisionService.GetDecision(c.Request.Context(), c.Param("id"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, decision)
	}
}

func listAlertsHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		criticality := c.Query("criticality")
		status := c.Query("status")
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 20)

		alerts, total, err := alertRepo.List(c.Request.Context(), criticality, status, page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"alerts": alerts,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getAlertHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		alert, err := alertRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, alert)
	}
}

func getAlertPredictionsHandler(alertRepo *repositories.AlertRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		alert, err := alertRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		predictions, err := alertRepo.GetPredictions(c.Request.Context(), alert.TransactionID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"predictions": predictions})
	}
}

func updateAlertStatusHandler(alertRepo *repositories.AlertRepository, auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert id"})
			return
		}

		var req struct {
			Status string `json:"status" binding:"required,oneof=OUVERTE EN_COURS CLOTUREE"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if err := alertRepo.UpdateStatus(c.Request.Context(), id, req.Status); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrAlertNotFound) {
				status = http.StatusNotFound
			} else if errors.Is(err, repositories.ErrInvalidAlertState) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		auditLog := &models.AuditLog{
			EventType:  models.AuditEventAlert,
			EntityID:   id,
			EntityType: "alert",
			Action:     "status_change",
			RequestID:  c.GetString("request_id"),
			Payload:    models.JSONB{"status": req.Status},
		}
		if userID, ok := auth.GetUserIDFromContext(c); ok {
			auditLog.UserID = &userID
		}
		if err := auditRepo.Create(c.Request.Context(), auditLog); err != nil {
			log.Error().Err(err).Str("alert_id", id.String()).Msg("Failed to audit alert status change")
		}

		c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
	}
}

func createClientHandler(clientRepo *repositories.ClientRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			FirstName        string  `json:"first_name" binding:"required"`
			LastName         string  `json:"last_name" binding:"required"`
			ExternalRef      string  `json:"external_ref"`
			Segment          string  `json:"segment" binding:"omitempty,oneof=STANDARD PREMIUM"`
			ResidenceCountry string  `json:"residence_country"`
			MonthlyIncome    float64 `json:"monthly_income" binding:"omitempty,gte=0"`
			DailyCeiling     float64 `json:"daily_ceiling" binding:"omitempty,gte=0"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		segment := req.Segment
		if segment == "" {
			segment = models.SegmentStandard
		}

		client := &models.Client{
			FirstName:        req.FirstName,
			LastName:         req.LastName,
			ExternalRef:      req.ExternalRef,
			Segment:          segment,
			ResidenceCountry: normalizeCountryParam(req.ResidenceCountry),
			MonthlyIncome:    req.MonthlyIncome,
			DailyCeiling:     req.DailyCeiling,
		}

		if err := clientRepo.Create(c.Request.Context(), client); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, client)
	}
}

func listClientsHandler(clientRepo *repositories.ClientRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Lookup by the core-banking reference returns a single client
		if ref := c.Query("external_ref"); ref != "" {
			client, err := clientRepo.GetByExternalRef(c.Request.Context(), ref)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, repositories.ErrClientNotFound) {
					status = http.StatusNotFound
				}
				c.JSON(status, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{"clients": []*models.Client{client}})
			return
		}

		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 50)

		clients, total, err := clientRepo.List(c.Request.Context(), page, pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"clients": clients,
			"pagination": gin.H{
				"page":      page,
				"page_size": pageSize,
				"total":     total,
			},
		})
	}
}

func getClientHandler(clientRepo *repositories.ClientRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}

		client, err := clientRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, client)
	}
}

func updateClientHandler(clientRepo *repositories.ClientRepository, decisionService *services.DecisionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid client id"})
			return
		}

		var req struct {
			Segment          *string  `json:"segment" binding:"omitempty,oneof=STANDARD PREMIUM"`
			ResidenceCountry *string  `json:"residence_country"`
			MonthlyIncome    *float64 `json:"monthly_income" binding:"omitempty,gte=0"`
			DailyCeiling     *float64 `json:"daily_ceiling" binding:"omitempty,gte=0"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		client, err := clientRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrClientNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		if req.Segment != nil {
			client.Segment = *req.Segment
		}
		if req.ResidenceCountry != nil {
			client.ResidenceCountry = normalizeCountryParam(*req.ResidenceCountry)
		}
		if req.MonthlyIncome != nil {
			client.MonthlyIncome = *req.MonthlyIncome
		}
		if req.DailyCeiling != nil {
			client.DailyCeiling = *req.DailyCeiling
		}

		if err := clientRepo.UpdateProfile(c.Request.Context(), client); err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, repositories.ErrClientNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		// The scoring pipeline caches profiles; drop the stale entry now
		decisionService.InvalidateClientProfile(c.Request.Context(), id)

		c.JSON(http.StatusOK, client)
	}
}

func createMerchantHandler(merchantRepo *repositories.MerchantRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Name     string `json:"name" binding:"required"`
			Category string `json:"category"`
			Country  string `json:"country"`
		}

		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		merchant := &models.Merchant{
			Name:     req.Name,
			Category: req.Category,
			Country:  normalizeCountryParam(req.Country),
		}

		if err := merchantRepo.Create(c.Request.Context(), merchant); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusCreated, merchant)
	}
}

func getMerchantHandler(merchantRepo *repositories.MerchantRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid merchant id"})
			return
		}

		merchant, err := merchantRepo.GetByID(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, merchant)
	}
}

func getDailySummaryHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := getDateParam(c)
		if !ok {
			return
		}

		summary, err := analyticsService.GetDailySummary(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

func getSummaryRangeHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		start, err := time.Parse("2006-01-02", c.Query("start"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start date, use YYYY-MM-DD"})
			return
		}
		end, err := time.Parse("2006-01-02", c.Query("end"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end date, use YYYY-MM-DD"})
			return
		}
		if end.Before(start) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "end date precedes start date"})
			return
		}

		summaries, err := analyticsService.GetSummaryRange(c.Request.Context(), start, end)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"summaries": summaries})
	}
}

func getDistributionHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)

		distribution, err := analyticsService.GetCriticalityDistribution(c.Request.Context(), days)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, distribution)
	}
}

func getTopReasonsHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := getIntParam(c, "days", 7)
		limit := getIntParam(c, "limit", 10)

		reasons, err := analyticsService.GetTopReasonCodes(c.Request.Context(), days, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"reason_codes": reasons})
	}
}

func getHourlyVolumeHandler(analyticsService *analytics.AnalyticsService) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, ok := getDateParam(c)
		if !ok {
			return
		}

		volumes, err := analyticsService.GetHourlyVolume(c.Request.Context(), date)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"volumes": volumes})
	}
}

func getSystemMetricsHandler(analyticsService *analytics.AnalyticsService, streamClient *queue.RedisStreamClient) gin.HandlerFunc {
	return func(c *gin.Context) {
		metrics, err := analyticsService.GetSystemMetrics(c.Request.Context(), streamClient)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, metrics)
	}
}

func getAuditLogsHandler(auditRepo *repositories.AuditRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		page := getIntParam(c, "page", 1)
		pageSize := getIntParam(c, "page_size", 50)

		if eventType := c.Query("event_type"); eventType != "" {
			logs, total, err := auditRepo.GetByEventType(c.Request.Context(), eventType, page, pageSize)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, gin.H{
				"audit_logs": logs,
				"pagination": gin.H{
					"page":      page,
					"page_size": pageSize,
					"total":     total,
				},
			})
			return
		}

		logs, err := auditRepo.GetRecent(c.Request.Context(), pageSize)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.JSON(http.StatusOK, gin.H{"audit_logs": logs})
	}
}

// Helper functions

func getIntParam(c *gin.Context, key string, defaultValue int) int {
	if val := c.Query(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil && result > 0 {
			return result
		}
	}
	return defaultValue
}

func getDateParam(c *gin.Context) (time.Time, bool) {
	dateStr := c.Query("date")
	if dateStr == "" {
		return time.Now().UTC(), true
	}

	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format, use YYYY-MM-DD"})
		return time.Time{}, false
	}
	return date, true
}

func normalizeCountryParam(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
