// Package api wires the HTTP surface: global middleware in auditing order, the host
// routes (auth, profile, items), the administrator log views and the health endpoints.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/api-monitor/api-monitor/internal/api/accounts"
	"github.com/api-monitor/api-monitor/internal/api/items"
	"github.com/api-monitor/api-monitor/internal/api/logs"
	"github.com/api-monitor/api-monitor/internal/audit"
	"github.com/api-monitor/api-monitor/internal/config"
	"github.com/api-monitor/api-monitor/internal/db/repositories"
	"github.com/api-monitor/api-monitor/internal/identity"
	"github.com/api-monitor/api-monitor/internal/middleware"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
)

// Version is the build version reported by /version, set with -ldflags
var Version = "dev"

// Dependencies are built by cmd/server and shared with its other commands
type Dependencies struct {
	DB       *sqlx.DB
	Recorder *audit.Recorder
	// Notifier may be nil, in which case failures are recorded but nobody is alerted
	Notifier middleware.CriticalNotifier
	Tokens   *identity.TokenIssuer
}

// BackgroundServices holds goroutine owners started by NewRouter. The caller stops them
// after the HTTP server has drained.
type BackgroundServices struct {
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	userRepo := repositories.NewUserRepository(deps.DB)
	itemRepo := repositories.NewItemRepository(deps.DB)
	auditRepo := repositories.NewAuditRepository(deps.DB)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(nil))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig(cfg.Security.TLS.Enabled)))
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	router.Use(middleware.ErrorLoggingMiddleware(deps.Recorder, deps.Notifier))
	router.Use(middleware.ActivityLoggingMiddleware(deps.Recorder, middleware.ActivityOptions{
		LogRequestBody: cfg.Monitoring.LogRequestBody,
		Sanitizer:      audit.NewSanitizer(cfg.Monitoring.SensitiveKeys),
	}))

	router.Use(middleware.OptionalAuthMiddleware(deps.Tokens, userRepo))

	if cfg.Security.RateLimiting.Enabled {
		rlCfg := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			rlCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			rlCfg.BurstSize = cfg.Security.RateLimiting.Burst
		}
		limiter := middleware.NewRateLimiter(rlCfg)
		bg.rateLimiters = append(bg.rateLimiters, limiter)
		router.Use(middleware.RateLimitMiddleware(limiter))
	}

	router.GET("/health", healthCheckHandler(deps.DB))
	router.GET("/ready", readinessHandler(deps.DB))
	router.GET("/version", versionHandler())

	requireAuth := middleware.AuthMiddleware(deps.Tokens, userRepo)
	accountHandlers := accounts.NewHandlers(userRepo, deps.Tokens)

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			login := []gin.HandlerFunc{}
			if cfg.Security.RateLimiting.Enabled {
				loginLimiter := middleware.NewRateLimiter(middleware.LoginRateLimitConfig())
				bg.rateLimiters = append(bg.rateLimiters, loginLimiter)
				login = append(login, middleware.RateLimitMiddleware(loginLimiter))
			}
			login = append(login, accountHandlers.LoginHandler())
			auth.POST("/login", login...)
			auth.POST("/logout", requireAuth, accountHandlers.LogoutHandler())
		}

		me := api.Group("/me", requireAuth)
		{
			me.GET("/profile", accountHandlers.GetProfileHandler())
			me.PUT("/profile", accountHandlers.UpdateProfileHandler(false))
			me.PATCH("/profile", accountHandlers.UpdateProfileHandler(true))
		}

		items.NewHandlers(itemRepo).RegisterRoutes(api.Group("/items", requireAuth))

		logs.NewHandlers(audit.NewQueryEngine(auditRepo, audit.WithLocation(cfg.Monitoring.Location()))).
			RegisterRoutes(api.Group("/logs", requireAuth, middleware.RequireAdmin()))
	}

	return router, bg
}

// healthCheckHandler is the liveness check
// GET /health
func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the service can take traffic. Besides the database
// ping it requires the schema to be migrated and clean.
// GET /ready
func readinessHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		var version int64
		var dirty bool
		err := db.QueryRowContext(c.Request.Context(), `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&version, &dirty)
		if err != nil || dirty {
			checks["migrations"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "schema not migrated",
			})
			return
		}
		checks["migrations"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// versionHandler returns the build version
// GET /version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
