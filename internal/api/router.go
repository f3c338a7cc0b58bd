// Package api wires together all HTTP routes of the MCP tool directory.
//
// Route groups:
//   - /api/ serves JSON for the listing, tool details, submissions and the
//     content repository webhook. Responses carry the strict API security
//     headers.
//   - The HTML pages (/, /tools/:id, /submit) share the same handlers'
//     semantics and carry the page Content Security Policy.
//   - /health, /ready and /version are operational endpoints outside both
//     groups and are never rate limited.
//
// Submissions (POST /api/tools and POST /submit) pass through a second, much
// stricter rate limiter on top of the general one.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/mcp-directory/mcp-directory/internal/api/tools"
	"github.com/mcp-directory/mcp-directory/internal/api/webhooks"
	"github.com/mcp-directory/mcp-directory/internal/cache"
	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/internal/content"
	"github.com/mcp-directory/mcp-directory/internal/jobs"
	"github.com/mcp-directory/mcp-directory/internal/middleware"
	"github.com/mcp-directory/mcp-directory/internal/submission"
	"github.com/mcp-directory/mcp-directory/internal/web"
)

// Version is the service version reported by /version. Release builds set it
// with -ldflags "-X github.com/mcp-directory/mcp-directory/internal/api.Version=...".
var Version = "0.1.0"

// Dependencies are the components the router serves. Redis may be nil when
// no configured component needs it.
type Dependencies struct {
	Provider content.Provider
	Fetcher  *catalog.Fetcher
	Cache    *cache.Cache
	Redis    redis.UniversalClient
}

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	cancel       context.CancelFunc
	reconciler   *jobs.IndexReconciler
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the HTTP
// server has been shut down so that in-flight requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.reconciler != nil {
		bg.reconciler.Stop()
	}
	if bg.cancel != nil {
		bg.cancel()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router and starts the background
// jobs the configuration enables.
func NewRouter(cfg *config.Config, deps Dependencies) (*gin.Engine, *BackgroundServices, error) {
	router := gin.New()
	ctx, cancel := context.WithCancel(context.Background())
	bg := &BackgroundServices{cancel: cancel}

	submissions := submission.NewService(deps.Provider, deps.Cache, submission.Options{
		DefaultAuthor: cfg.Submission.DefaultAuthor,
	})

	pages, err := web.NewPages(deps.Cache, deps.Fetcher, submissions)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to parse page templates: %w", err)
	}

	// Rate limiters; nil handlers when rate limiting is disabled.
	var generalLimit, submitLimit []gin.HandlerFunc
	if rl := cfg.Security.RateLimiting; rl.Enabled {
		general, err := bg.newLimiter(cfg, deps.Redis, "general", middleware.PerMinute(rl.RequestsPerMinute, rl.Burst))
		if err != nil {
			cancel()
			return nil, nil, err
		}
		submit, err := bg.newLimiter(cfg, deps.Redis, "submit", middleware.PerHour(rl.SubmissionsPerHour))
		if err != nil {
			cancel()
			return nil, nil, err
		}
		generalLimit = []gin.HandlerFunc{middleware.RateLimitMiddleware(general)}
		submitLimit = []gin.HandlerFunc{middleware.RateLimitMiddleware(submit)}
	}

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.LoggerMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.Security.CORS))

	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(deps.Cache))
	router.GET("/version", versionHandler())

	apiGroup := router.Group("/api")
	apiGroup.Use(middleware.SecurityHeadersMiddleware(middleware.NewHeaderPolicy(middleware.SurfaceAPI, cfg.Server.BaseURL)))
	{
		read := apiGroup.Group("", generalLimit...)
		read.GET("/tools", tools.ListHandler(deps.Cache))
		read.GET("/tools/:id", tools.GetHandler(deps.Fetcher))

		write := apiGroup.Group("", append(generalLimit, submitLimit...)...)
		write.POST("/tools", tools.SubmitHandler(submissions))

		// Authenticated by signature; an empty secret leaves the route unregistered.
		if cfg.Webhook.Secret != "" {
			hook := webhooks.NewGitHubWebhookHandler(cfg.Webhook.Secret, cfg.Content.GitHub.Branch, deps.Cache)
			apiGroup.POST("/webhooks/github", hook.HandleWebhook)
		}
	}

	pageGroup := router.Group("")
	pageGroup.Use(middleware.SecurityHeadersMiddleware(middleware.NewHeaderPolicy(middleware.SurfacePages, cfg.Server.BaseURL)))
	pageGroup.Use(generalLimit...)
	pages.Register(router, pageGroup, submitLimit...)

	if rc := cfg.Jobs.IndexReconciler; rc.Enabled {
		bg.reconciler = jobs.NewIndexReconciler(deps.Provider, deps.Cache, rc)
		go bg.reconciler.Start(ctx)
	}

	return router, bg, nil
}

// newLimiter builds the configured limiter backend. In-memory limiters are
// kept so Shutdown can stop their cleanup goroutines.
func (bg *BackgroundServices) newLimiter(cfg *config.Config, rdb redis.UniversalClient, name string, rlc middleware.RateLimitConfig) (middleware.Limiter, error) {
	if cfg.Security.RateLimiting.Backend == "redis" {
		if rdb == nil {
			return nil, fmt.Errorf("redis rate limiting requires a redis client")
		}
		return middleware.NewRedisRateLimiter(rdb, "mcp-directory:ratelimit:"+name+":", rlc), nil
	}
	rl := middleware.NewRateLimiter(rlc)
	bg.rateLimiters = append(bg.rateLimiters, rl)
	return rl, nil
}

// @Summary      Health check
// @Description  Liveness check. Always healthy while the process serves requests.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// CatalogState reports what the cache currently holds without triggering a fetch.
type CatalogState interface {
	Peek() *cache.Record
}

// @Summary      Readiness check
// @Description  Returns whether a catalog has been loaded, either fetched or restored from a snapshot.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, checks, catalog: {fetched_at, tools}"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: catalog not loaded"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. Unlike the
// liveness check (/health) it fails until a catalog record exists, so a
// replica that cannot reach the content repository at startup and has no
// snapshot is kept out of rotation.
func readinessHandler(state CatalogState) gin.HandlerFunc {
	return func(c *gin.Context) {
		rec := state.Peek()
		if rec == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": gin.H{"catalog": "not loaded"},
				"error":  "catalog not loaded",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": gin.H{"catalog": "loaded"},
			"catalog": gin.H{
				"fetched_at": rec.FetchedAt.UTC().Format(time.RFC3339),
				"tools":      rec.Catalog.ToolCount(),
			},
			"time": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the service version and API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     Version,
			"api_version": "v1",
		})
	}
}
