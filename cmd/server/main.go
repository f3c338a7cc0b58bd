// @title           MCP Tool Directory API
// @version         0.1.0
// @description     Browse, search and submit MCP tools whose listings live in a GitHub repository.
// @basePath        /
// @schemes         http https
//
// @tag.name         System
// @tag.description  Health, readiness and version endpoints.
//
// @tag.name         Tools
// @tag.description  Catalog listing, tool detail and submission.
//
// @tag.name         Webhooks
// @tag.description  Content repository push notifications.

// Package main is the entry point for the MCP tool directory server binary.
// It dispatches the serve, reconcile and version subcommands via a switch on
// os.Args.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mcp-directory/mcp-directory/internal/api"
	"github.com/mcp-directory/mcp-directory/internal/cache"
	"github.com/mcp-directory/mcp-directory/internal/catalog"
	"github.com/mcp-directory/mcp-directory/internal/config"
	"github.com/mcp-directory/mcp-directory/internal/content"
	_ "github.com/mcp-directory/mcp-directory/internal/content/github"
	_ "github.com/mcp-directory/mcp-directory/internal/content/local"
	"github.com/mcp-directory/mcp-directory/internal/jobs"
	"github.com/mcp-directory/mcp-directory/internal/telemetry"
)

const catalogAgeInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		return serve()
	case "reconcile":
		return reconcile()
	case "version":
		fmt.Printf("MCP Tool Directory v%s\n", api.Version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s (available: serve, reconcile, version)", command)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)
	return cfg, nil
}

func openRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if !cfg.UsesRedis() {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
	}
	slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	return rdb, nil
}

func serve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	slog.Info("starting MCP tool directory",
		"version", api.Version,
		"content_provider", cfg.Content.Provider,
		"cache_ttl", cfg.Cache.TTL)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	rdb, err := openRedis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	provider, err := content.New(&cfg.Content)
	if err != nil {
		return fmt.Errorf("failed to initialize content provider: %w", err)
	}
	slog.Info("content provider initialized", "kind", provider.Kind())

	var rdbClient redis.UniversalClient
	if rdb != nil {
		rdbClient = rdb
	}
	snapshots, err := cache.OpenSnapshotStore(cfg.Cache.Snapshot, rdbClient)
	if err != nil {
		return fmt.Errorf("failed to open catalog snapshot store: %w", err)
	}
	if snapshots != nil {
		defer snapshots.Close()
	}

	fetcher := catalog.NewFetcher(provider, cfg.Content.FetchConcurrency)
	c := cache.New(fetcher, cache.Options{
		TTL:      cfg.Cache.TTL,
		Snapshot: snapshots,
	})

	restored, err := c.Restore(ctx)
	if err != nil {
		slog.Warn("failed to restore catalog snapshot", "error", err)
	}
	if restored {
		slog.Info("catalog restored from snapshot", "fetched_at", c.FetchedAt())
	}
	// Warm the cache without blocking startup.
	c.TriggerRefresh()

	telemetry.StartCatalogAgeCollector(ctx, catalogAgeInterval, c.FetchedAt)

	router, bgServices, err := api.NewRouter(cfg, api.Dependencies{
		Provider: provider,
		Fetcher:  fetcher,
		Cache:    c,
		Redis:    rdbClient,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{
			Addr:         metricsAddr,
			Handler:      metricsMux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			slog.Info("prometheus metrics server listening", "addr", metricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	srv := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	bgServices.Shutdown()
	stop()

	slog.Info("server exited")
	return nil
}

// reconcile runs the index reconciler once and prints the dangling entries.
func reconcile() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := content.New(&cfg.Content)
	if err != nil {
		return fmt.Errorf("failed to initialize content provider: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := jobs.NewIndexReconciler(provider, nil, cfg.Jobs.IndexReconciler).RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	fmt.Printf("Checked %d index entries\n", report.Checked)
	for _, id := range report.Dangling {
		fmt.Printf("  dangling: %s\n", id)
	}
	if report.Pruned {
		fmt.Println("Index pruned")
	}
	return nil
}
