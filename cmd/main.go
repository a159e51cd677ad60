package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/coursebridge/coursebridge/internal/cache"
	"github.com/coursebridge/coursebridge/internal/canvas"
	"github.com/coursebridge/coursebridge/internal/config"
	"github.com/coursebridge/coursebridge/internal/gradescope"
	"github.com/coursebridge/coursebridge/internal/logging"
	"github.com/coursebridge/coursebridge/internal/metrics"
	"github.com/coursebridge/coursebridge/internal/server"
	"github.com/coursebridge/coursebridge/internal/tools"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to configuration file")
		envPrefix  = flag.String("env-prefix", "COURSEBRIDGE", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader := config.NewLoader(*envPrefix, *configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}

	store := buildCacheStore(cfg.Cache)

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	canvasClient := canvas.New(cfg.Canvas, store, logger, canvas.WithMetrics(recorder))

	var gradescopeClient *gradescope.Client
	if cfg.Gradescope.Enabled() {
		gradescopeClient = gradescope.New(cfg.Gradescope, store, logger, gradescope.WithMetrics(recorder))
	} else {
		logger.Info("gradescope credentials absent; gradescope tools disabled")
	}

	registry := tools.NewRegistry(canvasClient, gradescopeClient, store, logger, recorder)
	handler := server.NewHandler(registry, recorder, logger)

	srv, err := server.New(cfg, logger, handler)
	if err != nil {
		logger.Error("unable to construct server", slog.Any("error", err))
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// buildCacheStore translates the configured per-category TTL seconds into a
// store. Course and file-URL listings change rarely and get the longer TTLs;
// everything else turns over with coursework.
func buildCacheStore(cfg config.CacheConfig) *cache.Store {
	return cache.New(30*time.Minute,
		cache.WithCategoryTTL("canvas_courses", cfg.TTL(cfg.CoursesTTLSeconds, time.Hour)),
		cache.WithCategoryTTL("canvas_modules", cfg.TTL(cfg.ModulesTTLSeconds, 30*time.Minute)),
		cache.WithCategoryTTL("canvas_module_items", cfg.TTL(cfg.ModuleItemsTTLSeconds, 30*time.Minute)),
		cache.WithCategoryTTL("canvas_file_urls", cfg.TTL(cfg.FileURLsTTLSeconds, time.Hour)),
		cache.WithCategoryTTL("canvas_assignments", cfg.TTL(cfg.AssignmentsTTLSeconds, 30*time.Minute)),
		cache.WithCategoryTTL("gradescope_courses", cfg.TTL(cfg.CoursesTTLSeconds, time.Hour)),
		cache.WithCategoryTTL("gradescope_assignments", cfg.TTL(cfg.AssignmentsTTLSeconds, 30*time.Minute)),
		cache.WithCategoryTTL("gradescope_submissions", cfg.TTL(cfg.AssignmentsTTLSeconds, 30*time.Minute)),
	)
}
