package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/neogan74/dualkv/internal/backend"
	"github.com/neogan74/dualkv/internal/config"
	"github.com/neogan74/dualkv/internal/handlers"
	"github.com/neogan74/dualkv/internal/index"
	"github.com/neogan74/dualkv/internal/logger"
	"github.com/neogan74/dualkv/internal/metrics"
	"github.com/neogan74/dualkv/internal/middleware"
	"github.com/neogan74/dualkv/internal/persistence"
	"github.com/neogan74/dualkv/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level, cfg.Log.Format)
	logger.SetDefault(appLogger)

	appLogger.Info("Starting dualkv",
		logger.String("version", version),
		logger.String("address", cfg.Address()),
		logger.Uint64("partition", cfg.Partition),
		logger.String("primary_engine", cfg.Primary.Type),
		logger.String("index_engine", cfg.Index.Type))

	tracing, err := telemetry.Setup(context.Background(), cfg.Tracing, version)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	if cfg.Tracing.Enabled {
		appLogger.Info("Tracing enabled",
			logger.String("endpoint", cfg.Tracing.Endpoint),
			logger.String("service", cfg.Tracing.ServiceName))
	}

	primary, err := persistence.NewEngine(cfg.Primary.Type, appLogger)
	if err != nil {
		log.Fatalf("Failed to create primary engine: %v", err)
	}
	idx, err := index.NewEngine(cfg.Index.Type, appLogger)
	if err != nil {
		log.Fatalf("Failed to create index engine: %v", err)
	}

	b := backend.New(primary, idx,
		backend.WithLogger(appLogger.Named("backend")),
		backend.WithValueCheck(),
		backend.WithStats(metrics.NewSink(prometheus.DefaultRegisterer)))
	if err := b.Start(cfg.Partition, cfg.Backend()); err != nil {
		appLogger.Error("Failed to start backend", logger.Error(err))
		// The primary may be running if only the index failed.
		_ = b.Stop()
		os.Exit(1)
	}

	handler := handlers.NewBackendHandler(b)

	app := fiber.New(fiber.Config{
		AppName:               fmt.Sprintf("dualkv %s", version),
		DisableStartupMessage: true,
	})
	app.Use(middleware.RequestLogging(appLogger))
	app.Use(middleware.Tracing(otel.Tracer(cfg.Tracing.ServiceName)))
	app.Use(middleware.Metrics(metrics.NewHTTP(prometheus.DefaultRegisterer)))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	handler.Register(app)

	stopGC := make(chan struct{})
	if cfg.GCInterval > 0 {
		go runGC(handler, cfg.GCInterval, stopGC, appLogger)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		appLogger.Info("Server starting", logger.String("address", cfg.Address()))
		if err := app.Listen(cfg.Address()); err != nil {
			appLogger.Error("Failed to start server", logger.Error(err))
			quit <- syscall.SIGTERM
		}
	}()
	<-quit

	appLogger.Info("Shutting down server...")
	close(stopGC)
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Error(err))
	}
	_ = b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tracing.Shutdown(ctx); err != nil {
		appLogger.Warn("Tracer shutdown failed", logger.Error(err))
	}
	appLogger.Info("Server exited")
}

// runGC periodically asks both engines to collect garbage.
func runGC(h *handlers.BackendHandler, interval time.Duration, stop <-chan struct{}, log logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 1; ; n++ {
		select {
		case <-ticker.C:
			log.Debug("Running value log GC", logger.Int("round", n))
			h.Maintain(fmt.Sprintf("gc-%d", n), persistence.GCMessage)
		case <-stop:
			return
		}
	}
}
