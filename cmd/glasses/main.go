package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/wachiwi/glasses-cam/cmd/glasses/handlers"
	"github.com/wachiwi/glasses-cam/pkg/camera"
	"github.com/wachiwi/glasses-cam/pkg/capture"
	"github.com/wachiwi/glasses-cam/pkg/config"
	"github.com/wachiwi/glasses-cam/pkg/indicator"
	"github.com/wachiwi/glasses-cam/pkg/journal"
	"github.com/wachiwi/glasses-cam/pkg/logger"
	"github.com/wachiwi/glasses-cam/pkg/notify"
	"github.com/wachiwi/glasses-cam/pkg/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("GLASSES_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Setup(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("Failed to setup telemetry", "error", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	notifier, err := notify.New(cfg.MQTT)
	if err != nil {
		slog.Warn("Capture events disabled", "error", err)
		notifier = notify.Nop{}
	}
	led, err := indicator.New(cfg.Indicator)
	if err != nil {
		slog.Warn("Capture indicator disabled", "error", err)
		led = indicator.Nop{}
	}

	cam, err := camera.New(camera.Config{
		Serial:  cfg.Serial,
		Capture: cfg.Capture,
	}, camera.Options{
		Journal:   journal.New(cfg.Journal.Path, cfg.Journal.Retention),
		Notifier:  notifier,
		Indicator: led,
	})
	if err != nil {
		logger.Fatal("Failed to create camera controller", "error", err)
	}
	defer func() {
		if err := cam.Close(); err != nil {
			slog.Error("Failed to close camera", "error", err)
		}
	}()

	pruner := startPruner(cam.Store(), cfg.Retention)
	if pruner != nil {
		defer pruner.Stop()
	}

	if cfg.Capture.Autostart {
		go func() {
			if err := cam.StartContinuous(ctx, cfg.Capture.Interval); err != nil {
				slog.Error("Failed to autostart capture loop", "error", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	var accounts gin.Accounts
	if cfg.HTTP.User != "" {
		accounts = gin.Accounts{cfg.HTTP.User: cfg.HTTP.Password}
	}
	server := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: handlers.NewRouter(cam, accounts),
	}

	go func() {
		slog.Info("Server is running", "addr", cfg.HTTP.Addr, "auth", len(accounts) > 0)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to run server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown server", "error", err)
	}
}

// startPruner schedules removal of expired captures. It returns nil when
// retention is disabled.
func startPruner(store *capture.Store, cfg config.RetentionConfig) *cron.Cron {
	if cfg.Schedule == "" || (cfg.MaxAge <= 0 && cfg.MaxFiles <= 0) {
		return nil
	}

	cronLogger := &logger.CronLogger{Logger: slog.Default()}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	_, err := c.AddFunc(cfg.Schedule, func() {
		removed, err := store.Prune(cfg.MaxAge, cfg.MaxFiles, time.Now())
		if err != nil {
			slog.Error("Failed to prune captures", "error", err)
			return
		}
		if removed > 0 {
			slog.Info("Pruned old captures", "removed", removed)
		}
	})
	if err != nil {
		slog.Error("Invalid retention schedule", "schedule", cfg.Schedule, "error", err)
		return nil
	}

	c.Start()
	slog.Info("Capture retention enabled", "schedule", cfg.Schedule, "max_age", cfg.MaxAge, "max_files", cfg.MaxFiles)
	return c
}
