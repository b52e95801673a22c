// Command capture connects to the camera, takes one picture and can
// optionally keep capturing for a while. It is meant for checking a
// freshly flashed device.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wachiwi/glasses-cam/pkg/camera"
	"github.com/wachiwi/glasses-cam/pkg/config"
	"github.com/wachiwi/glasses-cam/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML config file")
	port := flag.String("port", "", "serial port, overrides the config (\"auto\" to detect)")
	out := flag.String("out", "", "output directory, overrides the config")
	interval := flag.Duration("interval", 0, "interval for continuous capture (default from config)")
	duration := flag.Duration("duration", 0, "keep capturing for this long after the first image")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Setup("info")
		logger.Fatal("Failed to load configuration", "error", err)
	}
	logger.Setup(cfg.Log.Level)

	if *port != "" {
		cfg.Serial.Port = *port
	}
	if *out != "" {
		cfg.Capture.OutputDir = *out
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *interval, *duration); err != nil {
		logger.Fatal("Capture failed", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, interval, duration time.Duration) error {
	cam, err := camera.New(camera.Config{Serial: cfg.Serial, Capture: cfg.Capture}, camera.Options{})
	if err != nil {
		return err
	}
	defer cam.Close()

	if err := cam.Connect(ctx); err != nil {
		return err
	}

	res, err := cam.CaptureSingle(ctx)
	if err != nil {
		return err
	}
	if !res.Captured() {
		return fmt.Errorf("no image received after %s (stalled in %s)", res.Elapsed.Round(time.Millisecond), res.Stalled)
	}
	fmt.Println(res.Image.Path)

	if duration <= 0 {
		return nil
	}

	if err := cam.StartContinuous(ctx, interval); err != nil {
		return err
	}
	slog.Info("Continuous capture running", "duration", duration)

	select {
	case <-ctx.Done():
	case <-time.After(duration):
	}
	cam.StopContinuous()

	st := cam.Status()
	slog.Info("Capture finished", "captures", st.Captures, "no_image", st.NoImage, "failures", st.Failures)
	return nil
}
