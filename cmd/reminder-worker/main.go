// The reminder-worker binary runs the background loops without the HTTP
// surface: reminder scheduling, deferred-send draining and retry delivery.
// Deployments that want workers separated from the API run this alongside a
// worker-less API process.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/stayloop/guestops/internal/app/bootstrap"
	"github.com/stayloop/guestops/internal/config"
	"github.com/stayloop/guestops/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := bootstrap.New(ctx, cfg)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	logger.Info("reminder worker starting")
	rt.StartWorkers(ctx)
	logger.Info("reminder worker stopped")
}
