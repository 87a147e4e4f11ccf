// Package main is the entry point of the orders API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/poshub/orders-api/internal/app"
	"github.com/poshub/orders-api/internal/config"
	"github.com/poshub/orders-api/internal/logging"
)

const serviceName = "orders-api"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)

	application, err := app.New(cfg, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		return err
	}

	log.Info("server.shutting_down")
	return application.Shutdown(context.Background())
}
