package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/config"
	"github.com/tonads/escrow-coordinator/internal/coordinator"
	"github.com/tonads/escrow-coordinator/internal/db"
	"github.com/tonads/escrow-coordinator/internal/httpapi"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	co, err := coordinator.Build(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build coordinator", zap.Error(err))
	}
	defer co.Close()

	if err := db.RunMigrations(ctx, co.Pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	co.Hub.Start(ctx)

	app := httpapi.NewApp(cfg, log, co.Rdb, co.Handlers, co.Hub)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.Port)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
