// Command scheduler runs the deal/escrow ticks (post, verify, deposit)
// as a standalone process, separate from the API server the same way
// the teacher split its HTTP API from its indexer and worker binaries.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/tonads/escrow-coordinator/internal/config"
	"github.com/tonads/escrow-coordinator/internal/coordinator"
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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down...")
		co.Scheduler.Stop()
		cancel()
	}()

	log.Info("starting scheduler",
		zap.Int("post_tick_seconds", cfg.SchedulerPostTickSeconds),
		zap.Int("verify_tick_seconds", cfg.SchedulerVerifyTickSeconds),
		zap.Int("deposit_tick_seconds", cfg.SchedulerDepositTickSeconds),
	)
	co.Scheduler.Run(ctx)
}
