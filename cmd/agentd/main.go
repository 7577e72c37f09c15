package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/cmd/agentd/cmd"
	"github.com/hungpt99-dev/ai-super-app-desktop-sub003/core/logger"
)

func main() {
	ctx := logger.WithComponentName(context.Background(), "main")

	// Flush buffered log entries on exit.
	defer func() {
		_ = logger.Logger.Sync()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info(ctx, "received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	cmd.Execute(ctx)
}
