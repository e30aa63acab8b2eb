package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Evgen-Mutagen/collateral-ledger/internal/app"
	"github.com/Evgen-Mutagen/collateral-ledger/internal/util/logger"
	"go.uber.org/zap"
)

func main() {
	cfg := app.NewConfigFromFlags()

	if err := logger.Init(logger.Options{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  100,
		MaxBackups: 5,
	}); err != nil {
		panic(fmt.Sprintf("Failed to init logger: %v", err))
	}
	defer logger.Sync()

	application, err := app.New(cfg, logger.Log)
	if err != nil {
		log.Fatalf("Application initialization failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		application.Logger.Fatal("Server stopped with error", zap.Error(err))
	}
	application.Logger.Info("Server stopped")
}
