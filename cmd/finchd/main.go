// Package main runs the finch ingest service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/finchsearch/finch/internal/app"
	"github.com/finchsearch/finch/internal/config"
	"github.com/finchsearch/finch/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	sourcesPath := flag.String("sources", "", "Path to a JSON file of source definitions to load at startup")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("app init failed", zap.Error(err))
		os.Exit(1)
	}
	if *sourcesPath != "" {
		if err := a.LoadSources(*sourcesPath); err != nil {
			logger.Error("load sources failed", zap.Error(err), zap.String("path", *sourcesPath))
			os.Exit(1)
		}
	}

	if err := a.Run(ctx); err != nil {
		logger.Error("service exited with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("service stopped")
}
