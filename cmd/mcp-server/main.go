package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/resistance-prophet-server/internal/app"
	"github.com/resistance-prophet-server/internal/config"
	"github.com/resistance-prophet-server/internal/logging"
	"github.com/resistance-prophet-server/internal/mcp"
)

func main() {
	configFile := flag.String("config", "", "config file (default ./config.yaml)")
	flag.Parse()

	// Load configuration
	configManager, err := config.NewManagerFromFile(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}

	cfg := configManager.GetConfig()
	// stdout carries the protocol
	cfg.Logging.Output = "stderr"
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	server := mcp.NewServer(cfg.MCP, mcp.Dependencies{
		Prophet:    a.Prophet,
		Variants:   a.Variants,
		Guidelines: a.Guidelines,
	}, logger)

	err = server.Run(ctx)
	if err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("MCP server stopped with error")
		a.Close()
		os.Exit(1)
	}
	logger.Info("MCP server stopped")
}
