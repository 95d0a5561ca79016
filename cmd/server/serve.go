package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/resistance-prophet-server/internal/api"
	"github.com/resistance-prophet-server/internal/app"
	"github.com/resistance-prophet-server/internal/mcp"
	"github.com/resistance-prophet-server/internal/telemetry"
)

var autoMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply pending migrations when the database is enabled")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(false)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry, logger,
		telemetry.WithEnvironment(cfg.Environment),
		telemetry.WithVersion(Version),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			logger.WithError(err).Warn("Telemetry shutdown failed")
		}
	}()

	a, err := app.New(ctx, cfg, logger, app.Options{Stream: true, Migrate: autoMigrate})
	if err != nil {
		return err
	}
	defer a.Close()

	deps := api.Dependencies{
		Prophet:    a.Prophet,
		Variants:   a.Variants,
		Guidelines: a.Guidelines,
		Profiles:   a.Profiles,
		Hub:        a.Hub,
		Checks:     map[string]api.HealthCheck{},
		Version:    Version,
	}
	for name, check := range a.HealthChecks() {
		deps.Checks[name] = check
	}
	if cfg.MCP.HTTPEnabled {
		deps.MCP = mcpHandler(a, logger)
	}

	logger.WithFields(logrus.Fields{
		"version":     Version,
		"environment": cfg.Environment,
		"port":        cfg.Server.Port,
	}).Info("Starting Resistance Prophet server")

	if err := api.NewServer(cfg, deps, logger).Start(ctx); err != nil {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func mcpHandler(a *app.App, logger *logrus.Logger) http.Handler {
	return mcp.NewServer(a.Config.MCP, mcp.Dependencies{
		Prophet:    a.Prophet,
		Variants:   a.Variants,
		Guidelines: a.Guidelines,
	}, logger).HTTPHandler()
}
