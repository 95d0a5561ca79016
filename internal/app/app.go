// Package app assembles the stores, clients and services the binaries run.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/resistance-prophet-server/internal/database"
	"github.com/resistance-prophet-server/internal/domain"
	"github.com/resistance-prophet-server/internal/guidelines"
	"github.com/resistance-prophet-server/internal/pathway"
	"github.com/resistance-prophet-server/internal/profile"
	"github.com/resistance-prophet-server/internal/repository"
	"github.com/resistance-prophet-server/internal/service"
	"github.com/resistance-prophet-server/internal/stream"
	"github.com/resistance-prophet-server/pkg/external"
)

// Options toggles the parts a binary does not need.
type Options struct {
	// Stream creates the alert hub when the stream is enabled in config.
	Stream bool
	// Migrate applies pending migrations before the repository is used.
	Migrate bool
}

// App holds everything built from one configuration.
type App struct {
	Config      *domain.Config
	Logger      *logrus.Logger
	Profiles    profile.Store
	Assessments domain.AssessmentRepository
	DB          *database.DB
	Cache       *external.TieredCache
	Hub         *stream.Hub
	Prophet     *service.ProphetService
	Variants    *service.VariantService
	Guidelines  *service.GuidelineService

	closers []func()
}

// New builds the application. On error everything opened so far is closed.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts Options) (_ *App, err error) {
	a := &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	model, err := pathway.NewModel()
	if err != nil {
		return nil, fmt.Errorf("loading pathway model: %w", err)
	}
	catalog, err := guidelines.New()
	if err != nil {
		return nil, fmt.Errorf("loading guideline catalog: %w", err)
	}

	a.Profiles, err = profile.New(cfg.Profile)
	if err != nil {
		return nil, fmt.Errorf("opening profile store: %w", err)
	}
	a.onClose(func() {
		if err := a.Profiles.Close(); err != nil {
			logger.WithError(err).Warn("Closing profile store")
		}
	})

	if err := a.openAssessments(ctx, opts.Migrate); err != nil {
		return nil, err
	}

	a.Cache, err = external.NewTieredCache(cfg.Cache, logger)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}
	a.onClose(func() {
		if err := a.Cache.Close(); err != nil {
			logger.WithError(err).Warn("Closing cache")
		}
	})

	var publisher domain.AlertPublisher
	if opts.Stream && cfg.Stream.Enabled {
		a.Hub = stream.NewHub(cfg.Stream, cfg.Server.CORSOrigins, logger)
		a.onClose(a.Hub.Close)
		publisher = a.Hub
	}

	a.Prophet = service.NewProphetService(a.Profiles, a.Assessments, model, catalog, publisher, logger)
	a.Variants = service.NewVariantService(
		service.NewEvidenceEngine(logger),
		model,
		external.NewEnsemblClient(cfg.ExternalAPI.Ensembl, a.Cache, logger),
		external.NewClinVarClient(cfg.ExternalAPI.ClinVar, a.Cache, logger),
		external.NewClinicalTrialsClient(cfg.ExternalAPI.ClinicalTrials, a.Cache, logger),
		logger,
	)
	a.Guidelines = service.NewGuidelineService(catalog, model, logger)

	logger.WithFields(logrus.Fields{
		"profile_driver": cfg.Profile.Driver,
		"database":       a.DB != nil,
		"redis":          cfg.Cache.RedisURL != "",
		"stream":         a.Hub != nil,
	}).Info("Application initialized")
	return a, nil
}

func (a *App) openAssessments(ctx context.Context, migrate bool) error {
	if !a.Config.Database.Enabled {
		a.Assessments = repository.NewMemoryRepository()
		a.Logger.Warn("Database disabled, assessment history is kept in memory")
		return nil
	}

	if migrate {
		if err := Migrate(ctx, a.Config.Database, a.Logger, true); err != nil {
			return err
		}
	}

	db, err := database.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db
	a.onClose(db.Close)
	a.Assessments = repository.NewAssessmentRepository(db.Pool, a.Logger)
	return nil
}

// Migrate moves the schema up, or down one step when up is false.
func Migrate(ctx context.Context, cfg domain.DatabaseConfig, logger *logrus.Logger, up bool) error {
	m, err := database.NewMigrator(database.URL(cfg), cfg.MigrationsPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.WithError(err).Warn("Closing migrator")
		}
	}()

	if up {
		return m.Up(ctx)
	}
	return m.Down(ctx)
}

// HealthChecks lists the dependencies /health reports on.
func (a *App) HealthChecks() map[string]func(context.Context) error {
	checks := map[string]func(context.Context) error{
		"cache": a.Cache.Health,
	}
	if a.DB != nil {
		checks["database"] = a.DB.Health
	}
	return checks
}

// Close releases resources in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}
