package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // pprof is intentionally exposed when pprofAddr is configured
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/granaryml/granary/pkg/api"
	"github.com/granaryml/granary/pkg/api/handlers"
	"github.com/granaryml/granary/pkg/assembler"
	"github.com/granaryml/granary/pkg/database"
	"github.com/granaryml/granary/pkg/export"
	"github.com/granaryml/granary/pkg/feature"
	"github.com/granaryml/granary/pkg/grain"
	"github.com/granaryml/granary/pkg/observability"
	"github.com/granaryml/granary/pkg/quality"
	"github.com/granaryml/granary/pkg/schema"
	"github.com/granaryml/granary/pkg/session"
	"github.com/granaryml/granary/pkg/sqlvalidate"
	"github.com/granaryml/granary/pkg/target"
)

// Application encapsulates the dataset service lifecycle
type Application struct {
	config       *Config
	logger       *logrus.Logger
	db           database.ClientInterface
	redisClient  *goredis.Client
	apiService   api.Service
	janitor      *export.Janitor
	healthServer *http.Server
	pprofServer  *http.Server
}

// NewApplication creates a new application
func NewApplication(cfg *Config, logger *logrus.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// Start validates configuration, connects the backing stores, and brings
// up the API, metrics, and export janitor
func (a *Application) Start(ctx context.Context) error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	a.logger.Info("Starting Granary...")

	observability.StartMetricsServer(a.config.MetricsAddr)
	a.logger.WithField("addr", a.config.MetricsAddr).Info("Started metrics server")

	if a.config.HealthCheckAddr != "" {
		a.startHealthCheck()
	}

	if a.config.PProfAddr != "" {
		a.startPProf()
	}

	deps, err := a.setupServices(ctx)
	if err != nil {
		return err
	}

	a.janitor = export.NewJanitor(a.logger, &a.config.Export)
	if err := a.janitor.Start(); err != nil {
		return fmt.Errorf("failed to start export janitor: %w", err)
	}

	a.apiService = api.NewService(&a.config.API, deps, logrus.NewEntry(a.logger))
	if err := a.apiService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API service: %w", err)
	}

	a.logger.Info("Granary started successfully")

	return nil
}

// Stop gracefully shuts down every service
func (a *Application) Stop() error {
	a.logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if a.healthServer != nil {
		if err := a.healthServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to shutdown health check server")
		}
	}

	if a.pprofServer != nil {
		if err := a.pprofServer.Shutdown(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to shutdown pprof server")
		}
	}

	if a.apiService != nil {
		if err := a.apiService.Stop(); err != nil {
			a.logger.WithError(err).Error("Failed to stop API service")
		}
	}

	if a.janitor != nil {
		a.janitor.Stop()
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close Redis client")
		}
	}

	if a.db != nil {
		if err := a.db.Stop(); err != nil {
			a.logger.WithError(err).Error("Failed to stop database client")
		}
	}

	if err := observability.StopMetricsServer(); err != nil {
		a.logger.WithError(err).Error("Failed to stop metrics server")
	}

	return nil
}

// setupServices connects the warehouse and session store and builds the
// pipeline service set the API dispatches to
func (a *Application) setupServices(ctx context.Context) (handlers.Dependencies, error) {
	db, err := database.NewClient(a.logger, &a.config.Database)
	if err != nil {
		return handlers.Dependencies{}, fmt.Errorf("failed to create database client: %w", err)
	}

	if err := db.Start(ctx); err != nil {
		return handlers.Dependencies{}, fmt.Errorf("failed to connect to database: %w", err)
	}

	a.db = db

	a.redisClient = a.config.Redis.NewClient()
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return handlers.Dependencies{}, fmt.Errorf("failed to connect to redis: %w", err)
	}

	store, err := session.NewStore(a.logger, a.redisClient, &a.config.Redis, a.config.Session.TTL)
	if err != nil {
		return handlers.Dependencies{}, fmt.Errorf("failed to create session store: %w", err)
	}

	inspector := schema.NewInspector(a.logger, db)
	engine := feature.NewEngine(a.logger)
	auditor := quality.NewAuditor(a.logger, db)

	exporter, err := export.NewExporter(a.logger, db, &a.config.Export)
	if err != nil {
		return handlers.Dependencies{}, fmt.Errorf("failed to create exporter: %w", err)
	}

	return handlers.Dependencies{
		Sessions:  store,
		Inspector: inspector,
		Grains:    grain.NewBuilder(a.logger, db, inspector),
		Targets:   target.NewBuilder(a.logger, db, inspector),
		Engine:    engine,
		Assembler: assembler.NewAssembler(a.logger, db, engine, auditor),
		Validator: sqlvalidate.NewValidator(a.logger, db),
		Exporter:  exporter,
	}, nil
}

func (a *Application) startHealthCheck() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	a.healthServer = &http.Server{
		Addr:              a.config.HealthCheckAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.WithField("addr", a.config.HealthCheckAddr).Info("Starting health check server")

		if err := a.healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("Health check server failed")
		}
	}()
}

func (a *Application) startPProf() {
	a.pprofServer = &http.Server{
		Addr:              a.config.PProfAddr,
		Handler:           http.DefaultServeMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.WithField("addr", a.config.PProfAddr).Info("Starting pprof server")

		if err := a.pprofServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.WithError(err).Error("pprof server failed")
		}
	}()
}
