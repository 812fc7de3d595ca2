package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/regelwerk/internal/observability"
	"github.com/pitabwire/regelwerk/internal/seed"
	"github.com/pitabwire/regelwerk/internal/service"
	"github.com/pitabwire/regelwerk/internal/transport"
)

// initTracing is replaced in tests.
var initTracing = observability.InitTracing

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	// Step 1: Configuration, logger, metrics and store.
	a, err := newApp(ctx, configPath, migrateAuto)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}

	// Step 2: Tracing. Spans are flushed on every return from here on.
	tracingShutdown, err := initTracing(ctx, cfg.Observability.Tracing, "regelwerk", version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tracingShutdown(flushCtx); err != nil {
			logger.Error("tracing shutdown error", zap.Error(err))
		}
	}()

	// Step 3: Idempotency store.
	idem, closeIdem, err := openIdempotencyStore(ctx, cfg.Idempotency, logger)
	if err != nil {
		return err
	}
	defer closeIdem()

	// Step 4: Services.
	svc := service.New(a.store,
		service.WithLogger(logger),
		service.WithMetrics(a.metrics),
		service.WithFieldCacheSize(cfg.Cache.FieldEntries),
		service.WithFieldCacheTTL(cfg.Cache.FieldTTL),
	)

	// Step 5: Seed definitions.
	if cfg.Seed.Enabled {
		res, err := seed.NewImporter(svc, logger, a.metrics).LoadAndImport(ctx, cfg.Seed.Directories)
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		logger.Info("seed definitions imported",
			zap.Int("fields_created", res.FieldsCreated),
			zap.Int("templates_created", res.TemplatesCreated),
		)
	}

	// Step 6: HTTP router.
	readiness := observability.ReadinessChecks{Store: a.store}
	if idem != nil {
		readiness.IdempotencyStore = idem
	}
	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     a.metrics,
		Gatherer:    a.registry,
		Services:    svc,
		Idempotency: idem,
		Readiness:   readiness,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 7: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("store", cfg.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	// Stop accepting new connections and drain in-flight requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
