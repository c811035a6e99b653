package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"

	"barkbase/backend/internal/api"
	"barkbase/backend/internal/auth"
	"barkbase/backend/internal/config"
	"barkbase/backend/internal/engine"
	"barkbase/backend/internal/logging"
	"barkbase/backend/internal/repository"
	"barkbase/backend/internal/services"
	tlsutil "barkbase/backend/internal/tls"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server with an embedded workflow worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	logger.Info("Starting BarkBase backend", "environment", cfg.Environment)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := initDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info("Database connected")

	store := repository.NewPostgresStore(pool)
	worker := buildWorker(cfg, logger, store)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("barkbase-backend"))

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		return err
	}

	apiServer := api.NewServer(store, logger)
	e.GET("/health", apiServer.Health)
	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.Register(apiGroup, apiServer)
	logger.Info("REST API handlers mounted")

	addr := cfg.HTTP.Addr
	server := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("Server starting", "address", addr, "tls", cfg.TLS.Enable)
		var err error
		if cfg.TLS.Enable {
			if err := ensureCert(cfg, logger); err != nil {
				return err
			}
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			return server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// buildWorker wires the engine components from configuration.
func buildWorker(cfg *config.Config, logger *logging.Logger, store *repository.PostgresStore) *engine.Worker {
	notifier := services.NewHTTPNotifier(
		cfg.Notifier.URL,
		cfg.Notifier.MaxRetries,
		time.Duration(cfg.Notifier.RetryIntervalMS)*time.Millisecond,
	)
	processor := engine.NewProcessor(store, notifier, logger, engine.ProcessorConfig{
		MaxStepAttempts: cfg.Worker.MaxStepAttempts,
		StepTimeout:     cfg.StepTimeout(),
	})
	evaluator := engine.NewTriggerEvaluator(store, logger, cfg.TriggerLookback())
	scheduler := engine.NewScheduler(store, evaluator, logger, cfg.Worker.BatchSize)
	return engine.NewWorker(store, processor, evaluator, scheduler, logger, engine.WorkerConfig{
		PollInterval: cfg.PollInterval(),
		BatchSize:    cfg.Worker.BatchSize,
		ClaimWindow:  cfg.ClaimWindow(),
	})
}

// ensureCert generates a self-signed dev certificate when TLS is enabled but
// no certificate exists yet.
func ensureCert(cfg *config.Config, logger *logging.Logger) error {
	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		return errors.New("TLS enabled but cert/key file not provided")
	}
	if _, err := os.Stat(cfg.TLS.CertFile); os.IsNotExist(err) {
		if len(cfg.TLS.Hostnames) == 0 {
			return errors.New("TLS certificate missing and no hostnames configured to generate one")
		}
		logger.Info("Generating self-signed certificate", "hosts", cfg.TLS.Hostnames)
		if err := tlsutil.GenerateSelfSignedCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames); err != nil {
			return err
		}
	}
	return nil
}
