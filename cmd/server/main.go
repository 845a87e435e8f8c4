package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"regwatch-ai/backend/internal/api"
	"regwatch-ai/backend/internal/apperrors"
	"regwatch-ai/backend/internal/auth"
	"regwatch-ai/backend/internal/config"
	"regwatch-ai/backend/internal/dispatch"
	"regwatch-ai/backend/internal/filter"
	"regwatch-ai/backend/internal/logging"
	"regwatch-ai/backend/internal/mcp"
	"regwatch-ai/backend/internal/observability"
	"regwatch-ai/backend/internal/oracle"
	"regwatch-ai/backend/internal/pipeline"
	"regwatch-ai/backend/internal/repository"
	"regwatch-ai/backend/internal/tls"
	"regwatch-ai/backend/internal/webhooklog"
	"regwatch-ai/backend/pkg/models"
)

func main() {
	var configPath, seedPath string

	cmd := &cobra.Command{
		Use:           "regwatch-server",
		Short:         "Serve the RegWatch AI matching and generation API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, seedPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Path to config file (yaml or .env)")
	cmd.Flags().StringVar(&seedPath, "seed", "", "Corpus YAML loaded into the in-memory store when no database is configured")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath, seedPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return apperrors.Wrap(err, "configuration loading failed")
	}

	logger := logging.NewLogger(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()
	logger.Info("Configuration loaded",
		"environment", cfg.Environment,
		"oidc_issuer", cfg.Auth.Issuer,
		"oracle_endpoint", cfg.Oracle.Endpoint,
		"webhook_configured", cfg.Dispatch.WebhookURL != "",
		"database", cfg.UsesDatabase(),
	)

	store, closeStore, err := initStore(ctx, cfg, seedPath, logger)
	if err != nil {
		return apperrors.Wrap(err, "store initialization failed")
	}
	defer closeStore()

	metrics, err := observability.NewMetrics(nil)
	if err != nil {
		return apperrors.Wrap(err, "metrics initialization failed")
	}

	completer := oracle.NewAzureCompleter(cfg.Oracle, &http.Client{})
	oracleClient := oracle.NewClient(completer, cfg.Oracle, metrics, logger)
	if cfg.Oracle.Endpoint == "" {
		logger.Warn("Oracle endpoint not configured, every unit will use fallback content")
	}

	dispatcher := dispatch.New(cfg.Dispatch, dispatch.NewLedger(dispatch.WithRetention(cfg.Dispatch.LedgerRetention)), metrics, logger)
	dispatcher.Register(models.ModeGenerateQuestions, dispatch.NewAssessmentSink(store))
	if cfg.Dispatch.WebhookURL != "" {
		client := dispatch.HTTPClient(ctx, cfg.Dispatch)
		dispatcher.Register(models.ModeGenerateTasks, dispatch.NewWebhookSink(cfg.Dispatch.WebhookURL, cfg.Dispatch.WebhookSecret, client))
	} else {
		logger.Warn("Task webhook not configured, generated tasks will not be delivered")
	}

	orchestrator := pipeline.New(
		store,
		filter.New(store, logger),
		oracleClient,
		dispatcher,
		pipeline.Config{Workers: cfg.Pipeline.Workers, RunTimeout: cfg.Pipeline.RunTimeout},
		metrics,
		logger,
	)

	logger.Info("Pipeline initialized", "workers", cfg.Pipeline.Workers, "run_timeout", cfg.Pipeline.RunTimeout)

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ProblemErrorHandler
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(otelecho.Middleware("regwatch-ai"))
	e.Use(requestLogger(logger))

	authz, err := auth.New(ctx, cfg, store, logger)
	if err != nil {
		return apperrors.Wrap(err, "auth initialization failed")
	}

	server := api.NewServer(orchestrator, store, webhooklog.NewMemoryLog(), logger)
	server.RegisterPublic(e)

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, server)

	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(orchestrator)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	e.Any("/mcp", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))
	e.Any("/mcp/*", echo.WrapHandler(authz.RequireAuth(mcpHandlers)))

	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.Issuer)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.ClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      e,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Server starting", "address", httpServer.Addr, "tls", cfg.TLS.Enable)
		if !cfg.TLS.Enable {
			serverErrors <- httpServer.ListenAndServe()
			return
		}
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			serverErrors <- errors.New("tls enabled but cert_file or key_file not provided")
			return
		}
		created, err := tls.EnsureCertificate(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			serverErrors <- apperrors.Wrap(err, "self-signed certificate")
			return
		}
		if created {
			logger.Info("Generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hostnames", cfg.TLS.Hostnames)
		}
		serverErrors <- httpServer.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return apperrors.Wrap(err, "server error")
		}
		return nil
	case <-ctx.Done():
		logger.Info("Shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
			if err := httpServer.Close(); err != nil {
				logger.Error("Server close error", "error", err)
			}
		}
		logger.Info("Server stopped gracefully")
		return nil
	}
}

// initStore connects to Postgres when a database host is configured and
// falls back to an in-memory store, optionally seeded, otherwise.
func initStore(ctx context.Context, cfg *config.Config, seedPath string, logger *logging.Logger) (repository.Store, func(), error) {
	if !cfg.UsesDatabase() {
		logger.Warn("No database configured, using in-memory store")
		store := repository.NewMemoryStore()
		if seedPath != "" {
			if err := seedMemory(ctx, store, seedPath, logger); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil
	}
	if seedPath != "" {
		logger.Warn("Ignoring --seed with a database configured, use regwatch-seed instead")
	}

	logger.Debug("Initializing database connection")
	pool, err := connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	store := repository.NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, apperrors.Wrap(err, "failed to migrate schema")
	}
	logger.Info("Database connected", "host", cfg.DB.Host, "name", cfg.DB.Name)
	return store, pool.Close, nil
}

func seedMemory(ctx context.Context, store *repository.MemoryStore, path string, logger *logging.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.Wrap(err, "open seed corpus")
	}
	defer f.Close()

	corpus, err := repository.LoadCorpus(f)
	if err != nil {
		return apperrors.Wrap(err, "load seed corpus")
	}
	stats, err := corpus.Seed(ctx, store, time.Now().UTC())
	if err != nil {
		return err
	}
	logger.Info("In-memory store seeded", "profiles", stats.Profiles, "documents", stats.Documents)
	return nil
}

func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// requestLogger logs one line per request through the application logger.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			kv := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency, "request_id", v.RequestID}
			if v.Error != nil {
				logger.Error("request", append(kv, "error", v.Error)...)
				return nil
			}
			logger.Info("request", kv...)
			return nil
		},
	})
}
