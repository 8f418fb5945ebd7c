package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"
	"github.com/spf13/cobra"

	"github.com/costera/costera/internal/api"
	"github.com/costera/costera/internal/auth"
	"github.com/costera/costera/internal/catalog"
	"github.com/costera/costera/internal/chat"
	"github.com/costera/costera/internal/config"
	"github.com/costera/costera/internal/conversation"
	"github.com/costera/costera/internal/database"
	"github.com/costera/costera/internal/document"
	"github.com/costera/costera/internal/log"
	"github.com/costera/costera/internal/observability"
	"github.com/costera/costera/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs the long write timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes all components and starts the HTTP API server.
func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Server.Dev {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level, JSON: !cfg.Server.Dev})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting costera", "version", Version)

	if err := database.Migrate(cfg.Postgres.ConnString()); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	pool, err := database.Open(ctx, cfg.Postgres.PoolConnString())
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	if cfg.Observability.Enabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.Observability.Endpoint,
			ServiceName: cfg.Observability.ServiceName,
		}, logger)
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer flushCancel()
			if err := shutdown(flushCtx); err != nil {
				logger.Warn("trace exporter shutdown", "error", err)
			}
		}()
	}

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))

	conversations := conversation.NewStore(pool, logger)
	documents := document.NewStore(pool, logger)
	catalogStore := catalog.NewStore(pool, logger)

	generator := tools.NewGenkitGenerator(g, cfg.AI.DefaultModel)
	weatherClient := tools.NewWeatherClient(cfg.Weather.BaseURL)

	registry := tools.NewRegistry(logger,
		tools.NewWeatherTool(g, weatherClient),
		tools.NewEventsTool(g, catalogStore),
		tools.NewMarketsTool(g, catalogStore),
		tools.NewActivitiesTool(g, catalogStore),
		tools.NewActivityDetailTool(g, catalogStore),
		tools.NewCreateDocumentTool(g, documents, generator, logger),
		tools.NewUpdateDocumentTool(g, documents, generator, logger),
		tools.NewRequestSuggestionsTool(g, documents, generator, logger),
	)

	var validator auth.TokenValidator
	if cfg.Auth.ServiceURL != "" {
		validator = auth.NewServiceClient(cfg.Auth.ServiceURL)
	}
	resolver := auth.NewResolver(validator, []byte(cfg.Auth.CookieSecret), logger)

	controller := chat.NewController(g, cfg.AI, conversations, registry, logger)

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:        logger,
		Controller:    controller,
		Conversations: conversations,
		Resolver:      resolver,
		Pool:          pool,
		CORSOrigins:   cfg.Server.CORSOrigins,
		IsDev:         cfg.Server.Dev,
		TrustProxy:    cfg.Server.TrustProxy,
		RateBurst:     cfg.Server.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready",
		"addr", cfg.Server.Addr,
		"api", "/api/v1/*",
		"health", "/health, /ready",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
