package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/teemow/calbridge/internal/dispatch"
	"github.com/teemow/calbridge/internal/google"
	"github.com/teemow/calbridge/internal/instrumentation"
	"github.com/teemow/calbridge/internal/logging"
	"github.com/teemow/calbridge/internal/server"
	"github.com/teemow/calbridge/internal/tokenstore"
	"github.com/teemow/calbridge/internal/tools/calendar_tools"
)

// serverName is reported to MCP clients during initialize.
const serverName = "Multi-User Google Calendar MCP"

const (
	startupTimeout  = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol (MCP) server exposing Google Calendar
tools to many users at once.

Every tool call names its user in the request metadata (_meta.user_id). Users
connect their calendar once by visiting <base-url>/auth/google?user_id=<id>;
the bridge stores their Google tokens and refreshes them automatically.

Identifying the user:
  The user id is read from params._meta.user_id of tools/call, the MCP
  request metadata field. A top-level "meta" object next to "params" is not
  part of MCP and is ignored; clients that sent {"meta": {"user_id": ...}}
  must move it into params._meta:

    {"method": "tools/call", "params": {"name": "calendar_list_events",
     "arguments": {}, "_meta": {"user_id": "alice"}}}

  Calls without it fail with missing_user_id.

Supports multiple transport types:
  - stdio: Standard input/output (default). The OAuth routes are still
    served over HTTP on --http-addr.
  - streamable-http: Streamable HTTP transport at /mcp next to the OAuth routes

Configuration:
  Every flag can be set through the environment with the CALBRIDGE_ prefix,
  e.g. --http-addr is CALBRIDGE_HTTP_ADDR. GOOGLE_CLIENT_ID,
  GOOGLE_CLIENT_SECRET and MCP_BASE_URL are honoured as well. A .env file in
  the working directory is loaded first. --state-secret is required unless
  the base URL is a loopback address.

Token storage:
  sql (default)  SQLite file under the XDG data directory, or postgres:// URL
  badger         embedded key-value store
  valkey         shared store for several replicas
  memory         process-local, for development only`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := newConfig(cmd.Flags())
			if err != nil {
				return err
			}
			cfg, err := loadServeConfig(v)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	addServeFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg serveConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// stdout carries the stdio transport; logs always go to stderr.
	logger := logging.NewLogger(os.Stderr, cfg.LogFormat, cfg.Debug)
	slog.SetDefault(logger)

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer flushCancel()
		if err := provider.Shutdown(flushCtx); err != nil {
			logger.Warn("instrumentation shutdown failed", logging.Err(err))
		}
	}()
	metrics := provider.Metrics()

	store, err := openStore(ctx, cfg.Store, logger, metrics)
	if err != nil {
		return err
	}

	flow, err := google.NewFlowManager(google.Config{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		BaseURL:      cfg.OAuth.BaseURL,
		StateSecret:  cfg.OAuth.StateSecret,
		StateTTL:     google.DefaultStateTTL,
		Timeout:      cfg.UpstreamTimeout,
		Logger:       logger,
		Recorder:     metrics,
	}, store)
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to configure Google OAuth: %w", err)
	}
	if cfg.OAuth.EphemeralState {
		logger.Warn("no state secret configured; pending consent links are invalidated on restart")
	}

	resolver := google.NewResolver(store, flow,
		google.WithRefreshTimeout(cfg.UpstreamTimeout),
		google.WithResolverLogger(logger),
		google.WithResolverRecorder(metrics),
	)
	dispatcher := dispatch.New(resolver, dispatch.Config{
		ReadOnly:        cfg.ReadOnly,
		UpstreamTimeout: cfg.UpstreamTimeout,
		Logger:          logger,
		Recorder:        metrics,
	})

	serverContext, err := server.NewServerContext(ctx, server.Dependencies{
		Dispatcher: dispatcher,
		Authorizer: flow,
		Store:      store,
		Metrics:    metrics,
		Audit:      instrumentation.NewAuditLogger(logger, instrConfig.AuditLogging),
		Logger:     logger,
	})
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Warn("server context shutdown failed", logging.Err(err))
		}
	}()

	mcpSrv := mcpserver.NewMCPServer(serverName, version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithHooks(server.SessionHooks(metrics, logger)),
	)
	if err := calendar_tools.RegisterCalendarTools(mcpSrv, serverContext, calendar_tools.Options{Aliases: cfg.RegisterAliases}); err != nil {
		return fmt.Errorf("failed to register calendar tools: %w", err)
	}

	if cfg.ReadOnly {
		logger.Info("starting in read-only mode; write tools are disabled")
	}

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.Enabled() && provider.PrometheusHandler() != nil {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.MetricsAddr,
			InstrumentationProvider: provider,
			Logger:                  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		if _, err := startServer(metricsServer.StartWithReadySignal); err != nil {
			return fmt.Errorf("metrics server failed to start: %w", err)
		}
		logger.Info("metrics server started", slog.String("addr", metricsServer.Addr()))
	}

	var limiter *server.RateLimiter
	if cfg.RateLimit > 0 {
		limiter = server.NewRateLimiter(cfg.RateLimit, cfg.RateLimitBurst, cfg.TrustProxy)
		go limiter.Run(ctx)
	}

	httpConfig := server.HTTPConfig{
		Addr:        cfg.HTTPAddr,
		BaseURL:     cfg.OAuth.BaseURL,
		RateLimiter: limiter,
	}
	if cfg.Transport == transportStreamableHTTP {
		httpConfig.MCPServer = mcpSrv
	}
	httpServer, err := server.NewHTTPServer(serverContext, httpConfig)
	if err != nil {
		return err
	}
	httpDone, err := startServer(httpServer.StartWithReadySignal)
	if err != nil {
		return fmt.Errorf("HTTP server failed to start: %w", err)
	}
	logger.Info("HTTP server started",
		slog.String("addr", httpServer.Addr()),
		slog.String("base_url", cfg.OAuth.BaseURL),
		slog.String("transport", cfg.Transport),
		slog.String("redirect_uri", flow.RedirectURL()),
		slog.String("token_store", tokenstore.DriverOf(store)),
	)

	stdioDone := make(chan error, 1)
	if cfg.Transport == transportStdio {
		go func() {
			stdioDone <- mcpserver.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-httpDone:
		if err != nil {
			runErr = fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	case err := <-stdioDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("stdio server stopped with error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", logging.Err(err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics server shutdown failed", logging.Err(err))
		}
	}
	logger.Info("server gracefully stopped")
	return runErr
}

// startServer runs start in the background and waits until it is listening.
// The returned channel yields the error start eventually returns, with
// http.ErrServerClosed mapped to nil.
func startServer(start func(ready chan<- struct{}) error) (<-chan error, error) {
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		err := start(ready)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	select {
	case <-ready:
		return done, nil
	case err := <-done:
		if err == nil {
			err = errors.New("server stopped before it was ready")
		}
		return nil, err
	case <-time.After(startupTimeout):
		return nil, errors.New("server startup timed out")
	}
}

func openStore(ctx context.Context, cfg storeConfig, logger *slog.Logger, recorder tokenstore.OperationRecorder) (tokenstore.Store, error) {
	if err := cfg.prepare(); err != nil {
		return nil, err
	}
	store, err := tokenstore.Open(ctx, tokenstore.Config{
		Type:          cfg.Type,
		DatabaseURL:   cfg.DatabaseURL,
		BadgerDir:     cfg.BadgerDir,
		Valkey:        cfg.Valkey,
		EncryptionKey: cfg.EncryptionKey,
		Recorder:      recorder,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open token store: %w", err)
	}
	if len(cfg.EncryptionKey) == 0 && cfg.Type != tokenstore.TypeMemory {
		logger.Warn("token store is not encrypted; set --encryption-key to seal tokens at rest")
	}
	return store, nil
}
