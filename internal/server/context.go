package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teemow/calbridge/internal/dispatch"
	"github.com/teemow/calbridge/internal/instrumentation"
	"github.com/teemow/calbridge/internal/tokenstore"
)

// Dependencies are the long-lived components shared by all requests.
type Dependencies struct {
	Dispatcher *dispatch.Dispatcher
	Authorizer Authorizer
	Store      tokenstore.Store
	Metrics    *instrumentation.Metrics
	Audit      *instrumentation.AuditLogger
	Logger     *slog.Logger
}

// ServerContext holds the context for the MCP server
type ServerContext struct {
	ctx        context.Context
	cancel     context.CancelFunc
	dispatcher *dispatch.Dispatcher
	authorizer Authorizer
	store      tokenstore.Store
	metrics    *instrumentation.Metrics
	audit      *instrumentation.AuditLogger
	logger     *slog.Logger
	mu         sync.RWMutex
	shutdown   bool
}

// NewServerContext creates a new server context. The store, when set, is
// owned by the context and closed on Shutdown.
func NewServerContext(ctx context.Context, deps Dependencies) (*ServerContext, error) {
	if deps.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:        shutdownCtx,
		cancel:     cancel,
		dispatcher: deps.Dispatcher,
		authorizer: deps.Authorizer,
		store:      deps.Store,
		metrics:    deps.Metrics,
		audit:      deps.Audit,
		logger:     logger,
	}, nil
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Dispatcher returns the tool dispatcher.
func (sc *ServerContext) Dispatcher() *dispatch.Dispatcher {
	return sc.dispatcher
}

// Authorizer returns the OAuth flow used by the auth routes; nil when the
// bridge runs without Google credentials.
func (sc *ServerContext) Authorizer() Authorizer {
	return sc.authorizer
}

// Store returns the token store.
func (sc *ServerContext) Store() tokenstore.Store {
	return sc.store
}

// Metrics returns the metrics recorder. It may be nil; its methods are nil-safe.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	return sc.metrics
}

// AuditLogger returns the audit logger. It may be nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	return sc.audit
}

// Logger returns the server logger.
func (sc *ServerContext) Logger() *slog.Logger {
	return sc.logger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown cancels the server context and closes the token store.
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	if sc.store != nil {
		if err := sc.store.Close(); err != nil {
			return fmt.Errorf("failed to close token store: %w", err)
		}
	}
	return nil
}
