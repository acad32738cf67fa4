package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/teemow/calbridge/internal/calendar"
	bridgeerrors "github.com/teemow/calbridge/internal/errors"
	"github.com/teemow/calbridge/internal/instrumentation"
	"github.com/teemow/calbridge/internal/logging"
)

const (
	// DefaultUpstreamTimeout bounds a single Calendar API call.
	DefaultUpstreamTimeout = 15 * time.Second

	// MetaUserID is the request metadata key carrying the caller's user id.
	MetaUserID = "user_id"

	calendarService = "calendar"
)

// TokenResolver yields access tokens for users. *google.Resolver
// implements it.
type TokenResolver interface {
	Resolve(ctx context.Context, userID string) (*oauth2.Token, error)
	ForceRefresh(ctx context.Context, userID, staleAccessToken string) (*oauth2.Token, error)
	AuthURL(userID string) string
}

// Recorder receives per-call upstream metrics. *instrumentation.Metrics
// implements it.
type Recorder interface {
	RecordGoogleAPIOperation(ctx context.Context, service, operation, status string, duration time.Duration)
}

// Config configures a Dispatcher.
type Config struct {
	// ReadOnly rejects create, update and delete.
	ReadOnly bool
	// UpstreamTimeout bounds each Calendar API call. Defaults to 15s.
	UpstreamTimeout time.Duration
	// CalendarEndpoint overrides the Calendar API base URL.
	CalendarEndpoint string
	// NewClient overrides how Calendar clients are built.
	NewClient ClientFactory
	Logger    *slog.Logger
	Recorder  Recorder
}

// Dispatcher executes Calendar tools on behalf of the calling user.
type Dispatcher struct {
	resolver  TokenResolver
	newClient ClientFactory
	readOnly  bool
	timeout   time.Duration
	logger    *slog.Logger
	recorder  Recorder
}

// New creates a Dispatcher.
func New(resolver TokenResolver, cfg Config) *Dispatcher {
	d := &Dispatcher{
		resolver:  resolver,
		newClient: cfg.NewClient,
		readOnly:  cfg.ReadOnly,
		timeout:   cfg.UpstreamTimeout,
		logger:    cfg.Logger,
		recorder:  cfg.Recorder,
	}
	if d.newClient == nil {
		d.newClient = defaultClientFactory(cfg.CalendarEndpoint)
	}
	if d.timeout <= 0 {
		d.timeout = DefaultUpstreamTimeout
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// ReadOnly reports whether write tools are disabled.
func (d *Dispatcher) ReadOnly() bool { return d.readOnly }

// Tools returns the tools this dispatcher serves.
func (d *Dispatcher) Tools() []Tool { return Tools(d.readOnly) }

// Dispatch runs toolName for the user named in meta. It never panics on bad
// input and never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, params, meta map[string]any) *Result {
	userID, ok := UserIDFromMeta(meta)
	if !ok {
		return failure(toolName, bridgeerrors.MissingUserID())
	}

	tool, ok := Lookup(toolName)
	if !ok {
		return failure(toolName, bridgeerrors.UnknownTool(toolName))
	}
	if tool.Write && d.readOnly {
		return failure(tool.Name, bridgeerrors.ReadOnly(tool.Name))
	}

	run, err := prepare(tool, arguments(params))
	if err != nil {
		return failure(tool.Name, err)
	}

	logger := logging.WithUser(logging.WithTool(d.logger, tool.Name), userID)
	value, err := d.execute(ctx, logger, userID, tool, run)
	if err != nil {
		kind := bridgeerrors.KindOf(err)
		level := slog.LevelDebug
		if kind == bridgeerrors.KindInternal {
			// Callers only see "internal error"; the cause lives in the log.
			level = slog.LevelError
		}
		logger.Log(ctx, level, "tool call failed",
			logging.Status(logging.StatusError),
			slog.String("kind", string(kind)),
			logging.Err(err))
		return failure(tool.Name, err)
	}
	return success(tool.Name, value)
}

// execute resolves the user's token and runs the call, refreshing and
// retrying once when the Calendar API rejects the token.
func (d *Dispatcher) execute(ctx context.Context, logger *slog.Logger, userID string, tool Tool, run call) (any, error) {
	token, err := d.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}

	value, err := d.invoke(ctx, token, tool, run)
	if calendar.Classify(err) == calendar.FailureAuth {
		logger.Info("calendar rejected access token, forcing refresh")
		token, err = d.resolver.ForceRefresh(ctx, userID, token.AccessToken)
		if err != nil {
			return nil, err
		}
		value, err = d.invoke(ctx, token, tool, run)
		if calendar.Classify(err) == calendar.FailureAuth {
			return nil, bridgeerrors.UpstreamError(userID, fmt.Errorf("token rejected after refresh: %w", err))
		}
	}

	var classified bridgeerrors.Classified
	if errors.As(err, &classified) {
		return nil, err
	}

	switch calendar.Classify(err) {
	case calendar.FailureNone:
		return value, nil
	case calendar.FailureUnavailable:
		if ctx.Err() != nil {
			return nil, bridgeerrors.UpstreamUnavailable(userID, ctx.Err())
		}
		return nil, bridgeerrors.UpstreamUnavailable(userID, err)
	default:
		return nil, bridgeerrors.UpstreamError(userID, err)
	}
}

// invoke runs one upstream attempt under the upstream timeout.
func (d *Dispatcher) invoke(ctx context.Context, token *oauth2.Token, tool Tool, run call) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	ctx, span := instrumentation.StartGoogleAPISpan(ctx, calendarService, tool.Operation)
	defer span.End()

	start := time.Now()
	api, err := d.newClient(ctx, token)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, bridgeerrors.Internal(err)
	}
	value, err := run(ctx, api)

	status := logging.StatusSuccess
	if err != nil {
		status = logging.StatusError
		instrumentation.SetSpanError(span, err)
	} else {
		instrumentation.SetSpanSuccess(span)
	}
	if d.recorder != nil {
		d.recorder.RecordGoogleAPIOperation(ctx, calendarService, tool.Operation, status, time.Since(start))
	}
	return value, err
}

// UserIDFromMeta extracts a non-empty user id from request metadata.
func UserIDFromMeta(meta map[string]any) (string, bool) {
	if meta == nil {
		return "", false
	}
	s, ok := meta[MetaUserID].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
