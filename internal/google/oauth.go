package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	bridgeerrors "github.com/teemow/calbridge/internal/errors"
	"github.com/teemow/calbridge/internal/logging"
	"github.com/teemow/calbridge/internal/tokenstore"
)

// Public routes of the authorization flow.
const (
	AuthPath     = "/auth/google"
	CallbackPath = "/auth/google/callback"
)

// DefaultTimeout bounds every token-endpoint call.
const DefaultTimeout = 15 * time.Second

// Result labels for OAuth metrics.
const (
	ResultSuccess      = "success"
	ResultFailure      = "failure"
	ResultInvalidGrant = "invalid_grant"
	ResultTransient    = "transient"
	ResultSkipped      = "skipped"
)

var errNoRefreshToken = errors.New("credential has no refresh token")

// Recorder receives OAuth outcome counts. instrumentation.Metrics satisfies it.
type Recorder interface {
	RecordOAuthAuth(ctx context.Context, result string)
	RecordOAuthTokenRefresh(ctx context.Context, result string)
}

type nopRecorder struct{}

func (nopRecorder) RecordOAuthAuth(context.Context, string)         {}
func (nopRecorder) RecordOAuthTokenRefresh(context.Context, string) {}

// Config configures a FlowManager.
type Config struct {
	ClientID     string
	ClientSecret string
	// BaseURL is the public URL of the bridge; the redirect URI is
	// BaseURL + CallbackPath.
	BaseURL string
	// StateSecret signs the OAuth state parameter.
	StateSecret []byte
	StateTTL    time.Duration
	Scopes      []string
	Timeout     time.Duration
	// Endpoint overrides google.Endpoint (tests).
	Endpoint   *oauth2.Endpoint
	HTTPClient *http.Client
	Logger     *slog.Logger
	Recorder   Recorder
}

// FlowManager drives the authorization-code flow against Google.
type FlowManager struct {
	oauth      *oauth2.Config
	state      *StateCodec
	store      tokenstore.Store
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
}

// NewFlowManager validates cfg and returns a FlowManager writing to store.
func NewFlowManager(cfg Config, store tokenstore.Store) (*FlowManager, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("google OAuth client id and secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required to build the OAuth redirect URI")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	codec, err := NewStateCodec(cfg.StateSecret, cfg.StateTTL)
	if err != nil {
		return nil, err
	}

	endpoint := google.Endpoint
	if cfg.Endpoint != nil {
		endpoint = *cfg.Endpoint
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var recorder Recorder = nopRecorder{}
	if cfg.Recorder != nil {
		recorder = cfg.Recorder
	}

	return &FlowManager{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  baseURL + CallbackPath,
			Scopes:       scopes,
		},
		state:      codec,
		store:      store,
		baseURL:    baseURL,
		timeout:    timeout,
		httpClient: cfg.HTTPClient,
		logger:     logger,
		recorder:   recorder,
	}, nil
}

// RedirectURL returns the OAuth redirect URI registered with Google.
func (m *FlowManager) RedirectURL() string {
	return m.oauth.RedirectURL
}

// AuthURL returns the bridge route a user visits to connect their calendar.
func (m *FlowManager) AuthURL(userID string) string {
	return m.baseURL + AuthPath + "?" + url.Values{"user_id": {userID}}.Encode()
}

// BeginAuthorization returns the Google consent URL for userID.
func (m *FlowManager) BeginAuthorization(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", bridgeerrors.MissingUserID()
	}
	state, err := m.state.Encode(userID)
	if err != nil {
		return "", err
	}
	return m.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
		oauth2.SetAuthURLParam("include_granted_scopes", "true"),
	), nil
}

// CompleteAuthorization exchanges code, attributes it to the user carried in
// state and stores the resulting credential.
func (m *FlowManager) CompleteAuthorization(ctx context.Context, code, state string) (*tokenstore.Credential, error) {
	cred, err := m.completeAuthorization(ctx, code, state)
	if err != nil {
		m.recorder.RecordOAuthAuth(ctx, ResultFailure)
		return nil, err
	}
	m.recorder.RecordOAuthAuth(ctx, ResultSuccess)
	return cred, nil
}

func (m *FlowManager) completeAuthorization(ctx context.Context, code, state string) (*tokenstore.Credential, error) {
	logger := logging.WithOperation(m.logger, "oauth.callback")

	userID, err := m.state.Decode(state)
	if err != nil {
		logger.Warn("rejected OAuth callback", logging.Err(err))
		return nil, &bridgeerrors.AuthExchangeError{Reason: bridgeerrors.ReasonInvalidState, Err: err}
	}
	if strings.TrimSpace(code) == "" {
		return nil, &bridgeerrors.AuthExchangeError{Reason: bridgeerrors.ReasonMissingCode, UserID: userID}
	}

	exchangeCtx, cancel := m.upstreamContext(ctx)
	defer cancel()
	token, err := m.oauth.Exchange(exchangeCtx, code)
	if err != nil {
		logger.Warn("authorization code exchange failed", logging.UserHash(userID), logging.Err(err))
		return nil, &bridgeerrors.AuthExchangeError{Reason: bridgeerrors.ReasonExchangeFailed, UserID: userID, Err: err}
	}

	granted := tokenstore.FromToken(userID, token, grantedScopes(token, m.oauth.Scopes))
	// The latest grant always wins; it only borrows the stored refresh token
	// when Google omitted one because offline access was granted before.
	cred, err := m.store.Update(ctx, userID, func(cur *tokenstore.Credential) (*tokenstore.Credential, error) {
		if granted.RefreshToken == "" && cur != nil {
			granted.RefreshToken = cur.RefreshToken
		}
		return granted, nil
	})
	if err != nil {
		logger.Error("failed to store credential", logging.UserHash(userID), logging.Err(err))
		return nil, &bridgeerrors.AuthExchangeError{Reason: bridgeerrors.ReasonStoreFailed, UserID: userID, Err: err}
	}

	logger.Info("calendar connected",
		logging.UserHash(userID),
		slog.Bool("has_refresh_token", cred.RefreshToken != ""),
		slog.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

// Refresh exchanges the refresh token of cred for a new access token. The
// returned credential keeps the previous refresh token and scopes when the
// response omits them. cred is not modified and nothing is persisted.
func (m *FlowManager) Refresh(ctx context.Context, cred *tokenstore.Credential) (*tokenstore.Credential, error) {
	if cred == nil {
		return nil, &bridgeerrors.RefreshError{Kind: bridgeerrors.RefreshInvalidGrant, Err: errNoRefreshToken}
	}
	if !cred.Refreshable() {
		m.recorder.RecordOAuthTokenRefresh(ctx, ResultInvalidGrant)
		return nil, &bridgeerrors.RefreshError{Kind: bridgeerrors.RefreshInvalidGrant, UserID: cred.UserID, Err: errNoRefreshToken}
	}

	refreshCtx, cancel := m.upstreamContext(ctx)
	defer cancel()

	// An empty access token forces the token source to hit the token endpoint.
	src := m.oauth.TokenSource(refreshCtx, &oauth2.Token{RefreshToken: cred.RefreshToken})
	token, err := src.Token()
	if err != nil {
		kind := classifyRefreshError(err)
		m.recorder.RecordOAuthTokenRefresh(ctx, string(kind))
		return nil, &bridgeerrors.RefreshError{Kind: kind, UserID: cred.UserID, Err: err}
	}
	m.recorder.RecordOAuthTokenRefresh(ctx, ResultSuccess)

	refreshed := cred.Clone()
	refreshed.AccessToken = token.AccessToken
	refreshed.ExpiresAt = token.Expiry
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if scopes := grantedScopes(token, nil); len(scopes) > 0 {
		refreshed.Scopes = scopes
	}
	return refreshed, nil
}

func (m *FlowManager) upstreamContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// classifyRefreshError treats only invalid_grant as terminal.
func classifyRefreshError(err error) bridgeerrors.RefreshKind {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "invalid_grant" {
		return bridgeerrors.RefreshInvalidGrant
	}
	return bridgeerrors.RefreshTransient
}

// grantedScopes reads the space separated "scope" field of a token response.
func grantedScopes(token *oauth2.Token, fallback []string) []string {
	if raw, ok := token.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		return strings.Fields(raw)
	}
	return fallback
}
