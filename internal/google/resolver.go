package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	bridgeerrors "github.com/teemow/calbridge/internal/errors"
	"github.com/teemow/calbridge/internal/logging"
	"github.com/teemow/calbridge/internal/tokenstore"
)

// DefaultSafetyMargin is how long before expiry a token is refreshed.
const DefaultSafetyMargin = 60 * time.Second

var errCredentialChanged = errors.New("credential changed during refresh")

// Refresher mints new access tokens. *FlowManager implements it.
type Refresher interface {
	Refresh(ctx context.Context, cred *tokenstore.Credential) (*tokenstore.Credential, error)
	AuthURL(userID string) string
}

// Resolver returns usable access tokens for user ids.
type Resolver struct {
	store     tokenstore.Store
	refresher Refresher
	margin    time.Duration
	timeout   time.Duration
	logger    *slog.Logger
	recorder  Recorder
	now       func() time.Time

	flights singleflight.Group
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithSafetyMargin sets the refresh margin before expiry.
func WithSafetyMargin(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.margin = d }
}

// WithRefreshTimeout bounds one refresh flight.
func WithRefreshTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithResolverLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithResolverRecorder(recorder Recorder) ResolverOption {
	return func(r *Resolver) {
		if recorder != nil {
			r.recorder = recorder
		}
	}
}

// WithClock replaces time.Now (tests).
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

// NewResolver returns a Resolver reading from store and refreshing through
// refresher.
func NewResolver(store tokenstore.Store, refresher Refresher, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:     store,
		refresher: refresher,
		margin:    DefaultSafetyMargin,
		timeout:   DefaultTimeout,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns an access token for userID valid for at least the safety
// margin, refreshing it first when needed.
//
// Errors are *bridgeerrors.Error: unauthenticated when the user has no
// usable credential, upstream_unavailable when a refresh failed transiently.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*oauth2.Token, error) {
	cred, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, r.storeError(userID, err)
	}
	if cred.ValidFor(r.margin, r.now()) {
		return cred.Token(), nil
	}
	return r.refresh(ctx, userID, "")
}

// ForceRefresh refreshes the credential of userID after Google rejected
// staleAccessToken. When the stored token already differs from the stale one
// another request has refreshed it and the stored token is returned.
func (r *Resolver) ForceRefresh(ctx context.Context, userID, staleAccessToken string) (*oauth2.Token, error) {
	return r.refresh(ctx, userID, staleAccessToken)
}

// AuthURL returns the route userID has to visit to (re)connect.
func (r *Resolver) AuthURL(userID string) string {
	return r.refresher.AuthURL(userID)
}

// refresh runs at most one flight per user. Waiters share its result; the
// flight outlives a cancelled caller so a token Google already rotated is
// still persisted.
func (r *Resolver) refresh(ctx context.Context, userID, stale string) (*oauth2.Token, error) {
	ch := r.flights.DoChan(userID, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.refreshFlight(flightCtx, userID, stale)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*tokenstore.Credential).Token(), nil
	case <-ctx.Done():
		return nil, bridgeerrors.UpstreamUnavailable(userID, ctx.Err())
	}
}

func (r *Resolver) refreshFlight(ctx context.Context, userID, stale string) (*tokenstore.Credential, error) {
	logger := logging.WithUser(logging.WithOperation(r.logger, "credential.refresh"), userID)

	// Re-read: a flight that finished just before this one may have refreshed.
	cred, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, r.storeError(userID, err)
	}
	now := r.now()
	if stale == "" && cred.ValidFor(r.margin, now) {
		r.recorder.RecordOAuthTokenRefresh(ctx, ResultSkipped)
		return cred, nil
	}
	if stale != "" && cred.AccessToken != stale && cred.ValidFor(0, now) {
		r.recorder.RecordOAuthTokenRefresh(ctx, ResultSkipped)
		return cred, nil
	}

	refreshed, err := r.refresher.Refresh(ctx, cred)
	if err != nil {
		var refreshErr *bridgeerrors.RefreshError
		if errors.As(err, &refreshErr) && refreshErr.InvalidGrant() {
			_, delErr := r.store.Update(ctx, userID, func(cur *tokenstore.Credential) (*tokenstore.Credential, error) {
				if !sameGrant(cur, cred) {
					return nil, tokenstore.ErrStale
				}
				return nil, nil
			})
			switch {
			case errors.Is(delErr, tokenstore.ErrStale):
				logger.Info("credential replaced while its refresh token was rejected")
				return r.reread(ctx, userID)
			case delErr != nil:
				logger.Error("failed to remove revoked credential", logging.Err(delErr))
			default:
				logger.Warn("refresh token rejected, credential removed", logging.Err(err))
			}
			return nil, bridgeerrors.Unauthenticated(userID, r.refresher.AuthURL(userID))
		}
		logger.Warn("token refresh failed", logging.Err(err))
		return nil, bridgeerrors.UpstreamUnavailable(userID, err)
	}

	stored, err := r.store.Update(ctx, userID, func(cur *tokenstore.Credential) (*tokenstore.Credential, error) {
		if !sameGrant(cur, cred) {
			return nil, tokenstore.ErrStale
		}
		return refreshed, nil
	})
	if errors.Is(err, tokenstore.ErrStale) {
		logger.Info("credential replaced during refresh, discarding refreshed token")
		return r.reread(ctx, userID)
	}
	if err != nil {
		logger.Error("failed to persist refreshed credential", logging.Err(err))
		return nil, bridgeerrors.Internal(fmt.Errorf("failed to persist refreshed credential: %w", err))
	}
	logger.Debug("access token refreshed", slog.Time("expires_at", stored.ExpiresAt))
	return stored, nil
}

// reread returns the credential that superseded the one a flight refreshed.
func (r *Resolver) reread(ctx context.Context, userID string) (*tokenstore.Credential, error) {
	cred, err := r.store.Get(ctx, userID)
	if err != nil {
		return nil, r.storeError(userID, err)
	}
	if !cred.ValidFor(0, r.now()) {
		return nil, bridgeerrors.UpstreamUnavailable(userID, errCredentialChanged)
	}
	return cred, nil
}

// sameGrant reports whether cur is still the credential read is a copy of.
func sameGrant(cur, read *tokenstore.Credential) bool {
	return cur != nil && read != nil &&
		cur.AccessToken == read.AccessToken &&
		cur.RefreshToken == read.RefreshToken
}

func (r *Resolver) storeError(userID string, err error) error {
	if errors.Is(err, tokenstore.ErrNotFound) {
		return bridgeerrors.Unauthenticated(userID, r.refresher.AuthURL(userID))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return bridgeerrors.UpstreamUnavailable(userID, err)
	}
	return bridgeerrors.Internal(fmt.Errorf("failed to read credential: %w", err))
}
