package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a failure for the MCP caller.
type Kind string

const (
	KindUnauthenticated     Kind = "unauthenticated"
	KindAuthExchange        Kind = "auth_exchange_error"
	KindRefresh             Kind = "refresh_error"
	KindMissingUserID       Kind = "missing_user_id"
	KindUnknownTool         Kind = "unknown_tool"
	KindInvalidArguments    Kind = "invalid_arguments"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindUpstreamError       Kind = "upstream_error"
	KindReadOnly            Kind = "read_only"
	KindInternal            Kind = "internal"
)

// Classified is implemented by every error type in this package.
type Classified interface {
	error
	ErrorKind() Kind
}

// Compile-time verification that all error types implement Classified.
var (
	_ Classified = (*Error)(nil)
	_ Classified = (*AuthExchangeError)(nil)
	_ Classified = (*RefreshError)(nil)
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrUnauthenticated     = errors.New("unauthenticated")
	ErrAuthExchange        = errors.New("authorization code exchange failed")
	ErrRefresh             = errors.New("token refresh failed")
	ErrMissingUserID       = errors.New("missing user_id in request metadata")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrInvalidArguments    = errors.New("invalid arguments")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamError       = errors.New("upstream error")
	ErrReadOnly            = errors.New("tool disabled in read-only mode")
	ErrInternal            = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindUnauthenticated:     ErrUnauthenticated,
	KindAuthExchange:        ErrAuthExchange,
	KindRefresh:             ErrRefresh,
	KindMissingUserID:       ErrMissingUserID,
	KindUnknownTool:         ErrUnknownTool,
	KindInvalidArguments:    ErrInvalidArguments,
	KindUpstreamUnavailable: ErrUpstreamUnavailable,
	KindUpstreamError:       ErrUpstreamError,
	KindReadOnly:            ErrReadOnly,
	KindInternal:            ErrInternal,
}

// Error is a classified failure surfaced to MCP callers.
type Error struct {
	Kind    Kind
	UserID  string
	Message string
	// AuthURL is set for KindUnauthenticated.
	AuthURL string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		if s, ok := sentinels[e.Kind]; ok {
			return s.Error()
		}
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for this error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && target == s
}

// ErrorKind implements Classified.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Retryable reports whether the same call may succeed if repeated later.
func (e *Error) Retryable() bool { return e.Kind == KindUpstreamUnavailable }

// Unauthenticated builds the actionable error returned when a user has no
// usable credential.
func Unauthenticated(userID, authURL string) *Error {
	return &Error{
		Kind:    KindUnauthenticated,
		UserID:  userID,
		AuthURL: authURL,
		Message: fmt.Sprintf("Google Calendar not connected for user '%s'. Visit %s", userID, authURL),
	}
}

func MissingUserID() *Error {
	return &Error{Kind: KindMissingUserID, Message: ErrMissingUserID.Error()}
}

func UnknownTool(name string) *Error {
	return &Error{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}
}

func InvalidArguments(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidArguments, Message: fmt.Sprintf(format, args...)}
}

func ReadOnly(name string) *Error {
	return &Error{Kind: KindReadOnly, Message: fmt.Sprintf("tool %q is disabled in read-only mode", name)}
}

func UpstreamUnavailable(userID string, err error) *Error {
	return &Error{Kind: KindUpstreamUnavailable, UserID: userID, Message: "Google is temporarily unavailable, try again", Err: err}
}

func UpstreamError(userID string, err error) *Error {
	return &Error{Kind: KindUpstreamError, UserID: userID, Message: "Google Calendar rejected the request", Err: err}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// AuthExchange reasons.
const (
	ReasonInvalidState   = "invalid_state"
	ReasonMissingCode    = "missing_code"
	ReasonExchangeFailed = "exchange_failed"
	ReasonStoreFailed    = "store_failed"
	ReasonAccessDenied   = "access_denied"
)

// AuthExchangeError reports a failed authorization-code exchange.
type AuthExchangeError struct {
	Reason string
	UserID string
	Err    error
}

func (e *AuthExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authorization failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("authorization failed (%s)", e.Reason)
}

func (e *AuthExchangeError) Unwrap() error { return e.Err }

func (e *AuthExchangeError) Is(target error) bool { return target == ErrAuthExchange }

// ErrorKind implements Classified.
func (e *AuthExchangeError) ErrorKind() Kind { return KindAuthExchange }

// RefreshKind distinguishes terminal from retryable refresh failures.
type RefreshKind string

const (
	// RefreshInvalidGrant means the refresh token was revoked or expired and
	// the user has to authorize again.
	RefreshInvalidGrant RefreshKind = "invalid_grant"
	// RefreshTransient covers network failures, timeouts and 5xx responses.
	RefreshTransient RefreshKind = "transient"
)

// RefreshError reports a failed refresh-token exchange.
type RefreshError struct {
	Kind   RefreshKind
	UserID string
	Err    error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("token refresh failed (%s): %v", e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() error { return e.Err }

func (e *RefreshError) Is(target error) bool { return target == ErrRefresh }

// ErrorKind implements Classified.
func (e *RefreshError) ErrorKind() Kind { return KindRefresh }

// InvalidGrant reports whether the refresh failure requires re-authorization.
func (e *RefreshError) InvalidGrant() bool { return e.Kind == RefreshInvalidGrant }

// KindOf returns the classification of err. Deadline and cancellation errors
// are reported as upstream unavailability, anything unclassified as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.ErrorKind()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamUnavailable
	}
	return KindInternal
}

// As converts err into an *Error, classifying unknown errors as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	switch KindOf(err) {
	case KindUpstreamUnavailable:
		return UpstreamUnavailable("", err)
	case KindAuthExchange:
		return &Error{Kind: KindAuthExchange, Message: err.Error(), Err: err}
	case KindRefresh:
		return &Error{Kind: KindRefresh, Message: err.Error(), Err: err}
	default:
		return Internal(err)
	}
}
