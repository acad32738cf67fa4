package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnauthenticatedMessage(t *testing.T) {
	err := Unauthenticated("abc", "https://bridge.example.com/auth/google?user_id=abc")

	assert.Equal(t, KindUnauthenticated, err.Kind)
	assert.Equal(t, "abc", err.UserID)
	assert.Contains(t, err.Error(), "user 'abc'")
	assert.Contains(t, err.Error(), "/auth/google?user_id=abc")
	assert.True(t, errors.Is(err, ErrUnauthenticated))
	assert.False(t, errors.Is(err, ErrUpstreamError))
	assert.False(t, err.Retryable())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "classified", err: MissingUserID(), want: KindMissingUserID},
		{name: "wrapped classified", err: fmt.Errorf("dispatch: %w", UnknownTool("nope")), want: KindUnknownTool},
		{name: "refresh error", err: &RefreshError{Kind: RefreshTransient, Err: errors.New("boom")}, want: KindRefresh},
		{name: "auth exchange", err: &AuthExchangeError{Reason: ReasonInvalidState}, want: KindAuthExchange},
		{name: "deadline", err: fmt.Errorf("call: %w", context.DeadlineExceeded), want: KindUpstreamUnavailable},
		{name: "plain", err: errors.New("plain"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRefreshError(t *testing.T) {
	cause := errors.New("oauth2: invalid_grant")
	err := &RefreshError{Kind: RefreshInvalidGrant, UserID: "u1", Err: cause}

	assert.True(t, err.InvalidGrant())
	assert.True(t, errors.Is(err, ErrRefresh))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "invalid_grant")

	var re *RefreshError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", err), &re))
	assert.Equal(t, "u1", re.UserID)
}

func TestAs(t *testing.T) {
	t.Run("passes through typed error", func(t *testing.T) {
		orig := UpstreamError("u1", errors.New("404"))
		assert.Same(t, orig, As(fmt.Errorf("wrap: %w", orig)))
	})

	t.Run("deadline becomes retryable", func(t *testing.T) {
		e := As(context.DeadlineExceeded)
		require.NotNil(t, e)
		assert.Equal(t, KindUpstreamUnavailable, e.Kind)
		assert.True(t, e.Retryable())
	})

	t.Run("unknown becomes internal", func(t *testing.T) {
		e := As(errors.New("boom"))
		assert.Equal(t, KindInternal, e.Kind)
		assert.True(t, errors.Is(e, ErrInternal))
	})

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, As(nil))
	})
}
