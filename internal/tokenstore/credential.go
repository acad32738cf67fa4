package tokenstore

import (
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// Credential is one user's Google OAuth grant.
type Credential struct {
	UserID       string    `json:"user_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Clone returns a deep copy so callers never share slices with a backend.
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	out := *c
	out.Scopes = slices.Clone(c.Scopes)
	return &out
}

// ValidFor reports whether the access token stays valid for at least margin
// after now. A zero expiry is treated as already expired.
func (c *Credential) ValidFor(margin time.Duration, now time.Time) bool {
	if c == nil || c.AccessToken == "" || c.ExpiresAt.IsZero() {
		return false
	}
	return c.ExpiresAt.After(now.Add(margin))
}

// Refreshable reports whether the credential can mint a new access token.
func (c *Credential) Refreshable() bool {
	return c != nil && c.RefreshToken != ""
}

// HasScope reports whether scope was granted.
func (c *Credential) HasScope(scope string) bool {
	return c != nil && slices.Contains(c.Scopes, scope)
}

// Token converts the credential to an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
	}
}

// FromToken builds a credential from an oauth2 token response.
func FromToken(userID string, token *oauth2.Token, scopes []string) *Credential {
	return &Credential{
		UserID:       userID,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
		Scopes:       slices.Clone(scopes),
	}
}
