package google

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

const (
	// DefaultStateTTL bounds how long a consent link stays usable.
	DefaultStateTTL = 10 * time.Minute

	stateIssuer   = "calbridge"
	stateAudience = "google-oauth-state"
	minSecretLen  = 16
)

var (
	errStateSecretTooShort = errors.New("state secret must be at least 16 bytes")
	errStateMissingSubject = errors.New("state carries no user id")
)

// StateCodec signs and verifies OAuth state values.
type StateCodec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewStateCodec returns a codec signing with secret (HS256).
func NewStateCodec(secret []byte, ttl time.Duration) (*StateCodec, error) {
	if len(secret) < minSecretLen {
		return nil, errStateSecretTooShort
	}
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &StateCodec{secret: secret, ttl: ttl, now: time.Now}, nil
}

// Encode returns a signed state for userID.
func (c *StateCodec) Encode(userID string) (string, error) {
	issuedAt := c.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		Subject:   userID,
		Audience:  jwt.ClaimStrings{stateAudience},
		ID:        ulid.Make().String(),
		IssuedAt:  jwt.NewNumericDate(issuedAt),
		ExpiresAt: jwt.NewNumericDate(issuedAt.Add(c.ttl)),
	})
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

// Decode verifies state and returns the user id it carries.
func (c *StateCodec) Decode(state string) (string, error) {
	if strings.TrimSpace(state) == "" {
		return "", errors.New("empty state")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(state, claims, func(*jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(stateIssuer),
		jwt.WithAudience(stateAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", fmt.Errorf("invalid state: %w", err)
	}
	if claims.Subject == "" {
		return "", errStateMissingSubject
	}
	return claims.Subject, nil
}
