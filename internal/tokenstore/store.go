package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned by Get when no credential exists for the user.
	ErrNotFound = errors.New("token_store.not_found")
	// ErrStale is returned by an UpdateFunc when the stored credential is no
	// longer the one the caller based its change on. Update writes nothing.
	ErrStale = errors.New("token_store.stale")

	errEmptyUserID      = errors.New("token_store.empty_user_id")
	errNilCredential    = errors.New("token_store.nil_credential")
	errUnsupportedStore = errors.New("token_store.unsupported_type")
)

// Store is the durable mapping from user id to credential.
type Store interface {
	// Get returns a copy of the stored credential or ErrNotFound.
	Get(ctx context.Context, userID string) (*Credential, error)
	// Put replaces the credential for userID atomically.
	Put(ctx context.Context, userID string, cred *Credential) error
	// Delete removes the credential. Deleting an absent user is not an error.
	Delete(ctx context.Context, userID string) error
	// Update reads, changes and writes the credential of userID under the
	// per-user lock, so no Put or Delete for the same user interleaves.
	// It returns the stored credential, or nil when fn deleted it.
	Update(ctx context.Context, userID string, fn UpdateFunc) (*Credential, error)
	Close() error
}

// UpdateFunc receives a copy of the current credential, nil when absent, and
// returns the credential to store. A nil result deletes the record. Any
// error aborts the update and is returned unchanged by Update. fn runs with
// the user's lock held and must not call back into the store.
type UpdateFunc func(cur *Credential) (*Credential, error)

// Driver is implemented by stores that can name their backend.
type Driver interface {
	Driver() string
}

// DriverOf returns the backend label of s, or "unknown".
func DriverOf(s Store) string {
	if d, ok := s.(Driver); ok {
		return d.Driver()
	}
	return "unknown"
}

func validatePut(op, driver, userID string, cred *Credential) (*Credential, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("token_store.%s.%s: %w", op, driver, errEmptyUserID)
	}
	if cred == nil {
		return nil, fmt.Errorf("token_store.%s.%s: %w", op, driver, errNilCredential)
	}
	out := cred.Clone()
	out.UserID = userID
	return out, nil
}

// applyUpdate runs fn and validates its result. A nil credential with a nil
// error means delete.
func applyUpdate(driver, userID string, cur *Credential, fn UpdateFunc) (*Credential, error) {
	next, err := fn(cur)
	if err != nil || next == nil {
		return nil, err
	}
	return validatePut("update", driver, userID, next)
}

func validateUserID(op, driver, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("token_store.%s.%s: %w", op, driver, errEmptyUserID)
	}
	return nil
}
