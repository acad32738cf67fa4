package tokenstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps credentials in process memory. It does not survive a
// restart and exists for tests and local development.
type MemoryStore struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{creds: make(map[string]*Credential)}
}

func (s *MemoryStore) Driver() string { return "memory" }

func (s *MemoryStore) Get(_ context.Context, userID string) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[userID]
	if !ok {
		return nil, fmt.Errorf("token_store.get.memory: %w", ErrNotFound)
	}
	return cred.Clone(), nil
}

func (s *MemoryStore) Put(_ context.Context, userID string, cred *Credential) error {
	record, err := validatePut("put", "memory", userID, cred)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.creds[userID] = record
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.creds, userID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, userID string, fn UpdateFunc) (*Credential, error) {
	if err := validateUserID("update", "memory", userID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := applyUpdate("memory", userID, s.creds[userID].Clone(), fn)
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.creds, userID)
		return nil, nil
	}
	s.creds[userID] = next
	return next.Clone(), nil
}

func (s *MemoryStore) Close() error { return nil }
