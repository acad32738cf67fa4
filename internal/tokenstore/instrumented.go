package tokenstore

import (
	"context"
	"errors"
)

// Operation status labels.
const (
	StatusSuccess  = "success"
	StatusNotFound = "not_found"
	StatusStale    = "stale"
	StatusError    = "error"
)

// OperationRecorder receives one call per store operation.
type OperationRecorder interface {
	RecordTokenStoreOperation(ctx context.Context, backend, operation, status string)
}

// Instrumented reports every operation of the wrapped store to a recorder.
type Instrumented struct {
	next     Store
	recorder OperationRecorder
	backend  string
}

// Instrument wraps s. A nil recorder returns s unchanged.
func Instrument(s Store, recorder OperationRecorder) Store {
	if recorder == nil {
		return s
	}
	return &Instrumented{next: s, recorder: recorder, backend: DriverOf(s)}
}

func (s *Instrumented) Driver() string { return s.backend }

func (s *Instrumented) Get(ctx context.Context, userID string) (*Credential, error) {
	cred, err := s.next.Get(ctx, userID)
	s.record(ctx, "get", err)
	return cred, err
}

func (s *Instrumented) Put(ctx context.Context, userID string, cred *Credential) error {
	err := s.next.Put(ctx, userID, cred)
	s.record(ctx, "put", err)
	return err
}

func (s *Instrumented) Delete(ctx context.Context, userID string) error {
	err := s.next.Delete(ctx, userID)
	s.record(ctx, "delete", err)
	return err
}

func (s *Instrumented) Update(ctx context.Context, userID string, fn UpdateFunc) (*Credential, error) {
	cred, err := s.next.Update(ctx, userID, fn)
	s.record(ctx, "update", err)
	return cred, err
}

func (s *Instrumented) Close() error { return s.next.Close() }

func (s *Instrumented) record(ctx context.Context, op string, err error) {
	status := StatusSuccess
	switch {
	case errors.Is(err, ErrNotFound):
		status = StatusNotFound
	case errors.Is(err, ErrStale):
		status = StatusStale
	case err != nil:
		status = StatusError
	}
	s.recorder.RecordTokenStoreOperation(ctx, s.backend, op, status)
}
