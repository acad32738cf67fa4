package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v3"

	"github.com/teemow/calbridge/internal/logging"
)

const badgerKeyPrefix = "credential/"

// BadgerStore keeps credentials in an embedded Badger database.
type BadgerStore struct {
	db    *badger.DB
	locks *keyedMutex
}

// BadgerOptions configures NewBadgerStore.
type BadgerOptions struct {
	// Dir is the database directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

// NewBadgerStore opens (or creates) a Badger database.
func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	dir := opts.Dir
	if opts.InMemory {
		dir = ""
	} else if dir == "" {
		return nil, fmt.Errorf("token_store.open.badger: %w", errEmptyDatabaseURL)
	}
	badgerOpts := badger.DefaultOptions(dir).
		WithInMemory(opts.InMemory).
		WithLogger(logging.NewPrintfAdapter(opts.Logger))

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("token_store.open.badger: %w", err)
	}
	return &BadgerStore{db: db, locks: newKeyedMutex()}, nil
}

func (s *BadgerStore) Driver() string { return "badger" }

func (s *BadgerStore) Get(_ context.Context, userID string) (*Credential, error) {
	var cred *Credential
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		cred, err = readBadgerCredential(txn, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, fmt.Errorf("token_store.get.badger: %w", ErrNotFound)
	}
	return cred, nil
}

func (s *BadgerStore) Put(_ context.Context, userID string, cred *Credential) error {
	cred, err := validatePut("put", "badger", userID, cred)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("token_store.encode.badger: %w", err)
	}

	unlock := s.locks.Lock(userID)
	defer unlock()
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(userID), raw)
	})
	if err != nil {
		return fmt.Errorf("token_store.put.badger: %w", err)
	}
	return nil
}

func (s *BadgerStore) Delete(_ context.Context, userID string) error {
	if err := validateUserID("delete", "badger", userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(userID))
	})
	if err != nil {
		return fmt.Errorf("token_store.delete.badger: %w", err)
	}
	return nil
}

// Update reads and writes in one Badger transaction.
func (s *BadgerStore) Update(_ context.Context, userID string, fn UpdateFunc) (*Credential, error) {
	if err := validateUserID("update", "badger", userID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	var stored *Credential
	err := s.db.Update(func(txn *badger.Txn) error {
		cur, err := readBadgerCredential(txn, userID)
		if err != nil {
			return err
		}
		next, err := applyUpdate("badger", userID, cur, fn)
		if err != nil {
			return err
		}
		if next == nil {
			if cur == nil {
				return nil
			}
			if err := txn.Delete(badgerKey(userID)); err != nil {
				return fmt.Errorf("token_store.update.badger: %w", err)
			}
			return nil
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("token_store.encode.badger: %w", err)
		}
		if err := txn.Set(badgerKey(userID), raw); err != nil {
			return fmt.Errorf("token_store.update.badger: %w", err)
		}
		stored = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// readBadgerCredential returns nil without error when userID has no record.
func readBadgerCredential(txn *badger.Txn, userID string) (*Credential, error) {
	item, err := txn.Get(badgerKey(userID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("token_store.get.badger: %w", err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("token_store.get.badger: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, fmt.Errorf("token_store.decode.badger: %w", err)
	}
	return &cred, nil
}

func badgerKey(userID string) []byte {
	return []byte(badgerKeyPrefix + userID)
}
