package tokenstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Backend types accepted by Open.
const (
	TypeSQL    = "sql"
	TypeBadger = "badger"
	TypeValkey = "valkey"
	TypeMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	Type string
	// DatabaseURL is used by the sql backend (sqlite:///path or postgres://...).
	DatabaseURL string
	// BadgerDir is used by the badger backend.
	BadgerDir string
	Valkey    ValkeyOptions
	// EncryptionKey enables sealing when non-empty (32 bytes).
	EncryptionKey []byte
	Recorder      OperationRecorder
	Logger        *slog.Logger
}

// Open builds the configured store, wrapped with sealing and
// instrumentation where configured.
func Open(ctx context.Context, cfg Config) (Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		store Store
		err   error
	)
	switch strings.ToLower(strings.TrimSpace(cfg.Type)) {
	case "", TypeSQL:
		store, err = NewSQLStore(ctx, cfg.DatabaseURL)
	case TypeBadger:
		store, err = NewBadgerStore(BadgerOptions{Dir: cfg.BadgerDir, Logger: logger})
	case TypeValkey:
		store, err = NewValkeyStore(cfg.Valkey)
	case TypeMemory:
		logger.Warn("using in-memory token store; credentials are lost on restart")
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("token_store.open.%s: %w", cfg.Type, errUnsupportedStore)
	}
	if err != nil {
		return nil, err
	}

	if len(cfg.EncryptionKey) > 0 {
		sealed, sealErr := NewSealer(store, cfg.EncryptionKey)
		if sealErr != nil {
			_ = store.Close()
			return nil, sealErr
		}
		store = sealed
	}
	return Instrument(store, cfg.Recorder), nil
}
