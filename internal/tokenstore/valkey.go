package tokenstore

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/valkey-io/valkey-go"
)

// DefaultValkeyKeyPrefix namespaces credential keys in a shared server.
const DefaultValkeyKeyPrefix = "calbridge:credential:"

var errEmptyValkeyAddr = errors.New("token_store.valkey.empty_address")

// ValkeyOptions configures NewValkeyStore.
type ValkeyOptions struct {
	// Addr is the server address (e.g., "valkey.namespace.svc:6379").
	Addr     string
	Password string
	DB       int
	// TLSEnabled enables TLS. TLSCAFile optionally adds a private CA.
	TLSEnabled bool
	TLSCAFile  string
	KeyPrefix  string
}

// ValkeyStore keeps credentials in a Valkey (or Redis) server so several
// bridge replicas can share them. The per-user lock is process-local.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	locks  *keyedMutex
}

// NewValkeyStore connects to the configured server.
func NewValkeyStore(opts ValkeyOptions) (*ValkeyStore, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, fmt.Errorf("token_store.open.valkey: %w", errEmptyValkeyAddr)
	}
	clientOpts := valkey.ClientOption{
		InitAddress: []string{opts.Addr},
		Password:    opts.Password,
		SelectDB:    opts.DB,
	}
	if opts.TLSEnabled {
		tlsConfig, err := valkeyTLSConfig(opts.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("token_store.open.valkey: %w", err)
		}
		clientOpts.TLSConfig = tlsConfig
	}
	client, err := valkey.NewClient(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("token_store.open.valkey: %w", err)
	}
	return newValkeyStoreWithClient(client, opts.KeyPrefix), nil
}

func newValkeyStoreWithClient(client valkey.Client, prefix string) *ValkeyStore {
	if prefix == "" {
		prefix = DefaultValkeyKeyPrefix
	}
	return &ValkeyStore{client: client, prefix: prefix, locks: newKeyedMutex()}
}

func (s *ValkeyStore) Driver() string { return "valkey" }

func (s *ValkeyStore) Get(ctx context.Context, userID string) (*Credential, error) {
	raw, err := s.client.Do(ctx, s.client.B().Get().Key(s.key(userID)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, fmt.Errorf("token_store.get.valkey: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("token_store.get.valkey: %w", err)
	}
	var cred Credential
	if err := json.Unmarshal([]byte(raw), &cred); err != nil {
		return nil, fmt.Errorf("token_store.decode.valkey: %w", err)
	}
	return &cred, nil
}

func (s *ValkeyStore) Put(ctx context.Context, userID string, cred *Credential) error {
	cred, err := validatePut("put", "valkey", userID, cred)
	if err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.set(ctx, "put", cred)
}

func (s *ValkeyStore) Delete(ctx context.Context, userID string) error {
	if err := validateUserID("delete", "valkey", userID); err != nil {
		return err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()
	return s.del(ctx, "delete", userID)
}

// Update serializes on the process-local lock only; writers in other
// replicas are not excluded.
func (s *ValkeyStore) Update(ctx context.Context, userID string, fn UpdateFunc) (*Credential, error) {
	if err := validateUserID("update", "valkey", userID); err != nil {
		return nil, err
	}
	unlock := s.locks.Lock(userID)
	defer unlock()

	cur, err := s.Get(ctx, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	next, err := applyUpdate("valkey", userID, cur, fn)
	if err != nil {
		return nil, err
	}
	if next == nil {
		if cur == nil {
			return nil, nil
		}
		return nil, s.del(ctx, "update", userID)
	}
	if err := s.set(ctx, "update", next); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *ValkeyStore) set(ctx context.Context, op string, cred *Credential) error {
	raw, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("token_store.encode.valkey: %w", err)
	}
	cmd := s.client.B().Set().Key(s.key(cred.UserID)).Value(string(raw)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("token_store.%s.valkey: %w", op, err)
	}
	return nil
}

func (s *ValkeyStore) del(ctx context.Context, op, userID string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.key(userID)).Build()).Error(); err != nil {
		return fmt.Errorf("token_store.%s.valkey: %w", op, err)
	}
	return nil
}

func (s *ValkeyStore) Close() error {
	s.client.Close()
	return nil
}

func (s *ValkeyStore) key(userID string) string {
	return s.prefix + userID
}

func valkeyTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	cfg.RootCAs = pool
	return cfg, nil
}
