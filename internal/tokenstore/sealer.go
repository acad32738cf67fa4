package tokenstore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Sealer encrypts access and refresh tokens with AES-256-GCM before they
// reach the wrapped store. User ids, expiry and scopes stay in the clear so
// records remain addressable.
//
// Sealed values are base64(nonce || ciphertext || tag).
type Sealer struct {
	next Store
	aead cipher.AEAD
}

// NewSealer wraps next. key must be exactly 32 bytes.
func NewSealer(next Store, key []byte) (*Sealer, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be exactly 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{next: next, aead: aead}, nil
}

// EncryptionKeyFromBase64 decodes a base64 key and checks its size.
func EncryptionKeyFromBase64(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must decode to 32 bytes, got %d bytes", len(key))
	}
	return key, nil
}

// GenerateEncryptionKey returns a random 32-byte key.
func GenerateEncryptionKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

func (s *Sealer) Driver() string { return DriverOf(s.next) }

func (s *Sealer) Get(ctx context.Context, userID string) (*Credential, error) {
	cred, err := s.next.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.unsealCredential(cred)
}

func (s *Sealer) Put(ctx context.Context, userID string, cred *Credential) error {
	if cred == nil {
		return s.next.Put(ctx, userID, nil)
	}
	sealed, err := s.sealCredential(cred)
	if err != nil {
		return err
	}
	return s.next.Put(ctx, userID, sealed)
}

func (s *Sealer) Delete(ctx context.Context, userID string) error {
	return s.next.Delete(ctx, userID)
}

// Update hands fn the unsealed credential and seals what it returns.
func (s *Sealer) Update(ctx context.Context, userID string, fn UpdateFunc) (*Credential, error) {
	var stored *Credential
	_, err := s.next.Update(ctx, userID, func(cur *Credential) (*Credential, error) {
		if cur != nil {
			opened, err := s.unsealCredential(cur)
			if err != nil {
				return nil, err
			}
			cur = opened
		}
		next, err := fn(cur)
		if err != nil || next == nil {
			return nil, err
		}
		stored = next.Clone()
		stored.UserID = userID
		return s.sealCredential(next)
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *Sealer) Close() error { return s.next.Close() }

func (s *Sealer) sealCredential(cred *Credential) (*Credential, error) {
	sealed := cred.Clone()
	var err error
	if sealed.AccessToken, err = s.seal(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("token_store.seal.access_token: %w", err)
	}
	if sealed.RefreshToken, err = s.seal(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("token_store.seal.refresh_token: %w", err)
	}
	return sealed, nil
}

func (s *Sealer) unsealCredential(cred *Credential) (*Credential, error) {
	opened := cred.Clone()
	var err error
	if opened.AccessToken, err = s.open(cred.AccessToken); err != nil {
		return nil, fmt.Errorf("token_store.unseal.access_token: %w", err)
	}
	if opened.RefreshToken, err = s.open(cred.RefreshToken); err != nil {
		return nil, fmt.Errorf("token_store.unseal.refresh_token: %w", err)
	}
	return opened, nil
}

func (s *Sealer) seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	// Nonce must be unique for each encryption with the same key.
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (s *Sealer) open(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}
