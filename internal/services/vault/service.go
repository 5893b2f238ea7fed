// Package vault implements the credential vault: AES-256-GCM encryption of
// per-account secrets over the badger credential store. The master key is
// loaded once at startup and immutable for the process lifetime.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// Service implements interfaces.CredentialVault
type Service struct {
	storage interfaces.CredentialStorage
	key     []byte
	keyID   string
	locks   *common.KeyedMutex
	logger  arbor.ILogger
}

// NewService creates a credential vault over the given storage. The key
// must be a 32-byte AES-256 key (see common.MasterKey).
func NewService(storage interfaces.CredentialStorage, key []byte, logger arbor.ILogger) (*Service, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("vault master key must be 32 bytes, got %d", len(key))
	}

	sum := sha256.Sum256(key)

	return &Service{
		storage: storage,
		key:     key,
		keyID:   hex.EncodeToString(sum[:8]),
		locks:   common.NewKeyedMutex(),
		logger:  logger,
	}, nil
}

// Store encrypts and persists the secret, overwriting any existing record
// for the same (provider, accountKey).
func (s *Service) Store(ctx context.Context, provider models.ProviderKind, accountKey string, secret *models.Secret) error {
	lockKey := models.CredentialKey(provider, accountKey)
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	ciphertext, nonce, err := s.encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret for %s: %w", lockKey, err)
	}

	rec := &models.CredentialRecord{
		Provider:   provider,
		AccountKey: accountKey,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KeyID:      s.keyID,
		Expiry:     secret.Expiry,
		UpdatedAt:  time.Now(),
	}

	if err := s.storage.SaveCredential(ctx, rec); err != nil {
		return err
	}

	s.logger.Debug().
		Str("provider", string(provider)).
		Str("account", accountKey).
		Msg("Credential stored")

	return nil
}

// StoreDevice persists a device credential along with its host/port.
func (s *Service) StoreDevice(ctx context.Context, provider models.ProviderKind, accountKey string, secret *models.Secret, host string, port int) error {
	lockKey := models.CredentialKey(provider, accountKey)
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	ciphertext, nonce, err := s.encrypt(secret)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret for %s: %w", lockKey, err)
	}

	rec := &models.CredentialRecord{
		Provider:   provider,
		AccountKey: accountKey,
		Ciphertext: ciphertext,
		Nonce:      nonce,
		KeyID:      s.keyID,
		Host:       host,
		Port:       port,
		UpdatedAt:  time.Now(),
	}

	return s.storage.SaveCredential(ctx, rec)
}

// Load decrypts and returns the secret for (provider, accountKey).
func (s *Service) Load(ctx context.Context, provider models.ProviderKind, accountKey string) (*models.Secret, error) {
	lockKey := models.CredentialKey(provider, accountKey)
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	rec, err := s.storage.GetCredential(ctx, provider, accountKey)
	if err != nil {
		return nil, err
	}

	if rec.KeyID != s.keyID {
		s.logger.Warn().
			Str("provider", string(provider)).
			Str("account", accountKey).
			Str("record_key_id", rec.KeyID).
			Msg("Credential encrypted with a different master key")
		return nil, fmt.Errorf("%s/%s: %w", provider, accountKey, interfaces.ErrCredentialCorrupt)
	}

	var secret models.Secret
	if err := s.decrypt(rec.Ciphertext, rec.Nonce, &secret); err != nil {
		return nil, fmt.Errorf("%s/%s: %w", provider, accountKey, interfaces.ErrCredentialCorrupt)
	}

	return &secret, nil
}

// LoadRecord returns the at-rest record without decrypting.
func (s *Service) LoadRecord(ctx context.Context, provider models.ProviderKind, accountKey string) (*models.CredentialRecord, error) {
	return s.storage.GetCredential(ctx, provider, accountKey)
}

// Delete removes the credential. Idempotent.
func (s *Service) Delete(ctx context.Context, provider models.ProviderKind, accountKey string) error {
	lockKey := models.CredentialKey(provider, accountKey)
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	return s.storage.DeleteCredential(ctx, provider, accountKey)
}

// encrypt serializes the secret to JSON and seals it with AES-GCM using a
// fresh random 12-byte nonce per call.
func (s *Service) encrypt(secret *models.Secret) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(secret)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, 12)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, plaintext, nil), nonce, nil
}

func (s *Service) decrypt(ciphertext, nonce []byte, v any) error {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return err
	}

	return json.Unmarshal(plaintext, v)
}

// Ensure interface compliance
var _ interfaces.CredentialVault = (*Service)(nil)
