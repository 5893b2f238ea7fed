package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// CredentialStorage implements the CredentialStorage interface for Badger.
// Records are keyed by "<provider>/<accountKey>"; only the vault writes here.
type CredentialStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCredentialStorage creates a new CredentialStorage instance
func NewCredentialStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CredentialStorage {
	return &CredentialStorage{
		db:     db,
		logger: logger,
	}
}

// SaveCredential inserts or replaces the record for its (provider, accountKey)
func (s *CredentialStorage) SaveCredential(ctx context.Context, rec *models.CredentialRecord) error {
	key := models.CredentialKey(rec.Provider, rec.AccountKey)

	// Preserve CreatedAt across overwrites
	var existing models.CredentialRecord
	if err := s.db.Store().Get(key, &existing); err == nil {
		rec.CreatedAt = existing.CreatedAt
	} else if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rec.UpdatedAt = time.Now()

	if err := s.db.Store().Upsert(key, rec); err != nil {
		return fmt.Errorf("failed to save credential %s: %w", key, err)
	}

	return nil
}

// GetCredential retrieves a record by (provider, accountKey)
func (s *CredentialStorage) GetCredential(ctx context.Context, provider models.ProviderKind, accountKey string) (*models.CredentialRecord, error) {
	key := models.CredentialKey(provider, accountKey)
	var rec models.CredentialRecord
	err := s.db.Store().Get(key, &rec)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get credential %s: %w", key, err)
	}
	return &rec, nil
}

// DeleteCredential removes a record. Deleting a missing record is not an error.
func (s *CredentialStorage) DeleteCredential(ctx context.Context, provider models.ProviderKind, accountKey string) error {
	key := models.CredentialKey(provider, accountKey)
	err := s.db.Store().Delete(key, &models.CredentialRecord{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete credential %s: %w", key, err)
	}
	return nil
}

// ListCredentials returns all records for a provider
func (s *CredentialStorage) ListCredentials(ctx context.Context, provider models.ProviderKind) ([]*models.CredentialRecord, error) {
	var recs []*models.CredentialRecord
	err := s.db.Store().Find(&recs, badgerhold.Where("Provider").Eq(provider))
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials for %s: %w", provider, err)
	}
	return recs, nil
}
