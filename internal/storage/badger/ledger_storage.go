package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// LedgerStorage implements the LedgerStorage interface for Badger.
// Entries are keyed by "<provider>/<recordID>".
type LedgerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewLedgerStorage creates a new LedgerStorage instance
func NewLedgerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.LedgerStorage {
	return &LedgerStorage{
		db:     db,
		logger: logger,
	}
}

// SaveEntry records one completed download
func (s *LedgerStorage) SaveEntry(ctx context.Context, entry *models.LedgerEntry) error {
	key := models.LedgerKey(entry.Provider, entry.RecordID)
	if err := s.db.Store().Upsert(key, entry); err != nil {
		return fmt.Errorf("failed to save ledger entry %s: %w", key, err)
	}
	return nil
}

// GetEntry retrieves an entry by (provider, recordID)
func (s *LedgerStorage) GetEntry(ctx context.Context, provider models.ProviderKind, recordID string) (*models.LedgerEntry, error) {
	key := models.LedgerKey(provider, recordID)
	var entry models.LedgerEntry
	err := s.db.Store().Get(key, &entry)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrLedgerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry %s: %w", key, err)
	}
	return &entry, nil
}

// DeleteEntry removes an entry, forcing a re-download on the next sync
func (s *LedgerStorage) DeleteEntry(ctx context.Context, provider models.ProviderKind, recordID string) error {
	key := models.LedgerKey(provider, recordID)
	err := s.db.Store().Delete(key, &models.LedgerEntry{})
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete ledger entry %s: %w", key, err)
	}
	return nil
}

// ListEntries returns all entries for a provider ordered by completion time
func (s *LedgerStorage) ListEntries(ctx context.Context, provider models.ProviderKind) ([]*models.LedgerEntry, error) {
	var entries []*models.LedgerEntry
	err := s.db.Store().Find(&entries, badgerhold.Where("Provider").Eq(provider).SortBy("CompletedAt"))
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for %s: %w", provider, err)
	}
	return entries, nil
}
