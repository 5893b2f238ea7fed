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

// CursorStorage implements the CursorStorage interface for Badger.
type CursorStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewCursorStorage creates a new CursorStorage instance
func NewCursorStorage(db *BadgerDB, logger arbor.ILogger) interfaces.CursorStorage {
	return &CursorStorage{
		db:     db,
		logger: logger,
	}
}

// SaveCursor advances the last-successful-sync instant for a source
func (s *CursorStorage) SaveCursor(ctx context.Context, sourceID string, lastSync time.Time) error {
	cursor := models.SyncCursor{
		SourceID:  sourceID,
		LastSync:  lastSync,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Store().Upsert(sourceID, &cursor); err != nil {
		return fmt.Errorf("failed to save sync cursor for %s: %w", sourceID, err)
	}
	return nil
}

// GetCursor retrieves the cursor for a source
func (s *CursorStorage) GetCursor(ctx context.Context, sourceID string) (*models.SyncCursor, error) {
	var cursor models.SyncCursor
	err := s.db.Store().Get(sourceID, &cursor)
	if err == badgerhold.ErrNotFound {
		return nil, interfaces.ErrCursorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync cursor for %s: %w", sourceID, err)
	}
	return &cursor, nil
}
