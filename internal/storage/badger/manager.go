package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/interfaces"
)

// Manager implements the StorageManager interface for Badger
type Manager struct {
	db         *BadgerDB
	credential interfaces.CredentialStorage
	ledger     interfaces.LedgerStorage
	cursor     interfaces.CursorStorage
	logger     arbor.ILogger
}

// NewManager creates a new Badger storage manager
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (interfaces.StorageManager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		credential: NewCredentialStorage(db, logger),
		ledger:     NewLedgerStorage(db, logger),
		cursor:     NewCursorStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// CredentialStorage returns the credential storage interface
func (m *Manager) CredentialStorage() interfaces.CredentialStorage {
	return m.credential
}

// LedgerStorage returns the download ledger storage interface
func (m *Manager) LedgerStorage() interfaces.LedgerStorage {
	return m.ledger
}

// CursorStorage returns the sync cursor storage interface
func (m *Manager) CursorStorage() interfaces.CursorStorage {
	return m.cursor
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
