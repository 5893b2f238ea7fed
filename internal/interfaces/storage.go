package interfaces

import (
	"context"
	"errors"
	"time"

	"github.com/warewatch/camsync/internal/models"
)

// CredentialStorage persists encrypted credential records. Only the vault
// writes here; no other component touches the store directly.
type CredentialStorage interface {
	SaveCredential(ctx context.Context, rec *models.CredentialRecord) error
	GetCredential(ctx context.Context, provider models.ProviderKind, accountKey string) (*models.CredentialRecord, error)
	DeleteCredential(ctx context.Context, provider models.ProviderKind, accountKey string) error
	ListCredentials(ctx context.Context, provider models.ProviderKind) ([]*models.CredentialRecord, error)
}

// ErrLedgerNotFound is returned when no ledger entry exists for a record.
var ErrLedgerNotFound = errors.New("ledger entry not found")

// ErrCursorNotFound is returned when a source has never completed a sync.
var ErrCursorNotFound = errors.New("sync cursor not found")

// LedgerStorage persists completed-download entries for deduplication.
type LedgerStorage interface {
	SaveEntry(ctx context.Context, entry *models.LedgerEntry) error
	GetEntry(ctx context.Context, provider models.ProviderKind, recordID string) (*models.LedgerEntry, error)
	DeleteEntry(ctx context.Context, provider models.ProviderKind, recordID string) error
	ListEntries(ctx context.Context, provider models.ProviderKind) ([]*models.LedgerEntry, error)
}

// CursorStorage persists the last successful sync instant per source.
type CursorStorage interface {
	SaveCursor(ctx context.Context, sourceID string, lastSync time.Time) error
	GetCursor(ctx context.Context, sourceID string) (*models.SyncCursor, error)
}

// StorageManager aggregates the persistent stores behind one connection.
type StorageManager interface {
	CredentialStorage() CredentialStorage
	LedgerStorage() LedgerStorage
	CursorStorage() CursorStorage
	Close() error
}
