package interfaces

import (
	"context"

	"github.com/warewatch/camsync/internal/models"
)

// CredentialVault encrypts, stores, and retrieves per-provider account
// secrets. All operations are synchronous disk I/O; no network calls.
type CredentialVault interface {
	// Store encrypts and persists the secret, overwriting any existing
	// record for the same (provider, accountKey).
	Store(ctx context.Context, provider models.ProviderKind, accountKey string, secret *models.Secret) error

	// Load decrypts and returns the secret. Returns ErrCredentialNotFound
	// when absent, ErrCredentialCorrupt when the record cannot be
	// decrypted (rotated key, damaged blob).
	Load(ctx context.Context, provider models.ProviderKind, accountKey string) (*models.Secret, error)

	// LoadRecord returns the at-rest record without decrypting, for
	// callers that only need metadata (expiry, device host).
	LoadRecord(ctx context.Context, provider models.ProviderKind, accountKey string) (*models.CredentialRecord, error)

	// Delete removes the record. Idempotent; deleting a missing record
	// is not an error.
	Delete(ctx context.Context, provider models.ProviderKind, accountKey string) error
}
