package interfaces

import (
	"context"

	"github.com/warewatch/camsync/internal/models"
)

// DownloadService streams recordings to local storage with dedup against
// the ledger, retry on transient failure, and clean cancellation.
type DownloadService interface {
	// Fetch downloads one record to destPath. When the ledger already
	// covers the record it returns ErrAlreadyDownloaded together with a
	// result describing the prior download (Skipped=true). A partial
	// file never remains at destPath.
	Fetch(ctx context.Context, adapter ProviderAdapter, rec *models.VideoRecord, destPath string) (*models.DownloadResult, error)
}

// SyncService is the entry point the scheduler drives.
type SyncService interface {
	Run(ctx context.Context, source *models.SourceConfig) (*models.SyncReport, error)
}
