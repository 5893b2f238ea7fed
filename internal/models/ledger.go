package models

import "time"

// LedgerEntry records one fully completed download. An entry exists only
// after the local file was written, size-verified, and renamed into place;
// partial downloads never produce entries.
type LedgerEntry struct {
	Provider    ProviderKind `json:"provider" badgerhold:"index"`
	RecordID    string       `json:"record_id"`
	SHA256      string       `json:"sha256,omitempty"`
	Path        string       `json:"path"`
	SizeBytes   int64        `json:"size_bytes"`
	CompletedAt time.Time    `json:"completed_at"`
}

// LedgerKey returns the storage key for a (provider, recordID) pair.
func LedgerKey(provider ProviderKind, recordID string) string {
	return string(provider) + "/" + recordID
}

// SyncCursor persists the end of the last fully successful sync window for
// one source, so "since last sync" survives process restarts.
type SyncCursor struct {
	SourceID  string    `json:"source_id"`
	LastSync  time.Time `json:"last_sync"`
	UpdatedAt time.Time `json:"updated_at"`
}
