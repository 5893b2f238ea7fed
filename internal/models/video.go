package models

import "time"

// VideoRecord is the normalized descriptor of one discoverable recording,
// independent of provider. Records are immutable once returned; re-querying
// the same window may yield a record with the same ID, which callers treat
// as identical.
type VideoRecord struct {
	// ID is the provider-native identifier, opaque to everything above
	// the adapter. (Provider, ID) is unique.
	ID       string       `json:"id"`
	Provider ProviderKind `json:"provider"`
	// Container is the folder/device/channel the recording belongs to.
	Container ContainerRef `json:"container"`
	StartTime time.Time    `json:"start_time"`
	// EndTime is nil for single-file providers such as Dropbox.
	EndTime *time.Time `json:"end_time,omitempty"`
	// SizeBytes is nil when the provider does not report a size up front.
	SizeBytes *int64 `json:"size_bytes,omitempty"`
	// Locator is the provider-specific handle used to request the download
	// stream: a Dropbox path, an Imou cloud URL, a Hikvision playbackURI.
	Locator string `json:"locator"`
}

// DownloadResult describes the outcome of one completed fetch.
type DownloadResult struct {
	Provider    ProviderKind `json:"provider"`
	RecordID    string       `json:"record_id"`
	Path        string       `json:"path"`
	BytesCopied int64        `json:"bytes_copied"`
	SHA256      string       `json:"sha256"`
	// Skipped is true when the ledger already held an entry and no
	// network call was made.
	Skipped  bool          `json:"skipped"`
	Duration time.Duration `json:"duration"`
}
