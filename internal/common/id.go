package common

import (
	"github.com/google/uuid"
)

// NewSessionID generates a unique OAuth session ID with the "ses_" prefix
// Format: ses_<uuid>
func NewSessionID() string {
	return "ses_" + uuid.New().String()
}

// NewSyncRunID generates a unique sync run ID with the "sync_" prefix,
// used to correlate log lines from one coordinator pass.
func NewSyncRunID() string {
	return "sync_" + uuid.New().String()
}
