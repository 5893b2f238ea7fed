package interfaces

import (
	"errors"
	"fmt"

	"github.com/warewatch/camsync/internal/models"
)

// Credential errors
var (
	// ErrCredentialNotFound means no record exists for the key.
	ErrCredentialNotFound = errors.New("credential not found")
	// ErrCredentialCorrupt means a record exists but cannot be decrypted
	// (rotated master key or damaged ciphertext). Callers should prompt
	// re-authentication rather than silently proceeding.
	ErrCredentialCorrupt = errors.New("credential corrupt")
)

// Auth errors
var (
	// ErrSessionExpired means the OAuth session is missing, expired, or
	// already consumed.
	ErrSessionExpired = errors.New("oauth session expired")
	// ErrStateMismatch means the callback state did not match the stored
	// anti-CSRF token. Never retried automatically.
	ErrStateMismatch = errors.New("oauth state mismatch")
	// ErrReauthRequired means no refresh token is available or the
	// provider rejected it; the user must run the flow again.
	ErrReauthRequired = errors.New("re-authentication required")
	// ErrAuthFailed means a digest-authenticated request was rejected
	// twice; the stored device credentials are wrong.
	ErrAuthFailed = errors.New("authentication failed")
)

// ErrAlreadyDownloaded is returned by the orchestrator when the ledger
// already holds an entry for the record; no network call was made.
var ErrAlreadyDownloaded = errors.New("already downloaded")

// ProviderErrorKind classifies provider failures.
type ProviderErrorKind string

const (
	ProviderUnavailable ProviderErrorKind = "unavailable"       // network failure, 5xx
	PermissionDenied    ProviderErrorKind = "permission_denied" // authorization failure, not token expiry
	RateLimited         ProviderErrorKind = "rate_limited"      // 429 or provider throttle
)

// ProviderError is a classified failure from a provider adapter. It carries
// enough context for the caller to log without re-deriving state.
type ProviderError struct {
	Kind       ProviderErrorKind
	Provider   models.ProviderKind
	AccountKey string
	Op         string // "list_containers", "search_videos", "open_stream"
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s, account %s): %v", e.Provider, e.Op, e.Kind, e.AccountKey, e.Err)
	}
	return fmt.Sprintf("%s %s (%s, account %s): status %d", e.Provider, e.Op, e.Kind, e.AccountKey, e.StatusCode)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsProviderKind reports whether err is a ProviderError of the given kind.
func IsProviderKind(err error, kind ProviderErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}

// DownloadError wraps a failed fetch, marking it transient (eligible for
// retry with backoff) or permanent (record gone, never retried).
type DownloadError struct {
	Provider  models.ProviderKind
	RecordID  string
	Transient bool
	Err       error
}

func (e *DownloadError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	return fmt.Sprintf("download %s/%s (%s): %v", e.Provider, e.RecordID, class, e.Err)
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a retryable download failure.
func IsTransient(err error) bool {
	var de *DownloadError
	return errors.As(err, &de) && de.Transient
}
