package interfaces

import (
	"context"
	"io"
	"time"

	"github.com/warewatch/camsync/internal/models"
)

// ProviderAdapter is the common contract every video source implements.
// Each adapter composes the auth component it needs (OAuth token provider
// or digest session); none of them share implementation.
type ProviderAdapter interface {
	// Kind returns the provider this adapter talks to.
	Kind() models.ProviderKind

	// ListContainers lists folders/devices/channels one level below
	// parent, or at the root when parent is nil. Pagination is followed
	// transparently; the full flattened list is returned.
	ListContainers(ctx context.Context, parent *models.ContainerRef) ([]models.Container, error)

	// SearchVideos returns records whose time window intersects
	// [start, end], boundaries inclusive. Order is not guaranteed.
	// No recordings is an empty slice, never an error.
	SearchVideos(ctx context.Context, container models.ContainerRef, start, end time.Time) ([]models.VideoRecord, error)

	// OpenDownloadStream returns an incremental reader for the recording
	// payload plus the expected size (-1 when unknown). Callers must
	// fully consume or close the stream.
	OpenDownloadStream(ctx context.Context, rec *models.VideoRecord) (io.ReadCloser, int64, error)
}

// AccessTokenProvider hands adapters a valid access token, refreshing
// behind the scenes when the stored one is expired or close to it.
type AccessTokenProvider interface {
	GetValidAccessToken(ctx context.Context, provider models.ProviderKind, accountKey string) (string, error)
	// ForceRefresh discards the cached access token and performs one
	// refresh exchange. Used when a provider response is ambiguous
	// between permission denial and token expiry.
	ForceRefresh(ctx context.Context, provider models.ProviderKind, accountKey string) (string, error)
}
