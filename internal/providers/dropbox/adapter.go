// Package dropbox implements the provider adapter for Dropbox cloud
// storage. Recordings are plain video files uploaded by cameras or export
// jobs; folders are the containers.
package dropbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

const (
	// DefaultAPIURL is the Dropbox RPC endpoint base.
	DefaultAPIURL = "https://api.dropboxapi.com"

	// DefaultContentURL is the Dropbox content endpoint base.
	DefaultContentURL = "https://content.dropboxapi.com"

	// DefaultTimeout is the default HTTP timeout for metadata calls.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 10
)

var videoExtensions = map[string]bool{
	".mp4": true,
	".avi": true,
	".mkv": true,
	".mov": true,
	".dav": true,
}

// Adapter is the Dropbox provider adapter.
type Adapter struct {
	apiURL       string
	contentURL   string
	tokens       interfaces.AccessTokenProvider
	accountKey   string
	httpClient   *http.Client
	streamClient *http.Client
	limiter      *rate.Limiter
	logger       arbor.ILogger
	// refreshOnDenied controls whether an ambiguous authorization failure
	// triggers one token refresh before being reported as PermissionDenied.
	refreshOnDenied bool
}

// AdapterOption configures the Adapter.
type AdapterOption func(*Adapter)

// WithBaseURLs sets custom API and content base URLs.
func WithBaseURLs(apiURL, contentURL string) AdapterOption {
	return func(a *Adapter) {
		a.apiURL = strings.TrimRight(apiURL, "/")
		a.contentURL = strings.TrimRight(contentURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client for both metadata and content
// calls.
func WithHTTPClient(httpClient *http.Client) AdapterOption {
	return func(a *Adapter) {
		a.httpClient = httpClient
		a.streamClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) AdapterOption {
	return func(a *Adapter) {
		a.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithRefreshOnPermissionDenied enables one forced token refresh when an
// authorization failure is ambiguous.
func WithRefreshOnPermissionDenied(enabled bool) AdapterOption {
	return func(a *Adapter) {
		a.refreshOnDenied = enabled
	}
}

// NewAdapter creates a Dropbox adapter for one account.
func NewAdapter(tokens interfaces.AccessTokenProvider, accountKey string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		apiURL:     DefaultAPIURL,
		contentURL: DefaultContentURL,
		tokens:     tokens,
		accountKey: accountKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		// Download streams run long; rely on context for cancellation
		streamClient: &http.Client{},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Kind returns the provider this adapter talks to.
func (a *Adapter) Kind() models.ProviderKind {
	return models.ProviderDropbox
}

// listFolderEntry is one entry from list_folder.
type listFolderEntry struct {
	Tag            string    `json:".tag"`
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	PathLower      string    `json:"path_lower"`
	ClientModified time.Time `json:"client_modified"`
	Size           int64     `json:"size"`
}

type listFolderResponse struct {
	Entries []listFolderEntry `json:"entries"`
	Cursor  string            `json:"cursor"`
	HasMore bool              `json:"has_more"`
}

// ListContainers lists the folders one level below parent (root if nil),
// following continuation cursors until exhausted.
func (a *Adapter) ListContainers(ctx context.Context, parent *models.ContainerRef) ([]models.Container, error) {
	parentPath := ""
	if parent != nil {
		parentPath = parent.ID
	}

	entries, err := a.listFolder(ctx, parentPath)
	if err != nil {
		return nil, err
	}

	var containers []models.Container
	for _, e := range entries {
		if e.Tag != "folder" {
			continue
		}
		containers = append(containers, models.Container{
			Ref:         models.ContainerRef{Provider: models.ProviderDropbox, ID: e.PathLower},
			Name:        e.Name,
			ParentID:    parentPath,
			HasChildren: true,
		})
	}

	return containers, nil
}

// SearchVideos returns video files in the folder whose modification time
// falls inside [start, end], boundaries inclusive.
func (a *Adapter) SearchVideos(ctx context.Context, container models.ContainerRef, start, end time.Time) ([]models.VideoRecord, error) {
	entries, err := a.listFolder(ctx, container.ID)
	if err != nil {
		return nil, err
	}

	records := []models.VideoRecord{}
	for _, e := range entries {
		if e.Tag != "file" || !videoExtensions[strings.ToLower(path.Ext(e.Name))] {
			continue
		}
		if e.ClientModified.Before(start) || e.ClientModified.After(end) {
			continue
		}
		size := e.Size
		records = append(records, models.VideoRecord{
			ID:        e.ID,
			Provider:  models.ProviderDropbox,
			Container: container,
			StartTime: e.ClientModified,
			SizeBytes: &size,
			Locator:   e.PathLower,
		})
	}

	return records, nil
}

// OpenDownloadStream opens the file content stream for the record.
func (a *Adapter) OpenDownloadStream(ctx context.Context, rec *models.VideoRecord) (io.ReadCloser, int64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	resp, err := a.doAuthenticated(ctx, a.streamClient, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.contentURL+"/2/files/download", nil)
		if err != nil {
			return nil, err
		}
		arg, _ := json.Marshal(map[string]string{"path": rec.Locator})
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Dropbox-API-Arg", string(arg))
		return req, nil
	}, "open_stream")
	if err != nil {
		return nil, 0, err
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, 0, a.classify(resp, "open_stream")
	}

	size := resp.ContentLength
	if size <= 0 {
		size = -1
	}

	return resp.Body, size, nil
}

// listFolder fetches all entries for a folder, transparently following
// continuation cursors until has_more is false.
func (a *Adapter) listFolder(ctx context.Context, folderPath string) ([]listFolderEntry, error) {
	var entries []listFolderEntry

	body, _ := json.Marshal(map[string]any{"path": folderPath, "recursive": false})
	page, err := a.rpc(ctx, "/2/files/list_folder", body, "list_containers")
	if err != nil {
		return nil, err
	}
	entries = append(entries, page.Entries...)

	for page.HasMore {
		body, _ = json.Marshal(map[string]string{"cursor": page.Cursor})
		page, err = a.rpc(ctx, "/2/files/list_folder/continue", body, "list_containers")
		if err != nil {
			return nil, err
		}
		entries = append(entries, page.Entries...)
	}

	return entries, nil
}

// rpc performs one JSON RPC call against the API endpoint.
func (a *Adapter) rpc(ctx context.Context, rpcPath string, body []byte, op string) (*listFolderResponse, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := a.doAuthenticated(ctx, a.httpClient, func(token string) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL+rpcPath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}, op)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.classify(resp, op)
	}

	var page listFolderResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode dropbox response: %w", err)
	}

	return &page, nil
}

// doAuthenticated issues the request with a valid token, forcing one
// refresh and retrying once when the provider answers 401.
func (a *Adapter) doAuthenticated(ctx context.Context, client *http.Client, build func(token string) (*http.Request, error), op string) (*http.Response, error) {
	token, err := a.tokens.GetValidAccessToken(ctx, models.ProviderDropbox, a.accountKey)
	if err != nil {
		return nil, err
	}

	req, err := build(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropbox request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &interfaces.ProviderError{
			Kind:       interfaces.ProviderUnavailable,
			Provider:   models.ProviderDropbox,
			AccountKey: a.accountKey,
			Op:         op,
			Err:        err,
		}
	}

	if resp.StatusCode != http.StatusUnauthorized || !a.refreshOnDenied {
		return resp, nil
	}

	// Expiry metadata was stale or the token was revoked server side.
	// One forced refresh, one retry, then report whatever comes back.
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	token, err = a.tokens.ForceRefresh(ctx, models.ProviderDropbox, a.accountKey)
	if err != nil {
		return nil, err
	}

	req, err = build(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create dropbox request: %w", err)
	}

	resp, err = client.Do(req)
	if err != nil {
		return nil, &interfaces.ProviderError{
			Kind:       interfaces.ProviderUnavailable,
			Provider:   models.ProviderDropbox,
			AccountKey: a.accountKey,
			Op:         op,
			Err:        err,
		}
	}

	return resp, nil
}

// classify converts a non-200 response into a typed provider error.
func (a *Adapter) classify(resp *http.Response, op string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	kind := interfaces.ProviderUnavailable
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = interfaces.PermissionDenied
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = interfaces.RateLimited
	}

	if a.logger != nil {
		a.logger.Warn().
			Str("op", op).
			Int("status", resp.StatusCode).
			Str("body", string(body)).
			Msg("Dropbox request failed")
	}

	return &interfaces.ProviderError{
		Kind:       kind,
		Provider:   models.ProviderDropbox,
		AccountKey: a.accountKey,
		Op:         op,
		StatusCode: resp.StatusCode,
	}
}

// Ensure interface compliance
var _ interfaces.ProviderAdapter = (*Adapter)(nil)
