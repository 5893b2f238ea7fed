// Package imou implements the provider adapter for the Imou Life camera
// cloud. Containers are two-level: devices at the root, channels below
// each device. Container IDs are "deviceId" or "deviceId/channelId".
package imou

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

const (
	// DefaultBaseURL is the Imou open-platform API base.
	DefaultBaseURL = "https://open.imoulife.com"

	// DefaultTimeout is the default HTTP timeout for metadata calls.
	DefaultTimeout = 30 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 5

	// recordPageSize is how many records one queryLocalRecords page asks for.
	recordPageSize = 64

	// timeLayout is the wire format Imou uses for record boundaries.
	timeLayout = "2006-01-02 15:04:05"
)

// Adapter is the Imou Life provider adapter.
type Adapter struct {
	baseURL    string
	tokens     interfaces.AccessTokenProvider
	accountKey string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     arbor.ILogger
	// refreshOnDenied controls whether an ambiguous authorization failure
	// triggers one token refresh before being reported as PermissionDenied.
	refreshOnDenied bool
}

// AdapterOption configures the Adapter.
type AdapterOption func(*Adapter)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(baseURL string) AdapterOption {
	return func(a *Adapter) {
		a.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) AdapterOption {
	return func(a *Adapter) {
		a.httpClient = httpClient
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

// NewAdapter creates an Imou adapter for one account.
func NewAdapter(tokens interfaces.AccessTokenProvider, accountKey string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		baseURL:    DefaultBaseURL,
		tokens:     tokens,
		accountKey: accountKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Kind returns the provider this adapter talks to.
func (a *Adapter) Kind() models.ProviderKind {
	return models.ProviderImou
}

// apiEnvelope is the uniform Imou response wrapper. Errors arrive as
// HTTP 200 with a non-zero result code.
type apiEnvelope struct {
	Result struct {
		Code string          `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	} `json:"result"`
}

type deviceList struct {
	Devices []struct {
		DeviceID string `json:"deviceId"`
		Name     string `json:"deviceName"`
		Channels []struct {
			ChannelID   string `json:"channelId"`
			ChannelName string `json:"channelName"`
		} `json:"channels"`
	} `json:"devices"`
}

type recordList struct {
	Records []struct {
		RecordID    string `json:"recordId"`
		BeginTime   string `json:"beginTime"`
		EndTime     string `json:"endTime"`
		FileLength  int64  `json:"fileLength"`
		DownloadURL string `json:"downloadUrl"`
	} `json:"records"`
}

// ListContainers lists devices at the root, or the channels of one device.
func (a *Adapter) ListContainers(ctx context.Context, parent *models.ContainerRef) ([]models.Container, error) {
	var devices deviceList
	if err := a.call(ctx, "/openapi/deviceList", map[string]any{}, &devices, "list_containers"); err != nil {
		return nil, err
	}

	var containers []models.Container
	for _, d := range devices.Devices {
		if parent == nil {
			containers = append(containers, models.Container{
				Ref:         models.ContainerRef{Provider: models.ProviderImou, ID: d.DeviceID},
				Name:        d.Name,
				HasChildren: true,
			})
			continue
		}
		if d.DeviceID != parent.ID {
			continue
		}
		for _, ch := range d.Channels {
			containers = append(containers, models.Container{
				Ref:      models.ContainerRef{Provider: models.ProviderImou, ID: d.DeviceID + "/" + ch.ChannelID},
				Name:     ch.ChannelName,
				ParentID: d.DeviceID,
			})
		}
	}

	return containers, nil
}

// SearchVideos queries local records for one channel. recordType is always
// "all": filtering to alarm or schedule footage here would silently drop
// recordings.
func (a *Adapter) SearchVideos(ctx context.Context, container models.ContainerRef, start, end time.Time) ([]models.VideoRecord, error) {
	deviceID, channelID, err := splitContainerID(container.ID)
	if err != nil {
		return nil, err
	}

	records := []models.VideoRecord{}
	for page := 1; ; page++ {
		var list recordList
		req := map[string]any{
			"deviceId":   deviceID,
			"channelId":  channelID,
			"beginTime":  start.UTC().Format(timeLayout),
			"endTime":    end.UTC().Format(timeLayout),
			"recordType": "all",
			"queryRange": fmt.Sprintf("%d-%d", (page-1)*recordPageSize+1, page*recordPageSize),
		}
		if err := a.call(ctx, "/openapi/queryLocalRecords", req, &list, "search_videos"); err != nil {
			return nil, err
		}

		for _, r := range list.Records {
			begin, err := time.ParseInLocation(timeLayout, r.BeginTime, time.UTC)
			if err != nil {
				return nil, fmt.Errorf("imou record %s has invalid beginTime %q: %w", r.RecordID, r.BeginTime, err)
			}
			rec := models.VideoRecord{
				ID:        r.RecordID,
				Provider:  models.ProviderImou,
				Container: container,
				StartTime: begin,
				Locator:   r.DownloadURL,
			}
			if finish, err := time.ParseInLocation(timeLayout, r.EndTime, time.UTC); err == nil {
				rec.EndTime = &finish
			}
			if r.FileLength > 0 {
				size := r.FileLength
				rec.SizeBytes = &size
			}
			records = append(records, rec)
		}

		if len(list.Records) < recordPageSize {
			break
		}
	}

	return records, nil
}

// OpenDownloadStream streams the record's cloud download URL.
func (a *Adapter) OpenDownloadStream(ctx context.Context, rec *models.VideoRecord) (io.ReadCloser, int64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	token, err := a.tokens.GetValidAccessToken(ctx, models.ProviderImou, a.accountKey)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rec.Locator, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create imou download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	// No client timeout on the stream itself; cancellation via ctx
	client := &http.Client{Transport: a.httpClient.Transport}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, &interfaces.ProviderError{
			Kind:       interfaces.ProviderUnavailable,
			Provider:   models.ProviderImou,
			AccountKey: a.accountKey,
			Op:         "open_stream",
			Err:        err,
		}
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		kind := interfaces.ProviderUnavailable
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = interfaces.PermissionDenied
		}
		return nil, 0, &interfaces.ProviderError{
			Kind:       kind,
			Provider:   models.ProviderImou,
			AccountKey: a.accountKey,
			Op:         "open_stream",
			StatusCode: resp.StatusCode,
		}
	}

	size := resp.ContentLength
	if size <= 0 {
		size = -1
	}

	return resp.Body, size, nil
}

// call performs one JSON API call, unwrapping the Imou result envelope.
// Token-expired result codes trigger one forced refresh and one retry.
func (a *Adapter) call(ctx context.Context, path string, params map[string]any, out any, op string) error {
	token, err := a.tokens.GetValidAccessToken(ctx, models.ProviderImou, a.accountKey)
	if err != nil {
		return err
	}

	code, err := a.post(ctx, path, token, params, out, op)
	if err != nil {
		return err
	}
	if code == "0" {
		return nil
	}

	if isTokenExpiredCode(code) || (a.refreshOnDenied && isPermissionCode(code)) {
		token, err = a.tokens.ForceRefresh(ctx, models.ProviderImou, a.accountKey)
		if err != nil {
			return err
		}
		code, err = a.post(ctx, path, token, params, out, op)
		if err != nil {
			return err
		}
		if code == "0" {
			return nil
		}
	}

	kind := interfaces.ProviderUnavailable
	if isPermissionCode(code) || isTokenExpiredCode(code) {
		kind = interfaces.PermissionDenied
	}

	if a.logger != nil {
		a.logger.Warn().Str("op", op).Str("code", code).Msg("Imou request failed")
	}

	return &interfaces.ProviderError{
		Kind:       kind,
		Provider:   models.ProviderImou,
		AccountKey: a.accountKey,
		Op:         op,
		Err:        fmt.Errorf("imou result code %s", code),
	}
}

// post issues one request and decodes the envelope; it returns the result
// code so the caller can decide on retry.
func (a *Adapter) post(ctx context.Context, path, token string, params map[string]any, out any, op string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	payload := map[string]any{"token": token, "params": params}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal imou request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create imou request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return "", &interfaces.ProviderError{
			Kind:       interfaces.ProviderUnavailable,
			Provider:   models.ProviderImou,
			AccountKey: a.accountKey,
			Op:         op,
			Err:        err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &interfaces.ProviderError{
			Kind:       interfaces.RateLimited,
			Provider:   models.ProviderImou,
			AccountKey: a.accountKey,
			Op:         op,
			StatusCode: resp.StatusCode,
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &interfaces.ProviderError{
			Kind:       interfaces.ProviderUnavailable,
			Provider:   models.ProviderImou,
			AccountKey: a.accountKey,
			Op:         op,
			StatusCode: resp.StatusCode,
		}
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("failed to decode imou response: %w", err)
	}

	if envelope.Result.Code == "0" && out != nil && len(envelope.Result.Data) > 0 {
		if err := json.Unmarshal(envelope.Result.Data, out); err != nil {
			return "", fmt.Errorf("failed to decode imou data: %w", err)
		}
	}

	return envelope.Result.Code, nil
}

// isTokenExpiredCode reports whether the result code means the access
// token is expired or invalid.
func isTokenExpiredCode(code string) bool {
	return code == "TK1002" || code == "TK1003"
}

// isPermissionCode reports whether the result code means the account lacks
// access to the device or recording.
func isPermissionCode(code string) bool {
	return strings.HasPrefix(code, "OP")
}

func splitContainerID(id string) (deviceID, channelID string, err error) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("imou container id %q must be deviceId/channelId", id)
	}
	return parts[0], parts[1], nil
}

// Ensure interface compliance
var _ interfaces.ProviderAdapter = (*Adapter)(nil)
