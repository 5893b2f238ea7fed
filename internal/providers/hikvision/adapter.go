// Package hikvision implements the provider adapter for Hikvision NVR/DVR
// devices reached directly over ISAPI with digest authentication.
// Containers are video input channels; container IDs are the channel
// number as a string.
package hikvision

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/warewatch/camsync/internal/digest"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

const (
	// DefaultRateLimit is the default rate limit (requests per second).
	// Embedded device web servers fall over easily.
	DefaultRateLimit = 5

	// searchPageSize is maxResults per search request; the device pages
	// via searchResultPosition.
	searchPageSize = 40

	// isapiTimeLayout is the time format ISAPI expects and returns.
	isapiTimeLayout = "2006-01-02T15:04:05Z"
)

// Adapter is the Hikvision provider adapter. It composes a digest session
// rather than an OAuth token source.
type Adapter struct {
	session    *digest.Session
	accountKey string
	limiter    *rate.Limiter
	logger     arbor.ILogger
}

// AdapterOption configures the Adapter.
type AdapterOption func(*Adapter)

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

// NewAdapter creates a Hikvision adapter over an authenticated session.
func NewAdapter(session *digest.Session, accountKey string, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		session:    session,
		accountKey: accountKey,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Kind returns the provider this adapter talks to.
func (a *Adapter) Kind() models.ProviderKind {
	return models.ProviderHikvision
}

// ListContainers lists the device's video input channels. The channel
// tree is flat; parent is ignored beyond nil meaning root.
func (a *Adapter) ListContainers(ctx context.Context, parent *models.ContainerRef) ([]models.Container, error) {
	if parent != nil {
		return []models.Container{}, nil
	}

	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := a.session.Do(ctx, http.MethodGet, "/ISAPI/System/Video/inputs/channels", nil)
	if err != nil {
		return nil, a.wrap(err, "list_containers")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.classify(resp.StatusCode, "list_containers")
	}

	var list VideoInputChannelList
	if err := xml.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode channel list: %w", err)
	}

	var containers []models.Container
	for _, ch := range list.Channels {
		containers = append(containers, models.Container{
			Ref:  models.ContainerRef{Provider: models.ProviderHikvision, ID: strconv.Itoa(ch.ID)},
			Name: ch.Name,
		})
	}

	return containers, nil
}

// SearchVideos searches one channel's recordings, paging through
// searchResultPosition until the device reports no more matches.
func (a *Adapter) SearchVideos(ctx context.Context, container models.ContainerRef, start, end time.Time) ([]models.VideoRecord, error) {
	channel, err := strconv.Atoi(container.ID)
	if err != nil {
		return nil, fmt.Errorf("hikvision container id %q must be a channel number: %w", container.ID, err)
	}

	// Track 101 is channel 1 main stream, 201 channel 2, and so on
	trackID := channel*100 + 1
	searchID := uuid.New().String()

	records := []models.VideoRecord{}
	for position := 0; ; position += searchPageSize {
		result, err := a.searchPage(ctx, searchID, trackID, start, end, position)
		if err != nil {
			return nil, err
		}

		for _, item := range result.MatchList {
			rec, err := a.toRecord(container, item)
			if err != nil {
				return nil, err
			}
			records = append(records, *rec)
		}

		if result.ResponseStatusStrg != "MORE" && result.NumOfMatches < searchPageSize {
			break
		}
	}

	return records, nil
}

// OpenDownloadStream issues a streaming GET for the recording, passing its
// playbackURI as a query parameter.
func (a *Adapter) OpenDownloadStream(ctx context.Context, rec *models.VideoRecord) (io.ReadCloser, int64, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, 0, err
	}

	path := "/ISAPI/ContentMgmt/download?playbackURI=" + url.QueryEscape(rec.Locator)
	resp, err := a.session.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, a.wrap(err, "open_stream")
	}

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, 0, a.classify(resp.StatusCode, "open_stream")
	}

	size := resp.ContentLength
	if size <= 0 {
		size = -1
	}

	return resp.Body, size, nil
}

// searchPage issues one CMSearchDescription request.
func (a *Adapter) searchPage(ctx context.Context, searchID string, trackID int, start, end time.Time, position int) (*CMSearchResult, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	search := CMSearchDescription{
		SearchID:    searchID,
		TrackIDList: TrackIDList{TrackID: trackID},
		TimeSpanList: TimeSpanList{
			TimeSpan: TimeSpan{
				StartTime: start.UTC().Format(isapiTimeLayout),
				EndTime:   end.UTC().Format(isapiTimeLayout),
			},
		},
		MaxResults:           searchPageSize,
		SearchResultPosition: position,
		MetadataList:         MetadataList{MetadataDescriptor: "//recordType.meta.std-cgi.com"},
	}

	body, err := xml.Marshal(search)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search request: %w", err)
	}

	resp, err := a.session.Do(ctx, http.MethodPost, "/ISAPI/ContentMgmt/search", body)
	if err != nil {
		return nil, a.wrap(err, "search_videos")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, a.classify(resp.StatusCode, "search_videos")
	}

	var result CMSearchResult
	if err := xml.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode search result: %w", err)
	}

	return &result, nil
}

// toRecord converts one search match into a normalized video record. The
// playbackURI doubles as the provider-native identifier; it is unique per
// recording segment on the device.
func (a *Adapter) toRecord(container models.ContainerRef, item MatchItem) (*models.VideoRecord, error) {
	begin, err := time.Parse(isapiTimeLayout, item.TimeSpan.StartTime)
	if err != nil {
		return nil, fmt.Errorf("invalid recording start time %q: %w", item.TimeSpan.StartTime, err)
	}

	rec := &models.VideoRecord{
		ID:        item.MediaSegmentDescriptor.PlaybackURI,
		Provider:  models.ProviderHikvision,
		Container: container,
		StartTime: begin,
		Locator:   item.MediaSegmentDescriptor.PlaybackURI,
	}

	if finish, err := time.Parse(isapiTimeLayout, item.TimeSpan.EndTime); err == nil {
		rec.EndTime = &finish
	}

	return rec, nil
}

// wrap converts a session error into a typed provider error, preserving
// AuthFailed so callers can tell bad credentials from a dead device.
func (a *Adapter) wrap(err error, op string) error {
	kind := interfaces.ProviderUnavailable
	if errors.Is(err, interfaces.ErrAuthFailed) {
		kind = interfaces.PermissionDenied
	}
	return &interfaces.ProviderError{
		Kind:       kind,
		Provider:   models.ProviderHikvision,
		AccountKey: a.accountKey,
		Op:         op,
		Err:        err,
	}
}

func (a *Adapter) classify(status int, op string) error {
	kind := interfaces.ProviderUnavailable
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = interfaces.PermissionDenied
	}
	return &interfaces.ProviderError{
		Kind:       kind,
		Provider:   models.ProviderHikvision,
		AccountKey: a.accountKey,
		Op:         op,
		StatusCode: status,
	}
}

// Ensure interface compliance
var _ interfaces.ProviderAdapter = (*Adapter)(nil)
