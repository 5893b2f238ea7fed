package sync

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

type memCursors struct {
	mu      stdsync.Mutex
	cursors map[string]time.Time
}

func newMemCursors() *memCursors {
	return &memCursors{cursors: make(map[string]time.Time)}
}

func (m *memCursors) SaveCursor(_ context.Context, sourceID string, lastSync time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[sourceID] = lastSync
	return nil
}

func (m *memCursors) GetCursor(_ context.Context, sourceID string) (*models.SyncCursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	last, ok := m.cursors[sourceID]
	if !ok {
		return nil, interfaces.ErrCursorNotFound
	}
	return &models.SyncCursor{SourceID: sourceID, LastSync: last}, nil
}

// fakeAdapter serves records per container and tracks search windows.
type fakeAdapter struct {
	mu       stdsync.Mutex
	records  map[string][]models.VideoRecord
	searches [][2]time.Time
}

func (a *fakeAdapter) Kind() models.ProviderKind { return models.ProviderDropbox }

func (a *fakeAdapter) ListContainers(context.Context, *models.ContainerRef) ([]models.Container, error) {
	return nil, nil
}

func (a *fakeAdapter) SearchVideos(_ context.Context, container models.ContainerRef, start, end time.Time) ([]models.VideoRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.searches = append(a.searches, [2]time.Time{start, end})
	return a.records[container.ID], nil
}

func (a *fakeAdapter) OpenDownloadStream(context.Context, *models.VideoRecord) (io.ReadCloser, int64, error) {
	return io.NopCloser(strings.NewReader("")), 0, nil
}

type fakeFactory struct {
	adapter interfaces.ProviderAdapter
	err     error
}

func (f *fakeFactory) ForSource(context.Context, *models.SourceConfig) (interfaces.ProviderAdapter, error) {
	return f.adapter, f.err
}

// fakeDownloads records fetched paths and fails or skips selected ids.
type fakeDownloads struct {
	mu     stdsync.Mutex
	paths  map[string]string // record id -> dest path
	failID string
	skipID string
}

func newFakeDownloads() *fakeDownloads {
	return &fakeDownloads{paths: make(map[string]string)}
}

func (d *fakeDownloads) Fetch(_ context.Context, _ interfaces.ProviderAdapter, rec *models.VideoRecord, destPath string) (*models.DownloadResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paths[rec.ID] = destPath

	switch rec.ID {
	case d.failID:
		return nil, &interfaces.DownloadError{Provider: rec.Provider, RecordID: rec.ID, Transient: true, Err: errors.New("stream reset")}
	case d.skipID:
		return &models.DownloadResult{Provider: rec.Provider, RecordID: rec.ID, Skipped: true}, interfaces.ErrAlreadyDownloaded
	}
	return &models.DownloadResult{Provider: rec.Provider, RecordID: rec.ID, Path: destPath}, nil
}

func record(id string, start time.Time) models.VideoRecord {
	return models.VideoRecord{
		ID:        id,
		Provider:  models.ProviderDropbox,
		Container: models.ContainerRef{Provider: models.ProviderDropbox, ID: "/cams"},
		StartTime: start,
		Locator:   id,
	}
}

func testSource() *models.SourceConfig {
	return &models.SourceConfig{
		ID:         "warehouse",
		Provider:   models.ProviderDropbox,
		AccountKey: "acct-1",
		Containers: []models.ContainerRef{{Provider: models.ProviderDropbox, ID: "/cams"}},
	}
}

func TestRunDownloadsAllAndAdvancesCursor(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{records: map[string][]models.VideoRecord{
		"/cams": {
			record("/cams/b.mp4", base.Add(10*time.Minute)),
			record("/cams/a.mp4", base),
		},
	}}
	downloads := newFakeDownloads()
	cursors := newMemCursors()
	svc := NewService(&fakeFactory{adapter: adapter}, downloads, cursors, t.TempDir(), 2, nil)

	source := testSource()
	source.From = base
	source.To = base.Add(time.Hour)

	report, err := svc.Run(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, 2, report.Found)
	require.Equal(t, 2, report.Downloaded)
	require.Zero(t, report.Failed)
	require.Equal(t, [2]time.Time{source.From, source.To}, report.Window)

	saved, err := cursors.GetCursor(context.Background(), "warehouse")
	require.NoError(t, err)
	require.Equal(t, source.To, saved.LastSync)
}

func TestRunFailureHoldsCursorBack(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{records: map[string][]models.VideoRecord{
		"/cams": {
			record("/cams/ok.mp4", base),
			record("/cams/bad.mp4", base.Add(time.Minute)),
		},
	}}
	downloads := newFakeDownloads()
	downloads.failID = "/cams/bad.mp4"
	cursors := newMemCursors()
	svc := NewService(&fakeFactory{adapter: adapter}, downloads, cursors, t.TempDir(), 2, nil)

	source := testSource()
	source.From = base

	report, err := svc.Run(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	require.Equal(t, 1, report.Failed)

	_, err = cursors.GetCursor(context.Background(), "warehouse")
	require.ErrorIs(t, err, interfaces.ErrCursorNotFound,
		"failed run must not advance the cursor")
}

func TestRunCountsLedgeredRecordsAsSkipped(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	adapter := &fakeAdapter{records: map[string][]models.VideoRecord{
		"/cams": {
			record("/cams/new.mp4", base),
			record("/cams/seen.mp4", base.Add(time.Minute)),
		},
	}}
	downloads := newFakeDownloads()
	downloads.skipID = "/cams/seen.mp4"
	svc := NewService(&fakeFactory{adapter: adapter}, downloads, newMemCursors(), t.TempDir(), 2, nil)

	source := testSource()
	source.From = base

	report, err := svc.Run(context.Background(), source)
	require.NoError(t, err)
	require.Equal(t, 1, report.Downloaded)
	require.Equal(t, 1, report.Skipped)
	require.Zero(t, report.Failed)
}

func TestWindowFromCursor(t *testing.T) {
	adapter := &fakeAdapter{records: map[string][]models.VideoRecord{}}
	cursors := newMemCursors()
	last := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, cursors.SaveCursor(context.Background(), "warehouse", last))

	svc := NewService(&fakeFactory{adapter: adapter}, newFakeDownloads(), cursors, t.TempDir(), 1, nil)
	_, err := svc.Run(context.Background(), testSource())
	require.NoError(t, err)

	require.Len(t, adapter.searches, 1)
	require.Equal(t, last, adapter.searches[0][0], "window starts at the stored cursor")
}

func TestWindowFirstSyncUsesLookback(t *testing.T) {
	adapter := &fakeAdapter{records: map[string][]models.VideoRecord{}}
	svc := NewService(&fakeFactory{adapter: adapter}, newFakeDownloads(), newMemCursors(), t.TempDir(), 1, nil)

	_, err := svc.Run(context.Background(), testSource())
	require.NoError(t, err)

	require.Len(t, adapter.searches, 1)
	window := adapter.searches[0]
	require.Equal(t, defaultLookback, window[1].Sub(window[0]))
}

func TestDestPathKeepsExtensionAndLayout(t *testing.T) {
	base := time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC)
	adapter := &fakeAdapter{records: map[string][]models.VideoRecord{
		"/cams": {record("/cams/clip.AVI", base)},
	}}
	downloads := newFakeDownloads()
	videoDir := t.TempDir()
	svc := NewService(&fakeFactory{adapter: adapter}, downloads, newMemCursors(), videoDir, 1, nil)

	source := testSource()
	source.From = base

	_, err := svc.Run(context.Background(), source)
	require.NoError(t, err)

	path := downloads.paths["/cams/clip.AVI"]
	require.True(t, strings.HasPrefix(path, filepath.Join(videoDir, "dropbox", "warehouse", "2024", "03", "05")))
	require.True(t, strings.HasSuffix(path, ".avi"))
	require.Contains(t, path, "20240305T093000Z_")
}

func TestRunRejectsInvalidSource(t *testing.T) {
	svc := NewService(&fakeFactory{}, newFakeDownloads(), newMemCursors(), t.TempDir(), 1, nil)
	_, err := svc.Run(context.Background(), &models.SourceConfig{ID: "x"})
	require.Error(t, err)
}
