// Package sync coordinates one pass over a configured video source:
// resolve the adapter, search each container for new recordings, and
// fan the results out to the download service.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/sync/errgroup"

	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// defaultLookback bounds the first sync of a source that has no cursor
// yet, so a fresh install does not try to pull years of footage.
const defaultLookback = 24 * time.Hour

// AdapterFactory resolves the provider adapter for a source.
type AdapterFactory interface {
	ForSource(ctx context.Context, source *models.SourceConfig) (interfaces.ProviderAdapter, error)
}

// Service implements the sync coordinator.
type Service struct {
	factory     AdapterFactory
	downloads   interfaces.DownloadService
	cursors     interfaces.CursorStorage
	videoDir    string
	concurrency int
	logger      arbor.ILogger
	now         func() time.Time
}

// NewService creates a sync coordinator. Downloads within one run are
// bounded by concurrency.
func NewService(factory AdapterFactory, downloads interfaces.DownloadService, cursors interfaces.CursorStorage, videoDir string, concurrency int, logger arbor.ILogger) *Service {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Service{
		factory:     factory,
		downloads:   downloads,
		cursors:     cursors,
		videoDir:    videoDir,
		concurrency: concurrency,
		logger:      logger,
		now:         time.Now,
	}
}

// Run performs one sync pass over the source. The cursor advances only
// when every found record downloaded or was already ledgered; a run with
// failures leaves the cursor alone so the next pass re-covers the window.
func (s *Service) Run(ctx context.Context, source *models.SourceConfig) (*models.SyncReport, error) {
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("invalid source: %w", err)
	}

	started := s.now()
	runID := common.NewSyncRunID()

	adapter, err := s.factory.ForSource(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve adapter for source %s: %w", source.ID, err)
	}

	from, to, err := s.window(ctx, source)
	if err != nil {
		return nil, err
	}

	if s.logger != nil {
		s.logger.Info().
			Str("run", runID).
			Str("source", source.ID).
			Str("provider", string(source.Provider)).
			Msgf("Sync window %s to %s", from.Format(time.RFC3339), to.Format(time.RFC3339))
	}

	var records []models.VideoRecord
	for _, container := range source.Containers {
		found, err := adapter.SearchVideos(ctx, container, from, to)
		if err != nil {
			return nil, fmt.Errorf("search failed for source %s container %s: %w", source.ID, container.ID, err)
		}
		records = append(records, found...)
	}

	// Providers do not guarantee ordering; process oldest first so an
	// interrupted run leaves a contiguous downloaded prefix.
	sort.Slice(records, func(i, j int) bool {
		return records[i].StartTime.Before(records[j].StartTime)
	})

	var downloaded, skipped, failed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)
	for i := range records {
		rec := &records[i]
		group.Go(func() error {
			_, err := s.downloads.Fetch(groupCtx, adapter, rec, s.destPath(source, rec))
			switch {
			case err == nil:
				downloaded.Add(1)
			case errors.Is(err, interfaces.ErrAlreadyDownloaded):
				skipped.Add(1)
			case errors.Is(err, context.Canceled):
				return err
			default:
				failed.Add(1)
				if s.logger != nil {
					s.logger.Warn().Str("run", runID).Str("record", rec.ID).Err(err).Msg("Record failed")
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	report := &models.SyncReport{
		SourceID:   source.ID,
		RunID:      runID,
		Found:      len(records),
		Downloaded: int(downloaded.Load()),
		Skipped:    int(skipped.Load()),
		Failed:     int(failed.Load()),
		Window:     [2]time.Time{from, to},
		Duration:   s.now().Sub(started),
	}

	if report.Failed == 0 {
		if err := s.cursors.SaveCursor(ctx, source.ID, to); err != nil {
			return report, fmt.Errorf("sync succeeded but cursor save failed for %s: %w", source.ID, err)
		}
	}

	if s.logger != nil {
		s.logger.Info().
			Str("run", runID).
			Str("source", source.ID).
			Int("found", report.Found).
			Int("downloaded", report.Downloaded).
			Int("skipped", report.Skipped).
			Int("failed", report.Failed).
			Msg("Sync complete")
	}

	return report, nil
}

// window resolves the time range to cover. An explicit From on the
// source wins; otherwise the stored cursor, falling back to a bounded
// lookback for sources that have never synced.
func (s *Service) window(ctx context.Context, source *models.SourceConfig) (time.Time, time.Time, error) {
	to := source.To
	if to.IsZero() {
		to = s.now().UTC()
	}

	if !source.From.IsZero() {
		return source.From, to, nil
	}

	cursor, err := s.cursors.GetCursor(ctx, source.ID)
	if err != nil {
		if errors.Is(err, interfaces.ErrCursorNotFound) {
			return to.Add(-defaultLookback), to, nil
		}
		return time.Time{}, time.Time{}, fmt.Errorf("failed to load cursor for %s: %w", source.ID, err)
	}

	return cursor.LastSync, to, nil
}

// destPath builds the local path for a record:
// <videoDir>/<provider>/<sourceID>/<yyyy/mm/dd>/<start>_<idhash><ext>.
// Record identifiers are provider-native strings (paths, playback URIs)
// and are hashed rather than embedded.
func (s *Service) destPath(source *models.SourceConfig, rec *models.VideoRecord) string {
	sum := sha256.Sum256([]byte(rec.ID))
	name := rec.StartTime.UTC().Format("20060102T150405Z") + "_" + hex.EncodeToString(sum[:6]) + extension(rec.ID)

	return filepath.Join(
		s.videoDir,
		string(rec.Provider),
		source.ID,
		rec.StartTime.UTC().Format("2006/01/02"),
		name,
	)
}

// extension keeps the original extension when the record id is a file
// path; device recordings default to .mp4.
func extension(recordID string) string {
	ext := filepath.Ext(recordID)
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "/?&=:") {
		return ".mp4"
	}
	return strings.ToLower(ext)
}

// Ensure interface compliance
var _ interfaces.SyncService = (*Service)(nil)
