// Package download streams provider recordings to local storage. Every
// completed file is recorded in the ledger; a record already in the
// ledger is never fetched again, even across process restarts.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/warewatch/camsync/internal/common"
	"github.com/warewatch/camsync/internal/interfaces"
	"github.com/warewatch/camsync/internal/models"
)

// partSuffix marks in-flight downloads. A .part file is never picked up
// by anything reading the video directory.
const partSuffix = ".part"

// Service implements the download orchestrator.
type Service struct {
	ledger interfaces.LedgerStorage
	policy RetryPolicy
	locks  *common.KeyedMutex
	logger arbor.ILogger
}

// NewService creates a download service writing ledger entries through
// the given storage.
func NewService(ledger interfaces.LedgerStorage, policy RetryPolicy, logger arbor.ILogger) *Service {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &Service{
		ledger: ledger,
		policy: policy,
		locks:  common.NewKeyedMutex(),
		logger: logger,
	}
}

// Fetch downloads one record to destPath. The per-record lock means two
// concurrent fetches of the same record result in one download and one
// skip, never a corrupted file.
func (s *Service) Fetch(ctx context.Context, adapter interfaces.ProviderAdapter, rec *models.VideoRecord, destPath string) (*models.DownloadResult, error) {
	started := time.Now()

	key := models.LedgerKey(rec.Provider, rec.ID)
	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	if entry, err := s.ledger.GetEntry(ctx, rec.Provider, rec.ID); err == nil {
		result := &models.DownloadResult{
			Provider: rec.Provider,
			RecordID: rec.ID,
			Path:     entry.Path,
			SHA256:   entry.SHA256,
			Skipped:  true,
			Duration: time.Since(started),
		}
		return result, fmt.Errorf("%s: %w", key, interfaces.ErrAlreadyDownloaded)
	} else if !errors.Is(err, interfaces.ErrLedgerNotFound) {
		return nil, fmt.Errorf("ledger lookup failed for %s: %w", key, err)
	}

	var lastErr error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		bytesCopied, digest, err := s.downloadOnce(ctx, adapter, rec, destPath)
		if err == nil {
			entry := &models.LedgerEntry{
				Provider:    rec.Provider,
				RecordID:    rec.ID,
				SHA256:      digest,
				Path:        destPath,
				SizeBytes:   bytesCopied,
				CompletedAt: time.Now().UTC(),
			}
			if err := s.ledger.SaveEntry(ctx, entry); err != nil {
				// File is in place but unrecorded; the next sync re-fetches
				// it, which is wasteful but safe.
				return nil, fmt.Errorf("failed to record download of %s: %w", key, err)
			}

			if s.logger != nil {
				s.logger.Info().
					Str("provider", string(rec.Provider)).
					Str("record", rec.ID).
					Int64("bytes", bytesCopied).
					Msg("Download complete")
			}

			return &models.DownloadResult{
				Provider:    rec.Provider,
				RecordID:    rec.ID,
				Path:        destPath,
				BytesCopied: bytesCopied,
				SHA256:      digest,
				Duration:    time.Since(started),
			}, nil
		}

		lastErr = err
		if !interfaces.IsTransient(err) || attempt == s.policy.MaxAttempts {
			break
		}

		delay := s.policy.Delay(attempt)
		if s.logger != nil {
			s.logger.Warn().
				Str("provider", string(rec.Provider)).
				Str("record", rec.ID).
				Int("attempt", attempt).
				Err(err).
				Msgf("Download failed, retrying in %s", delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, lastErr
}

// downloadOnce performs a single attempt: stream to a temp file, verify
// the size, then rename into place. On any failure the temp file is
// removed; destPath is only ever a complete file.
func (s *Service) downloadOnce(ctx context.Context, adapter interfaces.ProviderAdapter, rec *models.VideoRecord, destPath string) (int64, string, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return 0, "", s.permanent(rec, fmt.Errorf("failed to create destination directory: %w", err))
	}

	stream, expectedSize, err := adapter.OpenDownloadStream(ctx, rec)
	if err != nil {
		return 0, "", s.classify(rec, err)
	}
	defer stream.Close()

	tmpPath := destPath + partSuffix
	tmp, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, "", s.permanent(rec, fmt.Errorf("failed to create temp file: %w", err))
	}

	hasher := sha256.New()
	bytesCopied, copyErr := io.Copy(io.MultiWriter(tmp, hasher), stream)
	closeErr := tmp.Close()

	if copyErr != nil {
		os.Remove(tmpPath)
		if errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return 0, "", copyErr
		}
		return 0, "", s.transient(rec, fmt.Errorf("stream copy failed after %d bytes: %w", bytesCopied, copyErr))
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return 0, "", s.transient(rec, fmt.Errorf("failed to flush temp file: %w", closeErr))
	}

	if expectedSize > 0 && bytesCopied != expectedSize {
		os.Remove(tmpPath)
		return 0, "", s.transient(rec, fmt.Errorf("size mismatch: got %d bytes, expected %d", bytesCopied, expectedSize))
	}
	if rec.SizeBytes != nil && *rec.SizeBytes > 0 && bytesCopied != *rec.SizeBytes {
		os.Remove(tmpPath)
		return 0, "", s.transient(rec, fmt.Errorf("size mismatch: got %d bytes, record reports %d", bytesCopied, *rec.SizeBytes))
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return 0, "", s.permanent(rec, fmt.Errorf("failed to move download into place: %w", err))
	}

	return bytesCopied, hex.EncodeToString(hasher.Sum(nil)), nil
}

// classify maps an adapter error to a retry class. Rate limits and
// outages are transient; a record the provider no longer has, or an
// authorization failure, will not improve with retries.
func (s *Service) classify(rec *models.VideoRecord, err error) error {
	var pe *interfaces.ProviderError
	if errors.As(err, &pe) {
		if pe.StatusCode == http.StatusNotFound || pe.Kind == interfaces.PermissionDenied {
			return s.permanent(rec, err)
		}
		return s.transient(rec, err)
	}
	return s.transient(rec, err)
}

func (s *Service) transient(rec *models.VideoRecord, err error) error {
	return &interfaces.DownloadError{Provider: rec.Provider, RecordID: rec.ID, Transient: true, Err: err}
}

func (s *Service) permanent(rec *models.VideoRecord, err error) error {
	return &interfaces.DownloadError{Provider: rec.Provider, RecordID: rec.ID, Transient: false, Err: err}
}

// Ensure interface compliance
var _ interfaces.DownloadService = (*Service)(nil)
