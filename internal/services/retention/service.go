// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package retention deletes abandoned files with backup and audit
// guarantees, and prunes analyzer history.
package retention

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/civitools/fileanalyzer/internal/domain"
	"github.com/civitools/fileanalyzer/internal/metrics"
	"github.com/civitools/fileanalyzer/internal/models"
	"github.com/civitools/fileanalyzer/internal/services/filescan"
)

// ErrFileInUse rejects deletion of a file that still has active
// references. Deleting a referenced file would break the records pointing
// at it.
var ErrFileInUse = errors.New("file is still referenced and cannot be deleted")

// ErrBackupFailed indicates the pre-delete backup could not be written.
// The original file is left untouched in that case.
var ErrBackupFailed = errors.New("backup failed, file not deleted")

// backupSubdir under the backup root where copies of deleted files go.
const backupSubdir = "deleted_files"

// Store is the slice of the results backend the retention service needs.
// Satisfied by filescan.Store.
type Store interface {
	FileWithReferences(ctx context.Context, fileID int64) (*models.FileRecord, []models.Reference, error)
	MarkFileDeleted(ctx context.Context, fileID int64) error
	RecordDeletion(ctx context.Context, rec *models.DeletionRecord) error
	AbandonedFiles(ctx context.Context, category string, limit int) ([]*models.FileRecord, error)
}

// Config is the deletion-relevant slice of the application configuration.
type Config struct {
	Roots              map[string]string
	BackupDir          string
	BackupBeforeDelete bool
}

// Service performs guarded deletions. Every successful deletion leaves an
// audit row; a failed unlink or backup leaves none.
type Service struct {
	cfg     Config
	store   Store
	scans   *models.ScanStore     // nil with flat-file persistence
	history *models.DeletionStore // nil with flat-file persistence
	metrics *metrics.Collector
}

func NewService(cfg Config, store Store, scans *models.ScanStore, history *models.DeletionStore, collector *metrics.Collector) *Service {
	return &Service{
		cfg:     cfg,
		store:   store,
		scans:   scans,
		history: history,
		metrics: collector,
	}
}

// removal carries everything needed to delete one file and record it.
type removal struct {
	absPath  string
	recordID int64
	backup   bool
	rec      models.DeletionRecord
}

// DeleteAbandoned removes the abandoned files of a finished scan whose
// last modification predates the cutoff. Individual failures are logged
// and skipped so one stubborn file does not keep the rest alive. Returns
// the number of files actually removed.
func (s *Service) DeleteAbandoned(ctx context.Context, category string, cutoff time.Time, files []*filescan.FileResult) (int, error) {
	deleted := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if !f.Abandoned() || !f.Modified.Before(cutoff) {
			continue
		}

		err := s.remove(ctx, removal{
			absPath:  f.AbsPath,
			recordID: f.RecordID,
			backup:   s.cfg.BackupBeforeDelete,
			rec: models.DeletionRecord{
				FileID:         recordIDPtr(f.RecordID),
				Filename:       f.Filename,
				FilePath:       f.RelPath,
				DirectoryType:  f.Category,
				FileSize:       f.Size,
				FileExt:        f.Extension,
				DeletionMethod: models.DeleteMethodAuto,
				DeletionReason: fmt.Sprintf("abandoned and unmodified since %s", cutoff.Format("2006-01-02")),
				WasAbandoned:   true,
			},
		})
		if err != nil {
			log.Warn().Err(err).Str("path", f.AbsPath).Msg("auto delete skipped file")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// DeleteOne removes a single tracked file by ID. Files with active
// references are refused with ErrFileInUse regardless of what the caller
// believes about them. backup overrides the configured backup policy for
// this one deletion.
func (s *Service) DeleteOne(ctx context.Context, fileID int64, backup bool, reason, deletedBy string) error {
	rec, refs, err := s.store.FileWithReferences(ctx, fileID)
	if err != nil {
		return err
	}
	if len(refs) > 0 || !rec.IsAbandoned {
		return ErrFileInUse
	}

	root, ok := s.cfg.Roots[rec.DirectoryType]
	if !ok {
		return fmt.Errorf("no directory configured for category %q", rec.DirectoryType)
	}

	return s.remove(ctx, removal{
		absPath:  filepath.Join(root, rec.FilePath),
		recordID: rec.ID,
		backup:   backup,
		rec: models.DeletionRecord{
			FileID:         &rec.ID,
			Filename:       rec.Filename,
			FilePath:       rec.FilePath,
			DirectoryType:  rec.DirectoryType,
			FileSize:       rec.FileSize,
			FileExt:        rec.FileExt,
			DeletionMethod: models.DeleteMethodManual,
			DeletionReason: reason,
			DeletedBy:      deletedBy,
			WasAbandoned:   rec.IsAbandoned,
		},
	})
}

// BulkDeleteAbandoned removes every currently abandoned file of a
// category, up to limit. Returns the number removed.
func (s *Service) BulkDeleteAbandoned(ctx context.Context, category string, limit int, deletedBy string) (int, error) {
	if !domain.ValidCategory(category) {
		return 0, fmt.Errorf("unknown directory category %q", category)
	}

	root, ok := s.cfg.Roots[category]
	if !ok {
		return 0, fmt.Errorf("no directory configured for category %q", category)
	}

	files, err := s.store.AbandonedFiles(ctx, category, limit)
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, rec := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}

		err := s.remove(ctx, removal{
			absPath:  filepath.Join(root, rec.FilePath),
			recordID: rec.ID,
			backup:   s.cfg.BackupBeforeDelete,
			rec: models.DeletionRecord{
				FileID:         recordIDPtr(rec.ID),
				Filename:       rec.Filename,
				FilePath:       rec.FilePath,
				DirectoryType:  rec.DirectoryType,
				FileSize:       rec.FileSize,
				FileExt:        rec.FileExt,
				DeletionMethod: models.DeleteMethodBulk,
				DeletedBy:      deletedBy,
				WasAbandoned:   true,
			},
		})
		if err != nil {
			log.Warn().Err(err).Str("path", rec.FilePath).Msg("bulk delete skipped file")
			continue
		}
		deleted++
	}
	return deleted, nil
}

// remove deletes one file: backup first when configured, then unlink, then
// bookkeeping. Ordering matters: no audit row is written unless the unlink
// succeeded, and nothing is unlinked unless the backup succeeded.
func (s *Service) remove(ctx context.Context, r removal) error {
	if r.backup {
		backupPath, err := s.backupFile(r.absPath, r.rec.Filename)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackupFailed, err)
		}
		r.rec.BackupPath = backupPath
	}

	if err := os.Remove(r.absPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unlink %s: %w", r.absPath, err)
	}

	s.removeDerivedAssets(r)

	if r.recordID > 0 {
		if err := s.store.MarkFileDeleted(ctx, r.recordID); err != nil && !errors.Is(err, filescan.ErrNotSupported) {
			log.Error().Err(err).Int64("fileId", r.recordID).Msg("could not mark file record deleted")
		}
	}

	if err := s.store.RecordDeletion(ctx, &r.rec); err != nil {
		log.Error().Err(err).Str("path", r.rec.FilePath).Msg("could not write deletion audit record")
	}

	s.metrics.DeletionRecorded(r.rec.DeletionMethod, 1)

	log.Info().
		Str("path", r.absPath).
		Str("method", r.rec.DeletionMethod).
		Str("backup", r.rec.BackupPath).
		Msg("deleted file")
	return nil
}

// removeDerivedAssets cleans up resized copies of public images, which
// live in static and thumbs directories next to the original. Best effort.
func (s *Service) removeDerivedAssets(r removal) {
	if r.rec.DirectoryType != domain.CategoryContribute {
		return
	}

	dir := filepath.Dir(r.absPath)
	base := strings.TrimSuffix(r.rec.Filename, filepath.Ext(r.rec.Filename))
	for _, sub := range []string{"static", "thumbs"} {
		matches, err := filepath.Glob(filepath.Join(dir, sub, base+".*"))
		if err != nil {
			continue
		}
		for _, m := range matches {
			if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", m).Msg("could not remove derived asset")
			}
		}
	}
}

// backupFile copies the file into the backup area under a timestamped
// name and verifies the copied length before reporting success.
func (s *Service) backupFile(absPath, filename string) (string, error) {
	dir := filepath.Join(s.cfg.BackupDir, backupSubdir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create backup directory: %w", err)
	}
	if err := ensureHtaccess(s.cfg.BackupDir); err != nil {
		return "", err
	}

	src, err := os.Open(absPath)
	if err != nil {
		return "", fmt.Errorf("open source: %w", err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", fmt.Errorf("stat source: %w", err)
	}

	backupPath := filepath.Join(dir, time.Now().Format("2006-01-02_15-04-05")+"_"+filename)
	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create backup: %w", err)
	}

	written, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && written != info.Size() {
		err = fmt.Errorf("short copy: %d of %d bytes", written, info.Size())
	}
	if err != nil {
		os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}

// ensureHtaccess keeps the backup root unservable when it sits under a
// web root.
func ensureHtaccess(dir string) error {
	path := filepath.Join(dir, ".htaccess")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte("Order deny,allow\nDeny from all\n"), 0o644)
}

// CleanupHistory purges scan history and deletion audit rows older than
// the retention window, along with their on-disk backup copies. Requires
// database persistence.
func (s *Service) CleanupHistory(ctx context.Context, olderThan time.Duration, withBackupsOnly bool) (scans, deletions int64, err error) {
	if s.scans == nil || s.history == nil {
		return 0, 0, filescan.ErrNotSupported
	}

	cutoff := time.Now().Add(-olderThan)

	oldDeletions, err := s.history.Recent(ctx, time.Time{}, 0)
	if err != nil {
		return 0, 0, err
	}
	for _, d := range oldDeletions {
		if d.DeletedDate.After(cutoff) || d.BackupPath == "" {
			continue
		}
		if err := os.Remove(d.BackupPath); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", d.BackupPath).Msg("could not remove expired backup")
		}
	}

	scans, err = s.scans.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}
	deletions, err = s.history.PurgeOlderThan(ctx, cutoff, withBackupsOnly)
	if err != nil {
		return scans, 0, err
	}

	log.Info().
		Int64("scans", scans).
		Int64("deletions", deletions).
		Time("cutoff", cutoff).
		Msg("pruned analyzer history")
	return scans, deletions, nil
}

func recordIDPtr(id int64) *int64 {
	if id <= 0 {
		return nil
	}
	return &id
}
