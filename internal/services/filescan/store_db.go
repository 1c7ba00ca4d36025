// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
	"github.com/civitools/fileanalyzer/internal/models"
)

// DBStore persists scan results in the analyzer tables. This is the
// default backend.
type DBStore struct {
	db        dbinterface.TxBeginner
	files     *models.FileStore
	refs      *models.ReferenceStore
	scans     *models.ScanStore
	deletions *models.DeletionStore
}

func NewDBStore(db dbinterface.TxBeginner) *DBStore {
	return &DBStore{
		db:        db,
		files:     models.NewFileStore(db),
		refs:      models.NewReferenceStore(db),
		scans:     models.NewScanStore(db),
		deletions: models.NewDeletionStore(db),
	}
}

func (s *DBStore) AcquireScan(ctx context.Context, category, runUID string) (int64, error) {
	return s.scans.StartIfIdle(ctx, category, runUID)
}

// CommitResults writes every result and its reference set in a single
// transaction, then deactivates records whose file was not seen by this
// run. Either the whole run lands or none of it does.
func (s *DBStore) CommitResults(ctx context.Context, scanID int64, category string, startedAt time.Time, files []*FileResult) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scan commit: %w", err)
	}
	defer tx.Rollback()

	txFiles := models.NewFileStore(tx)
	txRefs := models.NewReferenceStore(tx)

	now := time.Now()
	for _, f := range files {
		rec := &models.FileRecord{
			Filename:        f.Filename,
			FilePath:        f.RelPath,
			DirectoryType:   category,
			FileSize:        f.Size,
			FileExt:         f.Extension,
			MimeType:        f.MimeType,
			ModifiedDate:    &f.Modified,
			LastScannedDate: &now,
			IsAbandoned:     f.Abandoned(),
			ScanStatus:      models.FileStatusScanned,
		}
		if f.Resolution != nil {
			rec.CiviFileID = f.Resolution.CiviFileID
			rec.IsContactImage = f.Resolution.IsContactImage
			rec.ContactID = f.Resolution.ContactID
		}

		if err := txFiles.Upsert(ctx, rec); err != nil {
			return err
		}
		f.RecordID = rec.ID

		var refs []models.Reference
		if f.Resolution != nil {
			refs = f.Resolution.References
		}
		if err := txRefs.Replace(ctx, rec.ID, refs); err != nil {
			return err
		}
	}

	gone, err := txFiles.MarkMissingInactive(ctx, category, startedAt)
	if err != nil {
		return err
	}
	if gone > 0 {
		log.Debug().Int64("count", gone).Str("directory", category).
			Msg("deactivated records for files no longer on disk")
	}

	return tx.Commit()
}

func (s *DBStore) CompleteScan(ctx context.Context, scanID int64, totals models.ScanTotals, duration time.Duration, statsJSON string) error {
	return s.scans.Complete(ctx, scanID, totals, duration, statsJSON)
}

func (s *DBStore) FailScan(ctx context.Context, scanID int64, message string) error {
	return s.scans.Fail(ctx, scanID, message)
}

func (s *DBStore) LatestScan(ctx context.Context, category string) (*models.ScanRecord, error) {
	return s.scans.Latest(ctx, category)
}

func (s *DBStore) AbandonedFiles(ctx context.Context, category string, limit int) ([]*models.FileRecord, error) {
	return s.files.Abandoned(ctx, category, limit)
}

func (s *DBStore) FileWithReferences(ctx context.Context, fileID int64) (*models.FileRecord, []models.Reference, error) {
	rec, err := s.files.GetByID(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	if rec == nil {
		return nil, nil, ErrFileNotFound
	}

	refs, err := s.refs.ByFile(ctx, fileID)
	if err != nil {
		return nil, nil, err
	}
	return rec, refs, nil
}

func (s *DBStore) MarkFileDeleted(ctx context.Context, fileID int64) error {
	return s.files.MarkDeleted(ctx, fileID)
}

func (s *DBStore) RecordDeletion(ctx context.Context, rec *models.DeletionRecord) error {
	return s.deletions.Record(ctx, rec)
}
