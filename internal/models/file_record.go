// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package models contains the file analyzer entities and their SQL stores.
package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
)

// Scan statuses of an individual tracked file.
const (
	FileStatusPending = "pending"
	FileStatusScanned = "scanned"
	FileStatusDeleted = "deleted"
	FileStatusError   = "error"
)

// FileRecord is one row per physical file tracked across scans.
// (FilePath, DirectoryType) is unique; re-scans update the existing row.
type FileRecord struct {
	ID              int64      `json:"id"`
	Filename        string     `json:"filename"`
	FilePath        string     `json:"filePath"` // relative to the category root
	DirectoryType   string     `json:"directoryType"`
	FileSize        int64      `json:"fileSize"`
	FileExt         string     `json:"fileExt"`
	MimeType        string     `json:"mimeType"`
	CreatedDate     time.Time  `json:"createdDate"`
	ModifiedDate    *time.Time `json:"modifiedDate,omitempty"`
	LastScannedDate *time.Time `json:"lastScannedDate,omitempty"`
	IsAbandoned     bool       `json:"isAbandoned"`
	IsActive        bool       `json:"isActive"`
	CiviFileID      *int64     `json:"civicrmFileId,omitempty"`
	IsContactImage  bool       `json:"isContactImage"`
	ContactID       *int64     `json:"contactId,omitempty"`
	ScanStatus      string     `json:"scanStatus"`
}

// FileStatistics is the rollup over active FileRecords of one category.
type FileStatistics struct {
	TotalFiles     int   `json:"totalFiles"`
	ActiveFiles    int   `json:"activeFiles"`
	AbandonedFiles int   `json:"abandonedFiles"`
	TotalSize      int64 `json:"totalSize"`
	AbandonedSize  int64 `json:"abandonedSize"`
}

// FileStore handles database operations for FileRecords.
type FileStore struct {
	db dbinterface.Querier
}

func NewFileStore(db dbinterface.Querier) *FileStore {
	return &FileStore{db: db}
}

const fileColumns = `
	id, filename, file_path, directory_type, file_size, file_ext, mime_type,
	created_date, modified_date, last_scanned_date, is_abandoned, is_active,
	civicrm_file_id, is_contact_image, contact_id, scan_status`

// Upsert inserts the record or, when (file_path, directory_type) already
// exists, refreshes the size, timestamps and usage fields. The record ID is
// filled in either way.
func (s *FileStore) Upsert(ctx context.Context, f *FileRecord) error {
	if f == nil {
		return errors.New("file record is nil")
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO file_analyzer_files
			(filename, file_path, directory_type, file_size, file_ext, mime_type,
			 modified_date, last_scanned_date, is_abandoned, is_active,
			 civicrm_file_id, is_contact_image, contact_id, scan_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?)
		ON CONFLICT (file_path, directory_type) DO UPDATE SET
			filename = excluded.filename,
			file_size = excluded.file_size,
			file_ext = excluded.file_ext,
			mime_type = excluded.mime_type,
			modified_date = excluded.modified_date,
			last_scanned_date = excluded.last_scanned_date,
			is_abandoned = excluded.is_abandoned,
			is_active = 1,
			civicrm_file_id = excluded.civicrm_file_id,
			is_contact_image = excluded.is_contact_image,
			contact_id = excluded.contact_id,
			scan_status = excluded.scan_status
		RETURNING id
	`,
		f.Filename, f.FilePath, f.DirectoryType, f.FileSize, f.FileExt, f.MimeType,
		nullTime(derefTime(f.ModifiedDate)), nullTime(derefTime(f.LastScannedDate)),
		boolToInt(f.IsAbandoned), nullInt64(f.CiviFileID),
		boolToInt(f.IsContactImage), nullInt64(f.ContactID), f.ScanStatus)

	if err := row.Scan(&f.ID); err != nil {
		return fmt.Errorf("upsert file record %s: %w", f.FilePath, err)
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// GetByID returns the record, or nil when it does not exist.
func (s *FileStore) GetByID(ctx context.Context, id int64) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+fileColumns+`
		FROM file_analyzer_files WHERE id = ?`, id)
	return s.scanRow(row)
}

// GetByPath returns the record for a (relative path, category) pair, or nil.
func (s *FileStore) GetByPath(ctx context.Context, filePath, directoryType string) (*FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+fileColumns+`
		FROM file_analyzer_files WHERE file_path = ? AND directory_type = ?`, filePath, directoryType)
	return s.scanRow(row)
}

// Abandoned lists active abandoned records for a category, newest first.
// limit <= 0 means no limit.
func (s *FileStore) Abandoned(ctx context.Context, directoryType string, limit int) ([]*FileRecord, error) {
	query := `SELECT` + fileColumns + `
		FROM file_analyzer_files
		WHERE is_abandoned = 1 AND is_active = 1 AND directory_type = ?
		ORDER BY modified_date DESC`
	args := []any{directoryType}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query abandoned files: %w", err)
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		rec, err := s.scanRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkMissingInactive deactivates records of one category that were not
// refreshed by the scan that started at scanStart: their file is no longer
// on disk.
func (s *FileStore) MarkMissingInactive(ctx context.Context, directoryType string, scanStart time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE file_analyzer_files
		SET is_active = 0
		WHERE directory_type = ?
		  AND is_active = 1
		  AND (last_scanned_date IS NULL OR last_scanned_date < ?)
	`, directoryType, scanStart)
	if err != nil {
		return 0, fmt.Errorf("mark missing files inactive: %w", err)
	}
	return res.RowsAffected()
}

// MarkDeleted records that the physical file has been removed.
func (s *FileStore) MarkDeleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_analyzer_files
		SET is_active = 0, scan_status = ?
		WHERE id = ?
	`, FileStatusDeleted, id)
	if err != nil {
		return fmt.Errorf("mark file record %d deleted: %w", id, err)
	}
	return nil
}

// Statistics aggregates active records for a category.
func (s *FileStore) Statistics(ctx context.Context, directoryType string) (*FileStatistics, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_abandoned = 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_abandoned = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(file_size), 0),
			COALESCE(SUM(CASE WHEN is_abandoned = 1 THEN file_size ELSE 0 END), 0)
		FROM file_analyzer_files
		WHERE is_active = 1 AND directory_type = ?
	`, directoryType)

	var st FileStatistics
	if err := row.Scan(&st.TotalFiles, &st.ActiveFiles, &st.AbandonedFiles, &st.TotalSize, &st.AbandonedSize); err != nil {
		return nil, fmt.Errorf("query file statistics: %w", err)
	}
	return &st, nil
}

func (s *FileStore) scanRow(row *sql.Row) (*FileRecord, error) {
	rec, err := scanFileRecord(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *FileStore) scanRows(rows *sql.Rows) (*FileRecord, error) {
	return scanFileRecord(rows.Scan)
}

func scanFileRecord(scan func(dest ...any) error) (*FileRecord, error) {
	var (
		rec        FileRecord
		modified   sql.NullTime
		scanned    sql.NullTime
		civiFileID sql.NullInt64
		contactID  sql.NullInt64
	)

	err := scan(
		&rec.ID, &rec.Filename, &rec.FilePath, &rec.DirectoryType,
		&rec.FileSize, &rec.FileExt, &rec.MimeType,
		&rec.CreatedDate, &modified, &scanned,
		&rec.IsAbandoned, &rec.IsActive,
		&civiFileID, &rec.IsContactImage, &contactID, &rec.ScanStatus,
	)
	if err != nil {
		return nil, err
	}

	rec.ModifiedDate = timePtr(modified)
	rec.LastScannedDate = timePtr(scanned)
	rec.CiviFileID = int64Ptr(civiFileID)
	rec.ContactID = int64Ptr(contactID)
	return &rec, nil
}
