// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
)

// Deletion methods recorded in the audit trail.
const (
	DeleteMethodManual    = "manual"
	DeleteMethodAuto      = "auto"
	DeleteMethodBulk      = "bulk"
	DeleteMethodScheduled = "scheduled"
	DeleteMethodCleanup   = "cleanup"
)

// DeletionRecord is one row of the append-only deletion audit log.
type DeletionRecord struct {
	ID             int64     `json:"id"`
	FileID         *int64    `json:"fileId,omitempty"` // nil once the file record is purged
	Filename       string    `json:"filename"`
	FilePath       string    `json:"filePath"`
	DirectoryType  string    `json:"directoryType"`
	FileSize       int64     `json:"fileSize"`
	FileExt        string    `json:"fileExt"`
	BackupPath     string    `json:"backupPath,omitempty"`
	DeletionMethod string    `json:"deletionMethod"`
	DeletionReason string    `json:"deletionReason,omitempty"`
	DeletedBy      string    `json:"deletedBy,omitempty"`
	DeletedDate    time.Time `json:"deletedDate"`
	WasAbandoned   bool      `json:"wasAbandoned"`
}

// MethodStats aggregates deletions of one method.
type MethodStats struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"totalSize"`
}

// DeletionStore handles database operations for the deletion audit log.
type DeletionStore struct {
	db dbinterface.Querier
}

func NewDeletionStore(db dbinterface.Querier) *DeletionStore {
	return &DeletionStore{db: db}
}

// Record appends a deletion to the audit log and fills in the record ID.
func (s *DeletionStore) Record(ctx context.Context, d *DeletionRecord) error {
	if d == nil {
		return errors.New("deletion record is nil")
	}
	if d.DeletedDate.IsZero() {
		d.DeletedDate = time.Now()
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_analyzer_deletions
			(file_id, filename, file_path, directory_type, file_size, file_ext,
			 backup_path, deletion_method, deletion_reason, deleted_by,
			 deleted_date, was_abandoned)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullInt64(d.FileID), d.Filename, d.FilePath, d.DirectoryType, d.FileSize,
		d.FileExt, nullString(d.BackupPath), d.DeletionMethod,
		nullString(d.DeletionReason), nullString(d.DeletedBy), d.DeletedDate,
		boolToInt(d.WasAbandoned))
	if err != nil {
		return fmt.Errorf("insert deletion record: %w", err)
	}

	d.ID, err = res.LastInsertId()
	return err
}

// Recent lists deletions since the given time, newest first.
func (s *DeletionStore) Recent(ctx context.Context, since time.Time, limit int) ([]*DeletionRecord, error) {
	query := `
		SELECT id, file_id, filename, file_path, directory_type, file_size,
		       file_ext, COALESCE(backup_path, ''), deletion_method,
		       COALESCE(deletion_reason, ''), COALESCE(deleted_by, ''),
		       deleted_date, was_abandoned
		FROM file_analyzer_deletions
		WHERE deleted_date >= ?
		ORDER BY deleted_date DESC`
	args := []any{since}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent deletions: %w", err)
	}
	defer rows.Close()

	var out []*DeletionRecord
	for rows.Next() {
		var (
			rec    DeletionRecord
			fileID sql.NullInt64
		)
		if err := rows.Scan(
			&rec.ID, &fileID, &rec.Filename, &rec.FilePath,
			&rec.DirectoryType, &rec.FileSize, &rec.FileExt, &rec.BackupPath,
			&rec.DeletionMethod, &rec.DeletionReason, &rec.DeletedBy,
			&rec.DeletedDate, &rec.WasAbandoned,
		); err != nil {
			return nil, err
		}
		rec.FileID = int64Ptr(fileID)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// StatsByMethod groups the audit log by deletion method, optionally
// filtered to one category.
func (s *DeletionStore) StatsByMethod(ctx context.Context, directoryType string) (map[string]MethodStats, error) {
	query := `
		SELECT deletion_method, COUNT(*), COALESCE(SUM(file_size), 0)
		FROM file_analyzer_deletions`
	var args []any
	if directoryType != "" {
		query += ` WHERE directory_type = ?`
		args = append(args, directoryType)
	}
	query += ` GROUP BY deletion_method`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query deletion stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]MethodStats)
	for rows.Next() {
		var (
			method string
			st     MethodStats
		)
		if err := rows.Scan(&method, &st.Count, &st.TotalSize); err != nil {
			return nil, err
		}
		out[method] = st
	}
	return out, rows.Err()
}

// PurgeOlderThan removes audit rows older than cutoff. When
// withBackupsOnly is set, only rows that have a backup copy are purged.
func (s *DeletionStore) PurgeOlderThan(ctx context.Context, cutoff time.Time, withBackupsOnly bool) (int64, error) {
	query := `DELETE FROM file_analyzer_deletions WHERE deleted_date < ?`
	if withBackupsOnly {
		query += ` AND backup_path IS NOT NULL`
	}

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge deletion history: %w", err)
	}
	return res.RowsAffected()
}
