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

// Scan run statuses. cancelled and partial are declared states but no
// internal transition produces them; they are reachable only through
// operator intervention.
const (
	ScanStatusRunning   = "running"
	ScanStatusCompleted = "completed"
	ScanStatusFailed    = "failed"
	ScanStatusCancelled = "cancelled"
	ScanStatusPartial   = "partial"
)

// ErrScanActive is returned when a scan is requested for a category that
// already has a running scan. Overlapping scans of the same category would
// race on upserts.
var ErrScanActive = errors.New("a scan is already running for this directory")

// ScanRecord is one directory-category scan run.
type ScanRecord struct {
	ID                int64         `json:"id"`
	RunUID            string        `json:"runUid"`
	DirectoryType     string        `json:"directoryType"`
	ScanDate          time.Time     `json:"scanDate"`
	ScanStatus        string        `json:"scanStatus"`
	TotalFilesScanned int           `json:"totalFilesScanned"`
	ActiveFiles       int           `json:"activeFiles"`
	AbandonedFiles    int           `json:"abandonedFiles"`
	TotalSize         int64         `json:"totalSize"`
	AbandonedSize     int64         `json:"abandonedSize"`
	ScanDuration      time.Duration `json:"scanDuration"`
	Statistics        string        `json:"statistics,omitempty"` // serialized monthly/extension breakdown
	ErrorMessage      string        `json:"errorMessage,omitempty"`
}

// ScanTotals carries the counters written back when a scan completes.
type ScanTotals struct {
	TotalFiles     int   `json:"totalFiles"`
	ActiveFiles    int   `json:"activeFiles"`
	AbandonedFiles int   `json:"abandonedFiles"`
	TotalSize      int64 `json:"totalSize"`
	AbandonedSize  int64 `json:"abandonedSize"`
}

// ScanStore handles database operations for ScanRecords.
type ScanStore struct {
	db dbinterface.Querier
}

func NewScanStore(db dbinterface.Querier) *ScanStore {
	return &ScanStore{db: db}
}

// StartIfIdle atomically creates a running scan unless one is already
// running for the category, in which case ErrScanActive is returned. The
// check and insert are a single statement to avoid a race between two
// concurrent callers.
func (s *ScanStore) StartIfIdle(ctx context.Context, directoryType, runUID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_analyzer_scans (directory_type, run_uid, scan_status, scan_date)
		SELECT ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM file_analyzer_scans
			WHERE directory_type = ? AND scan_status = ?
		)
	`, directoryType, runUID, ScanStatusRunning, time.Now(), directoryType, ScanStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("insert scan record: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return 0, ErrScanActive
	}

	return res.LastInsertId()
}

// Complete transitions a running scan to completed with its final totals.
func (s *ScanStore) Complete(ctx context.Context, scanID int64, totals ScanTotals, duration time.Duration, statistics string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_analyzer_scans
		SET scan_status = ?,
		    total_files_scanned = ?,
		    active_files = ?,
		    abandoned_files = ?,
		    total_size = ?,
		    abandoned_size = ?,
		    scan_duration = ?,
		    statistics = ?
		WHERE id = ?
	`, ScanStatusCompleted, totals.TotalFiles, totals.ActiveFiles, totals.AbandonedFiles,
		totals.TotalSize, totals.AbandonedSize, int64(duration.Seconds()),
		nullString(statistics), scanID)
	if err != nil {
		return fmt.Errorf("complete scan %d: %w", scanID, err)
	}
	return nil
}

// Fail marks a scan failed with the captured error message.
func (s *ScanStore) Fail(ctx context.Context, scanID int64, message string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_analyzer_scans
		SET scan_status = ?, error_message = ?
		WHERE id = ?
	`, ScanStatusFailed, message, scanID)
	if err != nil {
		return fmt.Errorf("fail scan %d: %w", scanID, err)
	}
	return nil
}

const scanColumns = `
	id, run_uid, directory_type, scan_date, scan_status, total_files_scanned,
	active_files, abandoned_files, total_size, abandoned_size,
	COALESCE(scan_duration, 0), COALESCE(statistics, ''), COALESCE(error_message, '')`

// Get returns a scan by ID, or nil when it does not exist.
func (s *ScanStore) Get(ctx context.Context, scanID int64) (*ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+scanColumns+`
		FROM file_analyzer_scans WHERE id = ?`, scanID)
	return scanScanRecord(row)
}

// Latest returns the most recent scan for a category, or nil when the
// category has never been scanned.
func (s *ScanStore) Latest(ctx context.Context, directoryType string) (*ScanRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT`+scanColumns+`
		FROM file_analyzer_scans
		WHERE directory_type = ?
		ORDER BY scan_date DESC, id DESC
		LIMIT 1`, directoryType)
	return scanScanRecord(row)
}

// PurgeOlderThan removes scan history rows older than cutoff, keeping the
// audit table from growing without bound.
func (s *ScanStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM file_analyzer_scans
		WHERE scan_date < ? AND scan_status != ?
	`, cutoff, ScanStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("purge scan history: %w", err)
	}
	return res.RowsAffected()
}

func scanScanRecord(row *sql.Row) (*ScanRecord, error) {
	var (
		rec      ScanRecord
		duration int64
	)
	err := row.Scan(
		&rec.ID, &rec.RunUID, &rec.DirectoryType, &rec.ScanDate, &rec.ScanStatus,
		&rec.TotalFilesScanned, &rec.ActiveFiles, &rec.AbandonedFiles,
		&rec.TotalSize, &rec.AbandonedSize, &duration, &rec.Statistics, &rec.ErrorMessage,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.ScanDuration = time.Duration(duration) * time.Second
	return &rec, nil
}
