// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"errors"
	"time"

	"github.com/civitools/fileanalyzer/internal/models"
)

// ErrNotSupported is returned by store operations a backend cannot serve.
// The flat-file backend has no per-file identity, so record lookups fail
// with it.
var ErrNotSupported = errors.New("operation not supported by this results backend")

// ErrFileNotFound is returned for lookups of file IDs the store does not
// track.
var ErrFileNotFound = errors.New("file record not found")

// FileResult is one file discovered by a scan together with its resolved
// usage. RecordID is filled in when the result is committed to a backend
// that assigns identities.
type FileResult struct {
	Filename   string      `json:"filename"`
	RelPath    string      `json:"relPath"`
	AbsPath    string      `json:"-"`
	Category   string      `json:"category"`
	Size       int64       `json:"size"`
	Extension  string      `json:"extension"`
	MimeType   string      `json:"mimeType"`
	Modified   time.Time   `json:"modified"`
	RecordID   int64       `json:"recordId,omitempty"`
	Resolution *Resolution `json:"resolution,omitempty"`
}

// Abandoned reports whether no reference source claimed the file.
func (f *FileResult) Abandoned() bool {
	return f.Resolution == nil || !f.Resolution.InUse
}

// Store persists scan runs and their results. Two backends exist: the
// default database-backed one and a flat-file one for installs that cannot
// host analyzer tables.
type Store interface {
	// AcquireScan registers a running scan for the category, failing with
	// models.ErrScanActive when one is already running.
	AcquireScan(ctx context.Context, category, runUID string) (int64, error)

	// CommitResults atomically persists all results of one scan run and
	// reconciles records whose file vanished from disk.
	CommitResults(ctx context.Context, scanID int64, category string, startedAt time.Time, files []*FileResult) error

	// CompleteScan finalizes the run with its totals and breakdowns.
	CompleteScan(ctx context.Context, scanID int64, totals models.ScanTotals, duration time.Duration, statsJSON string) error

	// FailScan marks the run failed. The message is kept for diagnosis.
	FailScan(ctx context.Context, scanID int64, message string) error

	// LatestScan returns the most recent run for a category, or nil.
	LatestScan(ctx context.Context, category string) (*models.ScanRecord, error)

	// AbandonedFiles lists currently abandoned files for a category.
	AbandonedFiles(ctx context.Context, category string, limit int) ([]*models.FileRecord, error)

	// FileWithReferences returns one tracked file and its active
	// references. Backends without per-file identity return ErrNotSupported.
	FileWithReferences(ctx context.Context, fileID int64) (*models.FileRecord, []models.Reference, error)

	// MarkFileDeleted flags a tracked file as removed from disk.
	MarkFileDeleted(ctx context.Context, fileID int64) error

	// RecordDeletion appends to the deletion audit log.
	RecordDeletion(ctx context.Context, rec *models.DeletionRecord) error
}
