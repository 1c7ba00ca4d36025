// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/civitools/fileanalyzer/internal/models"
)

// htaccessDenyAll blocks web access to result files when the store
// directory sits under a web root.
const htaccessDenyAll = "Order deny,allow\nDeny from all\n"

// JSONStore persists scan results as flat JSON files for installs that
// cannot host analyzer tables. It keeps the latest run per category plus a
// timestamped archive of each run; there is no per-file identity, so
// record-level operations return ErrNotSupported.
type JSONStore struct {
	dir string

	mu   sync.Mutex
	next int64
	runs map[int64]*jsonRun
}

type jsonRun struct {
	category  string
	runUID    string
	startedAt time.Time
	files     []*FileResult
	lockPath  string
}

// jsonScanDocument is the on-disk shape of one finished run.
type jsonScanDocument struct {
	Scan  *models.ScanRecord `json:"scan"`
	Stats json.RawMessage    `json:"stats,omitempty"`
	Files []*FileResult      `json:"files"`
}

func NewJSONStore(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create results directory: %w", err)
	}

	htaccess := filepath.Join(dir, ".htaccess")
	if _, err := os.Stat(htaccess); os.IsNotExist(err) {
		if err := os.WriteFile(htaccess, []byte(htaccessDenyAll), 0o644); err != nil {
			return nil, fmt.Errorf("write .htaccess: %w", err)
		}
	}

	return &JSONStore{
		dir:  dir,
		next: 1,
		runs: make(map[int64]*jsonRun),
	}, nil
}

// AcquireScan takes a per-category lock file so two processes cannot scan
// the same category at once. A stale lock from a crashed run must be
// removed by the operator.
func (s *JSONStore) AcquireScan(ctx context.Context, category, runUID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lockPath := filepath.Join(s.dir, category+"_scan.lock")
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return 0, models.ErrScanActive
		}
		return 0, fmt.Errorf("create scan lock: %w", err)
	}
	fmt.Fprintln(f, runUID)
	f.Close()

	id := s.next
	s.next++
	s.runs[id] = &jsonRun{
		category:  category,
		runUID:    runUID,
		startedAt: time.Now(),
		lockPath:  lockPath,
	}
	return id, nil
}

// CommitResults holds the results in memory until CompleteScan writes the
// finished document. Abandoned files are additionally written to their own
// per-category file so other tooling can consume them without parsing the
// full run.
func (s *JSONStore) CommitResults(ctx context.Context, scanID int64, category string, startedAt time.Time, files []*FileResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[scanID]
	if !ok {
		return fmt.Errorf("unknown scan id %d", scanID)
	}
	run.files = files

	var abandoned []*FileResult
	for _, f := range files {
		if f.Abandoned() {
			abandoned = append(abandoned, f)
		}
	}
	return s.writeJSON(category+"_abandoned_files.json", abandoned)
}

func (s *JSONStore) CompleteScan(ctx context.Context, scanID int64, totals models.ScanTotals, duration time.Duration, statsJSON string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[scanID]
	if !ok {
		return fmt.Errorf("unknown scan id %d", scanID)
	}
	defer s.releaseRun(scanID, run)

	doc := jsonScanDocument{
		Scan: &models.ScanRecord{
			ID:                scanID,
			RunUID:            run.runUID,
			DirectoryType:     run.category,
			ScanDate:          run.startedAt,
			ScanStatus:        models.ScanStatusCompleted,
			TotalFilesScanned: totals.TotalFiles,
			ActiveFiles:       totals.ActiveFiles,
			AbandonedFiles:    totals.AbandonedFiles,
			TotalSize:         totals.TotalSize,
			AbandonedSize:     totals.AbandonedSize,
			ScanDuration:      duration,
		},
		Files: run.files,
	}
	if statsJSON != "" {
		doc.Stats = json.RawMessage(statsJSON)
	}

	archive := fmt.Sprintf("scan_results_%s_%s.json", run.category, run.startedAt.Format("2006-01-02_15-04-05"))
	if err := s.writeJSON(archive, doc); err != nil {
		return err
	}
	return s.writeJSON(run.category+"_latest_scan.json", doc)
}

func (s *JSONStore) FailScan(ctx context.Context, scanID int64, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[scanID]
	if !ok {
		return fmt.Errorf("unknown scan id %d", scanID)
	}
	defer s.releaseRun(scanID, run)

	doc := jsonScanDocument{
		Scan: &models.ScanRecord{
			ID:            scanID,
			RunUID:        run.runUID,
			DirectoryType: run.category,
			ScanDate:      run.startedAt,
			ScanStatus:    models.ScanStatusFailed,
			ErrorMessage:  message,
		},
	}
	return s.writeJSON(run.category+"_latest_scan.json", doc)
}

func (s *JSONStore) LatestScan(ctx context.Context, category string) (*models.ScanRecord, error) {
	doc, err := s.readLatest(category)
	if err != nil || doc == nil {
		return nil, err
	}
	return doc.Scan, nil
}

func (s *JSONStore) AbandonedFiles(ctx context.Context, category string, limit int) ([]*models.FileRecord, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, category+"_abandoned_files.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read abandoned files: %w", err)
	}

	var files []*FileResult
	if err := json.Unmarshal(data, &files); err != nil {
		return nil, fmt.Errorf("decode abandoned files: %w", err)
	}

	var out []*models.FileRecord
	for _, f := range files {
		if limit > 0 && len(out) >= limit {
			break
		}
		modified := f.Modified
		out = append(out, &models.FileRecord{
			Filename:      f.Filename,
			FilePath:      f.RelPath,
			DirectoryType: f.Category,
			FileSize:      f.Size,
			FileExt:       f.Extension,
			MimeType:      f.MimeType,
			ModifiedDate:  &modified,
			IsAbandoned:   true,
			IsActive:      true,
			ScanStatus:    models.FileStatusScanned,
		})
	}
	return out, nil
}

func (s *JSONStore) FileWithReferences(ctx context.Context, fileID int64) (*models.FileRecord, []models.Reference, error) {
	return nil, nil, ErrNotSupported
}

func (s *JSONStore) MarkFileDeleted(ctx context.Context, fileID int64) error {
	return ErrNotSupported
}

// RecordDeletion appends to a newline-delimited JSON audit log.
func (s *JSONStore) RecordDeletion(ctx context.Context, rec *models.DeletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.DeletedDate.IsZero() {
		rec.DeletedDate = time.Now()
	}

	f, err := os.OpenFile(filepath.Join(s.dir, "deletions_log.json"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open deletion log: %w", err)
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(rec)
}

func (s *JSONStore) releaseRun(scanID int64, run *jsonRun) {
	os.Remove(run.lockPath)
	delete(s.runs, scanID)
}

func (s *JSONStore) readLatest(category string) (*jsonScanDocument, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, category+"_latest_scan.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read latest scan: %w", err)
	}

	var doc jsonScanDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode latest scan: %w", err)
	}
	return &doc, nil
}

// writeJSON writes atomically via a temp file so a crash mid-write never
// leaves a truncated document.
func (s *JSONStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return os.Rename(tmp, path)
}
