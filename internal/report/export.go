// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package report renders scan results into exportable documents.
package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/civitools/fileanalyzer/internal/models"
)

// ErrNoScan is returned when a category has never completed a scan.
var ErrNoScan = errors.New("no scan results to export")

// Supported export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
)

// Source is where the exporter reads scan results from. Satisfied by
// filescan.Store.
type Source interface {
	LatestScan(ctx context.Context, category string) (*models.ScanRecord, error)
	AbandonedFiles(ctx context.Context, category string, limit int) ([]*models.FileRecord, error)
}

// Exporter writes scan reports into the export directory.
type Exporter struct {
	src Source
	dir string
}

func NewExporter(src Source, dir string) *Exporter {
	return &Exporter{src: src, dir: dir}
}

// summary is the human-facing rollup of one scan.
type summary struct {
	TotalFiles         int    `json:"totalFiles"`
	ActiveFiles        int    `json:"activeFiles"`
	AbandonedFiles     int    `json:"abandonedFiles"`
	TotalSize          int64  `json:"totalSize"`
	TotalSizeHuman     string `json:"totalSizeHuman"`
	AbandonedSize      int64  `json:"abandonedSize"`
	AbandonedSizeHuman string `json:"abandonedSizeHuman"`
	Duration           string `json:"duration"`
}

// document is the full export payload.
type document struct {
	Category    string               `json:"category"`
	GeneratedAt time.Time            `json:"generatedAt"`
	ScanDate    time.Time            `json:"scanDate"`
	RunUID      string               `json:"runUid"`
	Summary     summary              `json:"summary"`
	Breakdown   json.RawMessage      `json:"breakdown,omitempty"`
	Abandoned   []*models.FileRecord `json:"abandonedFiles"`
}

// Export writes the latest scan of a category as CSV or JSON and returns
// the path of the written file.
func (e *Exporter) Export(ctx context.Context, category, format string) (string, error) {
	if format != FormatCSV && format != FormatJSON {
		return "", fmt.Errorf("unknown export format %q", format)
	}

	doc, err := e.build(ctx, category)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(e.dir, 0o700); err != nil {
		return "", fmt.Errorf("create export directory: %w", err)
	}

	name := fmt.Sprintf("file_analysis_%s_%s.%s", category, doc.GeneratedAt.Format("2006-01-02_15-04-05"), format)
	path := filepath.Join(e.dir, name)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer f.Close()

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(doc)
	case FormatCSV:
		err = writeCSV(f, doc)
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

func (e *Exporter) build(ctx context.Context, category string) (*document, error) {
	scan, err := e.src.LatestScan(ctx, category)
	if err != nil {
		return nil, err
	}
	if scan == nil || scan.ScanStatus != models.ScanStatusCompleted {
		return nil, ErrNoScan
	}

	abandoned, err := e.src.AbandonedFiles(ctx, category, 0)
	if err != nil {
		return nil, err
	}

	doc := &document{
		Category:    category,
		GeneratedAt: time.Now(),
		ScanDate:    scan.ScanDate,
		RunUID:      scan.RunUID,
		Summary: summary{
			TotalFiles:         scan.TotalFilesScanned,
			ActiveFiles:        scan.ActiveFiles,
			AbandonedFiles:     scan.AbandonedFiles,
			TotalSize:          scan.TotalSize,
			TotalSizeHuman:     humanize.Bytes(uint64(scan.TotalSize)),
			AbandonedSize:      scan.AbandonedSize,
			AbandonedSizeHuman: humanize.Bytes(uint64(scan.AbandonedSize)),
			Duration:           scan.ScanDuration.String(),
		},
		Abandoned: abandoned,
	}
	if scan.Statistics != "" {
		doc.Breakdown = json.RawMessage(scan.Statistics)
	}
	return doc, nil
}

// writeCSV renders the document as a summary block followed by one row
// per abandoned file.
func writeCSV(f *os.File, doc *document) error {
	w := csv.NewWriter(f)

	rows := [][]string{
		{"directory", doc.Category},
		{"scan date", doc.ScanDate.Format(time.RFC3339)},
		{"total files", strconv.Itoa(doc.Summary.TotalFiles)},
		{"active files", strconv.Itoa(doc.Summary.ActiveFiles)},
		{"abandoned files", strconv.Itoa(doc.Summary.AbandonedFiles)},
		{"total size", doc.Summary.TotalSizeHuman},
		{"abandoned size", doc.Summary.AbandonedSizeHuman},
		{"scan duration", doc.Summary.Duration},
		{""},
		{"filename", "path", "size", "extension", "modified", "last scanned"},
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return err
		}
	}

	for _, rec := range doc.Abandoned {
		modified, scanned := "", ""
		if rec.ModifiedDate != nil {
			modified = rec.ModifiedDate.Format(time.RFC3339)
		}
		if rec.LastScannedDate != nil {
			scanned = rec.LastScannedDate.Format(time.RFC3339)
		}
		if err := w.Write([]string{
			rec.Filename,
			rec.FilePath,
			humanize.Bytes(uint64(rec.FileSize)),
			rec.FileExt,
			modified,
			scanned,
		}); err != nil {
			return err
		}
	}

	w.Flush()
	return w.Error()
}
