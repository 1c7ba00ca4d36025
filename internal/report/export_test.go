// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package report

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitools/fileanalyzer/internal/models"
)

// fakeSource serves canned scan results.
type fakeSource struct {
	scan      *models.ScanRecord
	abandoned []*models.FileRecord
}

func (f *fakeSource) LatestScan(_ context.Context, _ string) (*models.ScanRecord, error) {
	return f.scan, nil
}

func (f *fakeSource) AbandonedFiles(_ context.Context, _ string, _ int) ([]*models.FileRecord, error) {
	return f.abandoned, nil
}

func completedScan() *models.ScanRecord {
	return &models.ScanRecord{
		ID:                1,
		RunUID:            "run-1",
		DirectoryType:     "contribute",
		ScanDate:          time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC),
		ScanStatus:        models.ScanStatusCompleted,
		TotalFilesScanned: 3,
		ActiveFiles:       2,
		AbandonedFiles:    1,
		TotalSize:         3 << 20,
		AbandonedSize:     1 << 20,
		ScanDuration:      12 * time.Second,
		Statistics:        `{"fileTypes":{"png":{"count":1,"size":1048576,"abandonedCount":1}}}`,
	}
}

func abandonedFixture() []*models.FileRecord {
	modified := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	return []*models.FileRecord{{
		ID:            7,
		Filename:      "orphan.png",
		FilePath:      "images/orphan.png",
		DirectoryType: "contribute",
		FileSize:      1 << 20,
		FileExt:       "png",
		ModifiedDate:  &modified,
		IsAbandoned:   true,
	}}
}

func TestExport_JSON(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&fakeSource{scan: completedScan(), abandoned: abandonedFixture()}, dir)

	path, err := e.Export(context.Background(), "contribute", FormatJSON)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(path), "file_analysis_contribute_"))
	assert.True(t, strings.HasSuffix(path, ".json"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Category string `json:"category"`
		Summary  struct {
			TotalFiles         int    `json:"totalFiles"`
			AbandonedSizeHuman string `json:"abandonedSizeHuman"`
		} `json:"summary"`
		Breakdown json.RawMessage      `json:"breakdown"`
		Abandoned []*models.FileRecord `json:"abandonedFiles"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "contribute", doc.Category)
	assert.Equal(t, 3, doc.Summary.TotalFiles)
	assert.Equal(t, "1.0 MB", doc.Summary.AbandonedSizeHuman)
	assert.NotEmpty(t, doc.Breakdown)
	require.Len(t, doc.Abandoned, 1)
	assert.Equal(t, "orphan.png", doc.Abandoned[0].Filename)
}

func TestExport_CSV(t *testing.T) {
	dir := t.TempDir()
	e := NewExporter(&fakeSource{scan: completedScan(), abandoned: abandonedFixture()}, dir)

	path, err := e.Export(context.Background(), "contribute", FormatCSV)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.Contains(t, content, "directory,contribute")
	assert.Contains(t, content, "abandoned files,1")
	assert.Contains(t, content, "orphan.png")
	assert.Contains(t, content, "images/orphan.png")
}

func TestExport_NoScan(t *testing.T) {
	e := NewExporter(&fakeSource{}, t.TempDir())
	_, err := e.Export(context.Background(), "custom", FormatCSV)
	assert.ErrorIs(t, err, ErrNoScan)
}

func TestExport_RefusesIncompleteScan(t *testing.T) {
	scan := completedScan()
	scan.ScanStatus = models.ScanStatusRunning
	e := NewExporter(&fakeSource{scan: scan}, t.TempDir())

	_, err := e.Export(context.Background(), "contribute", FormatCSV)
	assert.ErrorIs(t, err, ErrNoScan)
}

func TestExport_UnknownFormat(t *testing.T) {
	e := NewExporter(&fakeSource{scan: completedScan()}, t.TempDir())
	_, err := e.Export(context.Background(), "contribute", "xml")
	assert.Error(t, err)
}
