// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitools/fileanalyzer/internal/models"
)

func TestJSONStore_ScanLifecycle(t *testing.T) {
	dir := t.TempDir()
	store, err := NewJSONStore(dir)
	require.NoError(t, err)
	ctx := context.Background()

	// The results directory must never be web-servable.
	htaccess, err := os.ReadFile(filepath.Join(dir, ".htaccess"))
	require.NoError(t, err)
	assert.Contains(t, string(htaccess), "Deny from all")

	scanID, err := store.AcquireScan(ctx, "contribute", "run-1")
	require.NoError(t, err)

	// Same category is locked while the scan runs.
	_, err = store.AcquireScan(ctx, "contribute", "run-2")
	assert.ErrorIs(t, err, models.ErrScanActive)

	// Other categories are not.
	otherID, err := store.AcquireScan(ctx, "custom", "run-3")
	require.NoError(t, err)
	require.NoError(t, store.FailScan(ctx, otherID, "boom"))

	files := []*FileResult{
		{Filename: "used.jpg", RelPath: "used.jpg", Category: "contribute", Size: 10, Extension: "jpg", Modified: time.Now(), Resolution: &Resolution{InUse: true}},
		{Filename: "orphan.png", RelPath: "img/orphan.png", Category: "contribute", Size: 20, Extension: "png", Modified: time.Now()},
	}
	require.NoError(t, store.CommitResults(ctx, scanID, "contribute", time.Now(), files))

	totals := models.ScanTotals{TotalFiles: 2, ActiveFiles: 1, AbandonedFiles: 1, TotalSize: 30, AbandonedSize: 20}
	require.NoError(t, store.CompleteScan(ctx, scanID, totals, time.Second, `{"fileTypes":{}}`))

	// Completion releases the lock.
	_, err = store.AcquireScan(ctx, "contribute", "run-4")
	require.NoError(t, err)

	latest, err := store.LatestScan(ctx, "contribute")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.ScanStatusCompleted, latest.ScanStatus)
	assert.Equal(t, 2, latest.TotalFilesScanned)
	assert.Equal(t, 1, latest.AbandonedFiles)

	abandoned, err := store.AbandonedFiles(ctx, "contribute", 0)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	assert.Equal(t, "orphan.png", abandoned[0].Filename)
	assert.True(t, abandoned[0].IsAbandoned)
}

func TestJSONStore_FailScanReleasesLock(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	scanID, err := store.AcquireScan(ctx, "custom", "run-1")
	require.NoError(t, err)
	require.NoError(t, store.FailScan(ctx, scanID, "walk failed"))

	latest, err := store.LatestScan(ctx, "custom")
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusFailed, latest.ScanStatus)
	assert.Equal(t, "walk failed", latest.ErrorMessage)

	_, err = store.AcquireScan(ctx, "custom", "run-2")
	assert.NoError(t, err)
}

func TestJSONStore_NoPerFileOperations(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = store.FileWithReferences(ctx, 1)
	assert.ErrorIs(t, err, ErrNotSupported)
	assert.ErrorIs(t, store.MarkFileDeleted(ctx, 1), ErrNotSupported)
}

func TestJSONStore_EmptyState(t *testing.T) {
	store, err := NewJSONStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	latest, err := store.LatestScan(ctx, "custom")
	require.NoError(t, err)
	assert.Nil(t, latest)

	abandoned, err := store.AbandonedFiles(ctx, "custom", 0)
	require.NoError(t, err)
	assert.Empty(t, abandoned)
}
