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

	"github.com/civitools/fileanalyzer/internal/database"
	"github.com/civitools/fileanalyzer/internal/domain"
	"github.com/civitools/fileanalyzer/internal/models"
	"github.com/civitools/fileanalyzer/internal/testdb"
)

func newTestService(t *testing.T, db *database.DB, roots map[string]string, deleter Deleter) *Service {
	t.Helper()
	cfg := Config{
		Roots:              roots,
		ExcludedExtensions: []string{"tmp", "log", "cache", "htaccess"},
		ExcludedFolders:    []string{"vendor", "file_analyzer_backups"},
		BatchSize:          2,
	}
	if deleter != nil {
		cfg.AutoDelete = true
		cfg.AutoDeleteDays = 30
	}
	return NewService(cfg, db, NewDBStore(db), deleter, nil)
}

func TestService_ContributeScan(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "report.pdf"))
	writeFile(t, filepath.Join(root, "images", "orphan.png"))
	writeFile(t, filepath.Join(root, "debug.log")) // excluded extension

	testdb.Exec(t, db, `INSERT INTO civicrm_contribution_page (title, thankyou_text)
		VALUES ('Donate', '<a href="report.pdf">receipt</a>')`)

	svc := newTestService(t, db, map[string]string{domain.CategoryContribute: root}, nil)

	report, err := svc.RunScan(ctx, domain.CategoryContribute)
	require.NoError(t, err)
	require.False(t, report.IsError)

	result := report.Categories[domain.CategoryContribute]
	require.NotNil(t, result)
	assert.Equal(t, 2, result.Totals.TotalFiles)
	assert.Equal(t, 1, result.Totals.ActiveFiles)
	assert.Equal(t, 1, result.Totals.AbandonedFiles)
	assert.Contains(t, report.Messages, "contribute: Scan completed. Found 1 abandoned files")
	assert.Contains(t, report.Messages, "contribute: Total files scanned: 2")

	files := models.NewFileStore(db)
	refs := models.NewReferenceStore(db)

	used, err := files.GetByPath(ctx, "report.pdf", domain.CategoryContribute)
	require.NoError(t, err)
	require.NotNil(t, used)
	assert.False(t, used.IsAbandoned)
	assert.Equal(t, models.FileStatusScanned, used.ScanStatus)

	usedRefs, err := refs.ByFile(ctx, used.ID)
	require.NoError(t, err)
	require.Len(t, usedRefs, 1)
	assert.Equal(t, models.RefTypeContributionPage, usedRefs[0].ReferenceType)
	assert.Equal(t, "thankyou_text", usedRefs[0].FieldName)

	orphan, err := files.GetByPath(ctx, filepath.Join("images", "orphan.png"), domain.CategoryContribute)
	require.NoError(t, err)
	require.NotNil(t, orphan)
	assert.True(t, orphan.IsAbandoned)

	orphanRefs, err := refs.ByFile(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Empty(t, orphanRefs)

	// The excluded extension never made it into the result set.
	excluded, err := files.GetByPath(ctx, "debug.log", domain.CategoryContribute)
	require.NoError(t, err)
	assert.Nil(t, excluded)
}

func TestService_CustomScan(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "minutes.doc"))
	writeFile(t, filepath.Join(root, "avatar.png"))
	writeFile(t, filepath.Join(root, "contract.pdf"))
	writeFile(t, filepath.Join(root, "stray.bin"))

	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('minutes.doc')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_entity_file (entity_table, entity_id, file_id) VALUES ('civicrm_activity', 9, 1)`)
	testdb.Exec(t, db, `INSERT INTO civicrm_contact (display_name, image_URL) VALUES ('Ada', '/custom/avatar.png')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('contract.pdf')`)
	installFileCustomField(t, db, "Contact", "civicrm_value_docs_1", "contract_1", "Contract")
	testdb.Exec(t, db, `INSERT INTO civicrm_value_docs_1 (entity_id, contract_1) VALUES (4, 2)`)

	svc := newTestService(t, db, map[string]string{domain.CategoryCustom: root}, nil)

	report, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	require.False(t, report.IsError)

	result := report.Categories[domain.CategoryCustom]
	require.NotNil(t, result)
	assert.Equal(t, 4, result.Totals.TotalFiles)
	assert.Equal(t, 3, result.Totals.ActiveFiles)
	assert.Equal(t, 1, result.Totals.AbandonedFiles)

	files := models.NewFileStore(db)

	avatar, err := files.GetByPath(ctx, "avatar.png", domain.CategoryCustom)
	require.NoError(t, err)
	assert.True(t, avatar.IsContactImage)
	require.NotNil(t, avatar.ContactID)
	assert.Equal(t, int64(1), *avatar.ContactID)

	contract, err := files.GetByPath(ctx, "contract.pdf", domain.CategoryCustom)
	require.NoError(t, err)
	require.NotNil(t, contract.CiviFileID)
	assert.Equal(t, int64(2), *contract.CiviFileID)
	assert.False(t, contract.IsAbandoned)
}

func TestService_RescanIsIdempotent(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"))
	writeFile(t, filepath.Join(root, "b.pdf"))

	svc := newTestService(t, db, map[string]string{domain.CategoryCustom: root}, nil)

	_, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)

	files := models.NewFileStore(db)
	first, err := files.GetByPath(ctx, "a.pdf", domain.CategoryCustom)
	require.NoError(t, err)

	report, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	require.False(t, report.IsError)

	second, err := files.GetByPath(ctx, "a.pdf", domain.CategoryCustom)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	st, err := files.Statistics(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	assert.Equal(t, 2, st.TotalFiles)
}

func TestService_MissingFilesDeactivated(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "keep.pdf"))
	writeFile(t, filepath.Join(root, "gone.pdf"))

	svc := newTestService(t, db, map[string]string{domain.CategoryCustom: root}, nil)
	_, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "gone.pdf")))

	_, err = svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)

	files := models.NewFileStore(db)
	gone, err := files.GetByPath(ctx, "gone.pdf", domain.CategoryCustom)
	require.NoError(t, err)
	assert.False(t, gone.IsActive)

	kept, err := files.GetByPath(ctx, "keep.pdf", domain.CategoryCustom)
	require.NoError(t, err)
	assert.True(t, kept.IsActive)
}

func TestService_MissingRootRecordsEmptyScan(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	svc := newTestService(t, db, map[string]string{
		domain.CategoryCustom: filepath.Join(t.TempDir(), "does-not-exist"),
	}, nil)

	report, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	require.False(t, report.IsError)
	assert.Equal(t, 0, report.Categories[domain.CategoryCustom].Totals.TotalFiles)

	latest, err := svc.LatestScanSummary(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.ScanStatusCompleted, latest.ScanStatus)
}

func TestService_ConcurrentScanRefused(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.pdf"))

	store := NewDBStore(db)
	_, err := store.AcquireScan(ctx, domain.CategoryCustom, "other-run")
	require.NoError(t, err)

	svc := newTestService(t, db, map[string]string{domain.CategoryCustom: root}, nil)
	report, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	assert.True(t, report.IsError)
	require.NotEmpty(t, report.Messages)
	assert.Contains(t, report.Messages[0], "already running")
}

func TestService_UnknownCategory(t *testing.T) {
	db := testdb.Open(t)
	svc := newTestService(t, db, map[string]string{}, nil)

	_, err := svc.RunScan(context.Background(), "uploads")
	assert.Error(t, err)
}

// recordingDeleter captures what the scan hands to the deleter.
type recordingDeleter struct {
	category string
	cutoff   time.Time
	files    []*FileResult
}

func (d *recordingDeleter) DeleteAbandoned(_ context.Context, category string, cutoff time.Time, files []*FileResult) (int, error) {
	d.category = category
	d.cutoff = cutoff
	d.files = files
	return len(files), nil
}

func TestService_AutoDeleteHandsOffAbandonedFiles(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	root := t.TempDir()
	writeFile(t, filepath.Join(root, "used.pdf"))
	writeFile(t, filepath.Join(root, "orphan.pdf"))
	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('used.pdf')`)

	deleter := &recordingDeleter{}
	svc := newTestService(t, db, map[string]string{domain.CategoryCustom: root}, deleter)

	report, err := svc.RunScan(ctx, domain.CategoryCustom)
	require.NoError(t, err)
	require.False(t, report.IsError)

	// Only abandoned files reach the deleter, and the cutoff reflects the
	// configured retention window.
	require.Len(t, deleter.files, 1)
	assert.Equal(t, "orphan.pdf", deleter.files[0].Filename)
	assert.NotZero(t, deleter.files[0].RecordID)
	assert.Equal(t, domain.CategoryCustom, deleter.category)
	wantCutoff := time.Now().AddDate(0, 0, -30)
	assert.WithinDuration(t, wantCutoff, deleter.cutoff, time.Minute)
	assert.Equal(t, 1, report.Categories[domain.CategoryCustom].AutoDeleted)
}
