// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civitools/fileanalyzer/internal/database"
	"github.com/civitools/fileanalyzer/internal/domain"
	"github.com/civitools/fileanalyzer/internal/models"
	"github.com/civitools/fileanalyzer/internal/testdb"
)

func refTypes(res *Resolution) []string {
	out := make([]string, 0, len(res.References))
	for _, ref := range res.References {
		out = append(out, ref.ReferenceType)
	}
	return out
}

func TestResolver_FileRegistry(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('report.pdf')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('custom/2024/archive.pdf')`)

	r := NewResolver(db, 0, nil)

	exact, err := r.ResolveOne(ctx, domain.CategoryCustom, "report.pdf")
	require.NoError(t, err)
	assert.True(t, exact.InUse)
	require.NotNil(t, exact.CiviFileID)
	assert.Equal(t, int64(1), *exact.CiviFileID)
	assert.Equal(t, []string{models.RefTypeFileRecord}, refTypes(exact))

	// Stored URIs may carry path prefixes; a trailing match still counts.
	suffix, err := r.ResolveOne(ctx, domain.CategoryCustom, "archive.pdf")
	require.NoError(t, err)
	assert.True(t, suffix.InUse)
	require.NotNil(t, suffix.CiviFileID)
	assert.Equal(t, int64(2), *suffix.CiviFileID)

	missing, err := r.ResolveOne(ctx, domain.CategoryCustom, "orphan.pdf")
	require.NoError(t, err)
	assert.False(t, missing.InUse)
	assert.Empty(t, missing.References)
}

func TestResolver_EntityAttachments(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('minutes.doc')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_entity_file (entity_table, entity_id, file_id) VALUES ('civicrm_activity', 31, 1)`)
	testdb.Exec(t, db, `INSERT INTO civicrm_entity_file (entity_table, entity_id, file_id) VALUES ('civicrm_case', 8, 1)`)

	r := NewResolver(db, 0, nil)
	res, err := r.ResolveOne(ctx, domain.CategoryCustom, "minutes.doc")
	require.NoError(t, err)

	assert.True(t, res.InUse)
	assert.ElementsMatch(t, []string{
		models.RefTypeFileRecord,
		models.RefTypeActivityAttachment,
		models.RefTypeCaseAttachment,
	}, refTypes(res))

	for _, ref := range res.References {
		if ref.ReferenceType == models.RefTypeActivityAttachment {
			require.NotNil(t, ref.EntityID)
			assert.Equal(t, int64(31), *ref.EntityID)
		}
	}
}

func TestResolver_CustomFieldReferences(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('contract.pdf')`)
	installFileCustomField(t, db, "Contact", "civicrm_value_docs_1", "contract_1", "Contract")
	testdb.Exec(t, db, `INSERT INTO civicrm_value_docs_1 (entity_id, contract_1) VALUES (55, 1)`)

	idx, err := BuildCustomFieldIndex(ctx, db)
	require.NoError(t, err)

	r := NewResolver(db, 0, idx)
	res, err := r.ResolveOne(ctx, domain.CategoryCustom, "contract.pdf")
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		models.RefTypeFileRecord,
		models.RefTypeCustomField,
	}, refTypes(res))

	for _, ref := range res.References {
		if ref.ReferenceType == models.RefTypeCustomField {
			assert.Equal(t, "civicrm_contact", ref.EntityTable)
			assert.Equal(t, "Contract", ref.FieldName)
			require.NotNil(t, ref.EntityID)
			assert.Equal(t, int64(55), *ref.EntityID)
		}
	}
}

func TestResolver_FreeTextSources(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	testdb.Exec(t, db, `INSERT INTO civicrm_contribution_page (title, thankyou_text) VALUES ('Donate', '<img src="/files/banner.jpg">')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_event (title, description) VALUES ('Gala', 'See poster.png for details')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_msg_template (msg_title, msg_html) VALUES ('Receipt', '<img src="seal.gif">')`)

	r := NewResolver(db, 0, nil)

	page, err := r.ResolveOne(ctx, domain.CategoryContribute, "banner.jpg")
	require.NoError(t, err)
	assert.Equal(t, []string{models.RefTypeContributionPage}, refTypes(page))
	assert.Equal(t, "thankyou_text", page.References[0].FieldName)

	event, err := r.ResolveOne(ctx, domain.CategoryContribute, "poster.png")
	require.NoError(t, err)
	assert.Equal(t, []string{models.RefTypeEventPage}, refTypes(event))

	tpl, err := r.ResolveOne(ctx, domain.CategoryContribute, "seal.gif")
	require.NoError(t, err)
	assert.Equal(t, []string{models.RefTypeMessageTemplate}, refTypes(tpl))

	// Free-text sources only apply to the public directory.
	asCustom, err := r.ResolveOne(ctx, domain.CategoryCustom, "banner.jpg")
	require.NoError(t, err)
	assert.False(t, asCustom.InUse)
}

func TestResolver_ContactImages(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	testdb.Exec(t, db, `INSERT INTO civicrm_contact (display_name, image_URL) VALUES ('Ada', 'https://example.org/custom/photo_77.png')`)

	r := NewResolver(db, 0, nil)

	res, err := r.ResolveOne(ctx, domain.CategoryCustom, "photo_77.png")
	require.NoError(t, err)
	assert.True(t, res.InUse)
	assert.True(t, res.IsContactImage)
	require.NotNil(t, res.ContactID)
	assert.Equal(t, int64(1), *res.ContactID)
	assert.Equal(t, []string{models.RefTypeContactImage}, refTypes(res))

	// Avatars are never looked up for the public directory.
	asContribute, err := r.ResolveOne(ctx, domain.CategoryContribute, "photo_77.png")
	require.NoError(t, err)
	assert.False(t, asContribute.IsContactImage)
}

// seedMixedReferences installs files referenced through different sources
// plus some orphans, for both categories.
func seedMixedReferences(t *testing.T, db *database.DB) []string {
	t.Helper()

	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('report.pdf')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('2024/minutes.doc')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_entity_file (entity_table, entity_id, file_id) VALUES ('civicrm_activity', 3, 2)`)
	testdb.Exec(t, db, `INSERT INTO civicrm_contact (display_name, image_URL) VALUES ('Ada', '/custom/avatar.png')`)
	// One stored URI whose suffix also matches a second, shorter filename.
	testdb.Exec(t, db, `INSERT INTO civicrm_file (uri) VALUES ('2024_scan.pdf')`)
	testdb.Exec(t, db, `INSERT INTO civicrm_entity_file (entity_table, entity_id, file_id) VALUES ('civicrm_case', 5, 3)`)

	return []string{
		"report.pdf", "minutes.doc", "avatar.png",
		"2024_scan.pdf", "scan.pdf",
		"orphan_1.png", "orphan_2.png", "orphan_3.png", "orphan_4.png",
	}
}

func TestResolver_BatchedMatchesPerFile(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()
	names := seedMixedReferences(t, db)

	// Batch size 2 forces several chunks over the filenames.
	batched, err := NewResolver(db, 2, nil).Resolve(ctx, domain.CategoryCustom, names)
	require.NoError(t, err)

	perFile := NewResolver(db, 1, nil)
	for _, name := range names {
		single, err := perFile.ResolveOne(ctx, domain.CategoryCustom, name)
		require.NoError(t, err)

		got := batched[name]
		require.NotNil(t, got, name)
		assert.Equal(t, single.InUse, got.InUse, name)
		assert.Equal(t, single.IsContactImage, got.IsContactImage, name)
		assert.Equal(t, single.CiviFileID, got.CiviFileID, name)
		assert.Equal(t, single.ContactID, got.ContactID, name)
		assert.ElementsMatch(t, single.References, got.References, name)
	}
}

func TestResolver_SourceFailureDegradesToNoMatch(t *testing.T) {
	db := testdb.Open(t)
	ctx := context.Background()

	testdb.Exec(t, db, `INSERT INTO civicrm_contribution_page (title, intro_text) VALUES ('Donate', 'see banner.jpg')`)
	// Break one source entirely.
	testdb.Exec(t, db, `DROP TABLE civicrm_msg_template`)

	r := NewResolver(db, 0, nil)
	res, err := r.ResolveOne(ctx, domain.CategoryContribute, "banner.jpg")
	require.NoError(t, err)

	// The broken source is treated as no-match; the rest still answer.
	assert.True(t, res.InUse)
	assert.Equal(t, []string{models.RefTypeContributionPage}, refTypes(res))
}

func TestResolver_ContextCancellation(t *testing.T) {
	db := testdb.Open(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewResolver(db, 2, nil).Resolve(ctx, domain.CategoryCustom, []string{"a.pdf", "b.pdf"})
	assert.ErrorIs(t, err, context.Canceled)
}
