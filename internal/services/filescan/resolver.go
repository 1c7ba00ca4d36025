// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
	"github.com/civitools/fileanalyzer/internal/domain"
	"github.com/civitools/fileanalyzer/internal/models"
)

// DefaultBatchSize is how many filenames share one reference query. Kept
// small so the OR-of-LIKE clauses stay within statement limits.
const DefaultBatchSize = 5

// Resolution is the usage decision for one filename: whether any source
// still references it and the full provenance of every match.
type Resolution struct {
	InUse          bool
	CiviFileID     *int64
	IsContactImage bool
	ContactID      *int64
	References     []models.Reference
}

// Resolver answers "is this file referenced, and by what" across all known
// reference sources. The custom-field index is built once per scan run and
// passed in; the resolver itself is stateless across scans.
type Resolver struct {
	db        dbinterface.Querier
	batchSize int
	index     *CustomFieldIndex
}

func NewResolver(db dbinterface.Querier, batchSize int, index *CustomFieldIndex) *Resolver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Resolver{db: db, batchSize: batchSize, index: index}
}

// Resolve checks usage for many filenames at once, one query per reference
// source per batch instead of one per filename. Results are identical in
// content to the per-file strategy, only cheaper.
func (r *Resolver) Resolve(ctx context.Context, category string, filenames []string) (map[string]*Resolution, error) {
	out := make(map[string]*Resolution, len(filenames))
	for _, name := range filenames {
		out[name] = &Resolution{}
	}

	for start := 0; start < len(filenames); start += r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + r.batchSize
		if end > len(filenames) {
			end = len(filenames)
		}
		r.resolveChunk(ctx, category, filenames[start:end], out)
	}

	for _, res := range out {
		res.InUse = len(res.References) > 0
	}
	return out, nil
}

// ResolveOne is the per-file strategy: the same fixed sequence of source
// lookups issued for a single filename.
func (r *Resolver) ResolveOne(ctx context.Context, category, filename string) (*Resolution, error) {
	results, err := r.Resolve(ctx, category, []string{filename})
	if err != nil {
		return nil, err
	}
	return results[filename], nil
}

// resolveChunk consults every source category for one batch of filenames.
// A file can be referenced from several sources at once, so all sources
// are always checked; within one source the first hit per filename wins.
// A failing source query is logged and treated as "no match from that
// source" so one broken table cannot abort resolution for the batch.
func (r *Resolver) resolveChunk(ctx context.Context, category string, names []string, out map[string]*Resolution) {
	registryHits, err := r.matchFileRegistry(ctx, names, out)
	if err != nil {
		log.Warn().Err(err).Str("source", "file_registry").Msg("reference source query failed, treating as no match")
	}

	if len(registryHits) > 0 {
		if err := r.matchEntityAttachments(ctx, registryHits, out); err != nil {
			log.Warn().Err(err).Str("source", "entity_attachment").Msg("reference source query failed, treating as no match")
		}
		r.matchCustomFields(registryHits, out)
	}

	switch category {
	case domain.CategoryContribute:
		for _, src := range freeTextSources {
			if err := r.matchFreeText(ctx, src, names, out); err != nil {
				log.Warn().Err(err).Str("source", src.table).Msg("reference source query failed, treating as no match")
			}
		}
	case domain.CategoryCustom:
		if err := r.matchContactImages(ctx, names, out); err != nil {
			log.Warn().Err(err).Str("source", "contact_image").Msg("reference source query failed, treating as no match")
		}
	}
}

// matchFileRegistry finds filenames present in the file registry's uri
// column, matching exact values and trailing substrings (stored values may
// carry path prefixes). Every matching registry ID is collected per
// filename for the downstream attachment and custom-field sources; only
// one file_record reference is recorded per filename.
func (r *Resolver) matchFileRegistry(ctx context.Context, names []string, out map[string]*Resolution) (map[int64][]string, error) {
	var (
		clauses []string
		args    []any
	)
	for _, name := range names {
		clauses = append(clauses, "(uri = ? OR uri LIKE ?)")
		args = append(args, name, "%"+name)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, uri FROM civicrm_file WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make(map[int64][]string)
	for rows.Next() {
		var (
			id  int64
			uri string
		)
		if err := rows.Scan(&id, &uri); err != nil {
			return hits, err
		}

		for _, name := range names {
			if uri != name && !strings.HasSuffix(uri, name) {
				continue
			}
			hits[id] = append(hits[id], name)

			res := out[name]
			if res.CiviFileID == nil {
				fileID := id
				res.CiviFileID = &fileID
			}
			if !hasReferenceType(res, models.RefTypeFileRecord, "civicrm_file") {
				res.References = append(res.References, models.Reference{
					ReferenceType: models.RefTypeFileRecord,
					EntityTable:   "civicrm_file",
					EntityID:      ptr(id),
					FieldName:     "uri",
					Details:       marshalDetails(map[string]any{"uri": uri}),
				})
			}
		}
	}
	return hits, rows.Err()
}

// attachmentType maps the owning entity table of an attachment row to the
// reference type recorded for it.
func attachmentType(entityTable string) string {
	switch entityTable {
	case "civicrm_activity":
		return models.RefTypeActivityAttachment
	case "civicrm_case":
		return models.RefTypeCaseAttachment
	case "civicrm_mailing":
		return models.RefTypeMailingAttachment
	case "civicrm_grant":
		return models.RefTypeGrantAttachment
	default:
		return models.RefTypeFileRecord
	}
}

// matchEntityAttachments resolves which business entities own the
// attachments behind the registry rows matched for this batch.
func (r *Resolver) matchEntityAttachments(ctx context.Context, registryHits map[int64][]string, out map[string]*Resolution) error {
	var (
		placeholders []string
		args         []any
	)
	for fileID := range registryHits {
		placeholders = append(placeholders, "?")
		args = append(args, fileID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT file_id, entity_table, entity_id
		FROM civicrm_entity_file
		WHERE file_id IN (`+strings.Join(placeholders, ", ")+`)`, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fileID      int64
			entityTable string
			entityID    int64
		)
		if err := rows.Scan(&fileID, &entityTable, &entityID); err != nil {
			return err
		}

		refType := attachmentType(entityTable)
		for _, name := range registryHits[fileID] {
			res := out[name]
			if hasReferenceType(res, refType, entityTable) {
				continue
			}
			res.References = append(res.References, models.Reference{
				ReferenceType: refType,
				EntityTable:   entityTable,
				EntityID:      ptr(entityID),
				FieldName:     "file_id",
				Details:       marshalDetails(map[string]any{"civicrm_file_id": fileID}),
			})
		}
	}
	return rows.Err()
}

// matchCustomFields checks registry hits against the precomputed
// custom-field index. Which tables hold file-typed custom data is
// metadata-driven, so a live join per batch would be prohibitive.
func (r *Resolver) matchCustomFields(registryHits map[int64][]string, out map[string]*Resolution) {
	for fileID, names := range registryHits {
		owner, ok := r.index.Lookup(fileID)
		if !ok {
			continue
		}

		for _, name := range names {
			res := out[name]
			if hasReferenceType(res, models.RefTypeCustomField, owner.EntityTable) {
				continue
			}
			res.References = append(res.References, models.Reference{
				ReferenceType: models.RefTypeCustomField,
				EntityTable:   owner.EntityTable,
				EntityID:      ptr(owner.EntityID),
				FieldName:     owner.FieldLabel,
				Details:       marshalDetails(map[string]any{"civicrm_file_id": fileID}),
			})
		}
	}
}

// freeTextSource is one business table whose HTML/description columns are
// searched for embedded filenames. These only apply to the public
// (contribute) directory, whose files are linked from page content.
type freeTextSource struct {
	table   string
	refType string
	columns []string
}

var freeTextSources = []freeTextSource{
	{"civicrm_contribution_page", models.RefTypeContributionPage, []string{"intro_text", "thankyou_text", "footer_text"}},
	{"civicrm_event", models.RefTypeEventPage, []string{"description", "intro_text"}},
	{"civicrm_msg_template", models.RefTypeMessageTemplate, []string{"msg_html"}},
}

func (r *Resolver) matchFreeText(ctx context.Context, src freeTextSource, names []string, out map[string]*Resolution) error {
	selectCols := make([]string, 0, len(src.columns))
	for _, col := range src.columns {
		selectCols = append(selectCols, fmt.Sprintf("COALESCE(%s, '')", col))
	}

	var (
		clauses []string
		args    []any
	)
	for _, name := range names {
		for _, col := range src.columns {
			clauses = append(clauses, col+" LIKE ?")
			args = append(args, "%"+name+"%")
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, `+strings.Join(selectCols, ", ")+`
		FROM `+src.table+`
		WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	values := make([]string, len(src.columns))
	for rows.Next() {
		var id int64
		dest := make([]any, 0, len(values)+1)
		dest = append(dest, &id)
		for i := range values {
			dest = append(dest, &values[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return err
		}

		for _, name := range names {
			res := out[name]
			if hasReferenceType(res, src.refType, src.table) {
				continue
			}
			for i, col := range src.columns {
				if !strings.Contains(values[i], name) {
					continue
				}
				res.References = append(res.References, models.Reference{
					ReferenceType: src.refType,
					EntityTable:   src.table,
					EntityID:      ptr(id),
					FieldName:     col,
					Details:       marshalDetails(map[string]any{"matched": name}),
				})
				break
			}
		}
	}
	return rows.Err()
}

// matchContactImages finds filenames embedded in contact avatar URLs.
// Avatars live under the private (custom) directory only.
func (r *Resolver) matchContactImages(ctx context.Context, names []string, out map[string]*Resolution) error {
	var (
		clauses []string
		args    []any
	)
	for _, name := range names {
		clauses = append(clauses, "image_URL LIKE ?")
		args = append(args, "%"+name+"%")
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, COALESCE(image_URL, '')
		FROM civicrm_contact
		WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  int64
			url string
		)
		if err := rows.Scan(&id, &url); err != nil {
			return err
		}

		for _, name := range names {
			if !strings.Contains(url, name) {
				continue
			}

			res := out[name]
			if !res.IsContactImage {
				res.IsContactImage = true
				contactID := id
				res.ContactID = &contactID
			}
			if !hasReferenceType(res, models.RefTypeContactImage, "civicrm_contact") {
				res.References = append(res.References, models.Reference{
					ReferenceType: models.RefTypeContactImage,
					EntityTable:   "civicrm_contact",
					EntityID:      ptr(id),
					FieldName:     "image_URL",
					Details:       marshalDetails(map[string]any{"image_url": url}),
				})
			}
		}
	}
	return rows.Err()
}

func hasReferenceType(res *Resolution, refType, entityTable string) bool {
	for _, ref := range res.References {
		if ref.ReferenceType == refType && ref.EntityTable == entityTable {
			return true
		}
	}
	return false
}

func marshalDetails(details map[string]any) string {
	b, err := json.Marshal(details)
	if err != nil {
		return ""
	}
	return string(b)
}

func ptr(v int64) *int64 {
	return &v
}
