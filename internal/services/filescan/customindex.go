// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package filescan

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
)

// entityTables maps the logical entity a custom group extends to the
// physical table backing it. This is the single source of truth for that
// mapping; never hardcode table names elsewhere.
var entityTables = map[string]string{
	"Contact":      "civicrm_contact",
	"Individual":   "civicrm_contact",
	"Household":    "civicrm_contact",
	"Organization": "civicrm_contact",
	"Activity":     "civicrm_activity",
	"Contribution": "civicrm_contribution",
	"Membership":   "civicrm_membership",
	"Participant":  "civicrm_participant",
	"Event":        "civicrm_event",
	"Case":         "civicrm_case",
	"Grant":        "civicrm_grant",
	"Pledge":       "civicrm_pledge",
	"Relationship": "civicrm_relationship",
	"Campaign":     "civicrm_campaign",
	"Note":         "civicrm_note",
}

// CustomFieldOwner identifies the custom-field value that references a
// file: the owning record, its physical table and the field label.
type CustomFieldOwner struct {
	EntityTable string
	EntityID    int64
	FieldLabel  string
}

// CustomFieldIndex maps file registry IDs to the custom-field record
// referencing them. Custom fields live in dynamically named tables
// discovered through metadata, so the index is built once per scan run and
// passed into the resolver rather than rebuilt per file.
//
// When more than one custom field references the same file id, the last
// one indexed wins; only a single owner is recorded per file.
type CustomFieldIndex struct {
	owners map[int64]CustomFieldOwner
}

// Lookup returns the owner of a file registry ID, if any.
func (idx *CustomFieldIndex) Lookup(fileID int64) (CustomFieldOwner, bool) {
	if idx == nil {
		return CustomFieldOwner{}, false
	}
	owner, ok := idx.owners[fileID]
	return owner, ok
}

// Len returns the number of indexed file IDs.
func (idx *CustomFieldIndex) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.owners)
}

// customFieldDescriptor is the metadata for one File-typed custom field:
// where its values live and which entity type owns them.
type customFieldDescriptor struct {
	TableName  string
	ColumnName string
	Label      string
	Extends    string
}

// BuildCustomFieldIndex enumerates all custom fields of data type File and
// collects every (entity id, file id) pair from their value tables. A
// failure against one value table is logged and skipped; the metadata
// query failing is an error because it means no custom source can be
// consulted at all.
func BuildCustomFieldIndex(ctx context.Context, db dbinterface.Querier) (*CustomFieldIndex, error) {
	start := time.Now()

	descriptors, err := customFieldDescriptors(ctx, db)
	if err != nil {
		return nil, err
	}

	idx := &CustomFieldIndex{owners: make(map[int64]CustomFieldOwner)}
	for _, d := range descriptors {
		table, ok := entityTables[d.Extends]
		if !ok {
			log.Debug().Str("extends", d.Extends).Str("table", d.TableName).
				Msg("custom group extends unknown entity, skipping")
			continue
		}

		if err := indexValueTable(ctx, db, d, table, idx.owners); err != nil {
			log.Warn().Err(err).Str("table", d.TableName).Str("column", d.ColumnName).
				Msg("custom value table scan failed, treating as no references")
		}
	}

	log.Debug().
		Int("customFields", len(descriptors)).
		Int("fileIDs", idx.Len()).
		Dur("took", time.Since(start)).
		Msg("built custom field index")

	return idx, nil
}

func customFieldDescriptors(ctx context.Context, db dbinterface.Querier) ([]customFieldDescriptor, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT cg.table_name, cf.column_name, cf.label, cg.extends
		FROM civicrm_custom_field cf
		INNER JOIN civicrm_custom_group cg ON cg.id = cf.custom_group_id
		WHERE cf.data_type = 'File' AND cg.table_name IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query custom field metadata: %w", err)
	}
	defer rows.Close()

	var out []customFieldDescriptor
	for rows.Next() {
		var d customFieldDescriptor
		if err := rows.Scan(&d.TableName, &d.ColumnName, &d.Label, &d.Extends); err != nil {
			return nil, err
		}
		if d.TableName == "" || d.ColumnName == "" {
			continue
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func indexValueTable(ctx context.Context, db dbinterface.Querier, d customFieldDescriptor, entityTable string, owners map[int64]CustomFieldOwner) error {
	// Table and column names come from trusted extension metadata but are
	// still quoted as identifiers.
	query := fmt.Sprintf(`SELECT entity_id, %q FROM %q WHERE %q IS NOT NULL`,
		d.ColumnName, d.TableName, d.ColumnName)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entityID int64
			fileID   int64
		)
		if err := rows.Scan(&entityID, &fileID); err != nil {
			return err
		}
		owners[fileID] = CustomFieldOwner{
			EntityTable: entityTable,
			EntityID:    entityID,
			FieldLabel:  d.Label,
		}
	}
	return rows.Err()
}
