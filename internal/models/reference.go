// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/civitools/fileanalyzer/internal/dbinterface"
)

// Reference types: why a file is considered in use.
const (
	RefTypeFileRecord         = "file_record"
	RefTypeContactImage       = "contact_image"
	RefTypeContributionPage   = "contribution_page"
	RefTypeEventPage          = "event_page"
	RefTypeMessageTemplate    = "message_template"
	RefTypeCustomField        = "custom_field"
	RefTypeActivityAttachment = "activity_attachment"
	RefTypeCaseAttachment     = "case_attachment"
	RefTypeMailingAttachment  = "mailing_attachment"
	RefTypeGrantAttachment    = "grant_attachment"
)

// Reference records one discovered link from a business record to a file,
// with enough provenance to audit a deletion decision. The active set for a
// file is replaced wholesale on every scan.
type Reference struct {
	ID               int64      `json:"id"`
	FileID           int64      `json:"fileId"`
	ReferenceType    string     `json:"referenceType"`
	EntityTable      string     `json:"entityTable"`
	EntityID         *int64     `json:"entityId,omitempty"`
	FieldName        string     `json:"fieldName"`
	Details          string     `json:"details,omitempty"` // free-form JSON payload
	CreatedDate      time.Time  `json:"createdDate"`
	LastVerifiedDate *time.Time `json:"lastVerifiedDate,omitempty"`
	IsActive         bool       `json:"isActive"`
}

// ReferenceStore handles database operations for References.
type ReferenceStore struct {
	db dbinterface.Querier
}

func NewReferenceStore(db dbinterface.Querier) *ReferenceStore {
	return &ReferenceStore{db: db}
}

// Replace swaps the reference set of a file for the newly resolved one.
// There is no incremental reconciliation: the old set is deleted and the
// new one inserted, so it must run inside the scan transaction.
func (s *ReferenceStore) Replace(ctx context.Context, fileID int64, refs []Reference) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM file_analyzer_references WHERE file_id = ?
	`, fileID); err != nil {
		return fmt.Errorf("clear references for file %d: %w", fileID, err)
	}

	now := time.Now()
	for _, ref := range refs {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO file_analyzer_references
				(file_id, reference_type, entity_table, entity_id, field_name,
				 details, last_verified_date, is_active)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1)
		`, fileID, ref.ReferenceType, ref.EntityTable, nullInt64(ref.EntityID),
			ref.FieldName, nullString(ref.Details), now); err != nil {
			return fmt.Errorf("insert reference for file %d: %w", fileID, err)
		}
	}

	return nil
}

// ByFile returns the active references of a file.
func (s *ReferenceStore) ByFile(ctx context.Context, fileID int64) ([]Reference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, file_id, reference_type, entity_table, entity_id, field_name,
		       COALESCE(details, ''), created_date, last_verified_date, is_active
		FROM file_analyzer_references
		WHERE file_id = ? AND is_active = 1
		ORDER BY id
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("query references for file %d: %w", fileID, err)
	}
	defer rows.Close()

	var out []Reference
	for rows.Next() {
		var (
			ref      Reference
			entityID sql.NullInt64
			verified sql.NullTime
		)
		if err := rows.Scan(
			&ref.ID, &ref.FileID, &ref.ReferenceType, &ref.EntityTable,
			&entityID, &ref.FieldName, &ref.Details,
			&ref.CreatedDate, &verified, &ref.IsActive,
		); err != nil {
			return nil, err
		}
		ref.EntityID = int64Ptr(entityID)
		ref.LastVerifiedDate = timePtr(verified)
		out = append(out, ref)
	}
	return out, rows.Err()
}

// CountByType groups a file's active references by type.
func (s *ReferenceStore) CountByType(ctx context.Context, fileID int64) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reference_type, COUNT(*)
		FROM file_analyzer_references
		WHERE file_id = ? AND is_active = 1
		GROUP BY reference_type
	`, fileID)
	if err != nil {
		return nil, fmt.Errorf("count references for file %d: %w", fileID, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			refType string
			count   int
		)
		if err := rows.Scan(&refType, &count); err != nil {
			return nil, err
		}
		out[refType] = count
	}
	return out, rows.Err()
}
