// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb provides test databases preloaded with the analyzer
// schema plus the subset of the CiviCRM core schema the reference resolver
// queries against.
package testdb

import (
	"context"
	"testing"

	"github.com/civitools/fileanalyzer/internal/database"
)

// The reference sources consulted by the resolver. Only the columns the
// resolver touches are modeled.
const civiSchema = `
CREATE TABLE civicrm_file (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    uri TEXT NOT NULL,
    mime_type TEXT
);

CREATE TABLE civicrm_entity_file (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entity_table TEXT NOT NULL,
    entity_id INTEGER NOT NULL,
    file_id INTEGER NOT NULL
);

CREATE TABLE civicrm_custom_group (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT,
    extends TEXT NOT NULL,
    table_name TEXT
);

CREATE TABLE civicrm_custom_field (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    custom_group_id INTEGER NOT NULL,
    label TEXT NOT NULL,
    data_type TEXT NOT NULL,
    column_name TEXT NOT NULL
);

CREATE TABLE civicrm_contact (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    display_name TEXT,
    image_URL TEXT
);

CREATE TABLE civicrm_contribution_page (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT,
    intro_text TEXT,
    thankyou_text TEXT,
    footer_text TEXT
);

CREATE TABLE civicrm_event (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT,
    description TEXT,
    intro_text TEXT
);

CREATE TABLE civicrm_msg_template (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    msg_title TEXT,
    msg_html TEXT
);
`

// Open creates a fresh migrated database in the test's temp dir with the
// CiviCRM fixture tables installed.
func Open(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.New(t.TempDir() + "/fileanalyzer.db")
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.ExecContext(context.Background(), civiSchema); err != nil {
		t.Fatalf("install civicrm fixture schema: %v", err)
	}

	return db
}

// Exec runs a statement and fails the test on error.
func Exec(t *testing.T, db *database.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.ExecContext(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
