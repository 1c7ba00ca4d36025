// Copyright (c) 2025-2026, the fileanalyzer contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface holds the database interfaces shared by the stores
// and the database implementation, keeping both free of import cycles.
package dbinterface

import (
	"context"
	"database/sql"
)

// Querier is the common interface for running queries. It is satisfied by
// *sql.DB, *sql.Tx and *database.DB, which lets stores run the same code
// inside and outside of a transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxBeginner is implemented by handles that can open transactions.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
